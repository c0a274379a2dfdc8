package model

import (
	"encoding/json"
	"sort"
)

// MethodID identifies one instrumentable method overload.
type MethodID struct {
	ClassName  string `json:"class_name"`
	MethodName string `json:"method_name"`
	Signature  string `json:"signature"`
}

func (m MethodID) String() string {
	return m.ClassName + "." + m.MethodName + m.Signature
}

func (m MethodID) less(o MethodID) bool {
	if m.ClassName != o.ClassName {
		return m.ClassName < o.ClassName
	}
	if m.MethodName != o.MethodName {
		return m.MethodName < o.MethodName
	}
	return m.Signature < o.Signature
}

// InstrumentationConfiguration is the set of methods an agent instruments.
// The zero value is an empty configuration ready to use.
type InstrumentationConfiguration struct {
	methods map[MethodID]struct{}
}

// NewInstrumentationConfiguration returns a configuration holding methods.
func NewInstrumentationConfiguration(methods ...MethodID) InstrumentationConfiguration {
	c := InstrumentationConfiguration{methods: make(map[MethodID]struct{}, len(methods))}
	for _, m := range methods {
		c.methods[m] = struct{}{}
	}
	return c
}

// Len returns the number of instrumented methods.
func (c InstrumentationConfiguration) Len() int {
	return len(c.methods)
}

// Contains reports whether m is instrumented.
func (c InstrumentationConfiguration) Contains(m MethodID) bool {
	_, ok := c.methods[m]
	return ok
}

// ContainsMethod reports whether any overload of ref is instrumented. Class
// names match in either binary or internal form.
func (c InstrumentationConfiguration) ContainsMethod(ref MethodRef) bool {
	class := InternalClassName(ref.ClassName)
	for m := range c.methods {
		if m.MethodName == ref.MethodName && InternalClassName(m.ClassName) == class {
			return true
		}
	}
	return false
}

// Add inserts m and reports whether it was not already present.
func (c *InstrumentationConfiguration) Add(m MethodID) bool {
	if c.methods == nil {
		c.methods = make(map[MethodID]struct{})
	}
	if _, ok := c.methods[m]; ok {
		return false
	}
	c.methods[m] = struct{}{}
	return true
}

// RemoveClass drops every method declared by className and returns how many
// were removed.
func (c *InstrumentationConfiguration) RemoveClass(className string) int {
	removed := 0
	for m := range c.methods {
		if m.ClassName == className {
			delete(c.methods, m)
			removed++
		}
	}
	return removed
}

// Classes returns the distinct declaring classes, sorted.
func (c InstrumentationConfiguration) Classes() []string {
	seen := make(map[string]struct{})
	for m := range c.methods {
		seen[m.ClassName] = struct{}{}
	}
	classes := make([]string, 0, len(seen))
	for cls := range seen {
		classes = append(classes, cls)
	}
	sort.Strings(classes)
	return classes
}

// Equal compares the full method sets.
func (c InstrumentationConfiguration) Equal(o InstrumentationConfiguration) bool {
	if len(c.methods) != len(o.methods) {
		return false
	}
	for m := range c.methods {
		if _, ok := o.methods[m]; !ok {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (c InstrumentationConfiguration) Clone() InstrumentationConfiguration {
	out := InstrumentationConfiguration{methods: make(map[MethodID]struct{}, len(c.methods))}
	for m := range c.methods {
		out.methods[m] = struct{}{}
	}
	return out
}

// Sorted returns the methods ordered by class, method and signature.
func (c InstrumentationConfiguration) Sorted() []MethodID {
	out := make([]MethodID, 0, len(c.methods))
	for m := range c.methods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].less(out[j]) })
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (c InstrumentationConfiguration) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Sorted())
}

// UnmarshalJSON decodes an array of methods.
func (c *InstrumentationConfiguration) UnmarshalJSON(data []byte) error {
	var methods []MethodID
	if err := json.Unmarshal(data, &methods); err != nil {
		return err
	}
	*c = NewInstrumentationConfiguration(methods...)
	return nil
}
