package model

import "strings"

// MethodRef names a method by its declaring class.
type MethodRef struct {
	ClassName  string `json:"class_name"`
	MethodName string `json:"method_name"`
}

// IsZero reports whether the reference is empty. An empty caller marks an
// entry point in flow metadata.
func (m MethodRef) IsZero() bool {
	return m.ClassName == "" && m.MethodName == ""
}

func (m MethodRef) String() string {
	if m.IsZero() {
		return "<entry>"
	}
	return m.ClassName + "." + m.MethodName
}

// InternalClassName converts a binary class name (com.acme.Foo$Bar) to the
// JVM internal form (com/acme/Foo$Bar).
func InternalClassName(className string) string {
	return strings.ReplaceAll(className, ".", "/")
}

// StackElement is one frame of a sampled stack.
//
// ClassName, MethodName, FileName and LineNumber form the frame's content.
// Instrumentable and Instrumented are facts reported by the agent and are
// accumulated with logical OR when metadata records are merged.
type StackElement struct {
	ClassName      string `json:"class_name"`
	MethodName     string `json:"method_name"`
	FileName       string `json:"file_name,omitempty"`
	LineNumber     int    `json:"line_number"`
	Instrumentable bool   `json:"instrumentable,omitempty"`
	Instrumented   bool   `json:"instrumented,omitempty"`
}

// Method returns the frame's method reference.
func (e StackElement) Method() MethodRef {
	return MethodRef{ClassName: e.ClassName, MethodName: e.MethodName}
}

// SameFrame compares frame content, ignoring accumulated facts.
func (e StackElement) SameFrame(o StackElement) bool {
	return e.ClassName == o.ClassName &&
		e.MethodName == o.MethodName &&
		e.FileName == o.FileName &&
		e.LineNumber == o.LineNumber
}

// ThreadMetadata is the canonical description of a sampled thread stack.
// ThreadName is informational; identity is the state plus the frames.
type ThreadMetadata struct {
	ID         string         `json:"id"`
	ThreadName string         `json:"thread_name,omitempty"`
	State      string         `json:"state"`
	Stack      []StackElement `json:"stack"`
}

// SameContent reports whether two records describe the same stack.
func (t ThreadMetadata) SameContent(o ThreadMetadata) bool {
	if t.State != o.State || len(t.Stack) != len(o.Stack) {
		return false
	}
	for i := range t.Stack {
		if !t.Stack[i].SameFrame(o.Stack[i]) {
			return false
		}
	}
	return true
}

// Merge folds the facts of o into a copy of t. Both records must describe
// the same content; frames are combined position by position. The
// operation is idempotent and commutative over the accumulated facts.
// The thread name keeps the lexically smallest non-empty value so that the
// result does not depend on merge order.
func (t ThreadMetadata) Merge(o ThreadMetadata) ThreadMetadata {
	out := t
	out.Stack = make([]StackElement, len(t.Stack))
	copy(out.Stack, t.Stack)
	for i := range out.Stack {
		if i >= len(o.Stack) {
			break
		}
		out.Stack[i].Instrumentable = out.Stack[i].Instrumentable || o.Stack[i].Instrumentable
		out.Stack[i].Instrumented = out.Stack[i].Instrumented || o.Stack[i].Instrumented
	}
	if out.ThreadName == "" || (o.ThreadName != "" && o.ThreadName < out.ThreadName) {
		out.ThreadName = o.ThreadName
	}
	return out
}

// FlowMetadata is the canonical description of a caller to callee edge.
type FlowMetadata struct {
	ID     string    `json:"id"`
	Caller MethodRef `json:"caller"`
	Callee MethodRef `json:"callee"`
}

// SameContent reports whether two records describe the same edge.
func (f FlowMetadata) SameContent(o FlowMetadata) bool {
	return f.Caller == o.Caller && f.Callee == o.Callee
}

// ClassMetadata is what the agent reported about a loaded class.
type ClassMetadata struct {
	ClassName   string `json:"class_name"`
	Blacklisted bool   `json:"blacklisted"`
	// Signatures maps a method name to the JVM descriptors of its overloads.
	Signatures map[string][]string `json:"signatures,omitempty"`
}
