package aggregate

import (
	"encoding/hex"
	"regexp"
	"strconv"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/jvmscope/jvmscope/internal/model"
)

var (
	// Runtime-generated class names carry per-process counters and addresses.
	lambdaSuffix = regexp.MustCompile(`\$\$Lambda\$?[0-9]*(/0x[0-9a-fA-F]+)?(/[0-9]+)?$`)
	proxySuffix  = regexp.MustCompile(`\$\$((?:EnhancerBy|FastClassBy|SpringCGLIB|ByteBuddy|HibernateProxy)[A-Za-z]*)\$\$[0-9a-fA-F]+.*$`)
	jdkProxy     = regexp.MustCompile(`^(jdk\.proxy[0-9]+\.|com\.sun\.proxy\.)\$Proxy[0-9]+$`)
)

// NormalizeClassName strips the run-specific parts of generated class names
// so that identical code produces identical metadata across JVM restarts.
func NormalizeClassName(name string) string {
	name = strings.TrimSpace(name)
	if jdkProxy.MatchString(name) {
		return "$Proxy"
	}
	if loc := proxySuffix.FindStringSubmatchIndex(name); loc != nil {
		return name[:loc[0]] + "$$" + name[loc[2]:loc[3]]
	}
	return lambdaSuffix.ReplaceAllString(name, "$$$$Lambda")
}

// NormalizeStack returns a copy of stack with class and method names
// normalized. Facts are preserved.
func NormalizeStack(stack []model.StackElement) []model.StackElement {
	out := make([]model.StackElement, len(stack))
	for i, e := range stack {
		e.ClassName = NormalizeClassName(e.ClassName)
		e.MethodName = strings.TrimSpace(e.MethodName)
		e.FileName = strings.TrimSpace(e.FileName)
		out[i] = e
	}
	return out
}

func normalizeMethod(m model.MethodRef) model.MethodRef {
	if m.IsZero() {
		return m
	}
	return model.MethodRef{
		ClassName:  NormalizeClassName(m.ClassName),
		MethodName: strings.TrimSpace(m.MethodName),
	}
}

type contentHasher struct {
	h *xxh3.Hasher
}

func newContentHasher(kind string) contentHasher {
	c := contentHasher{h: xxh3.New()}
	c.field(kind)
	return c
}

func (c contentHasher) field(s string) {
	_, _ = c.h.WriteString(s)
	_, _ = c.h.Write([]byte{0})
}

func (c contentHasher) id() string {
	sum := c.h.Sum128().Bytes()
	return hex.EncodeToString(sum[:])
}

// ThreadID computes the content address of a thread stack. Only the state
// and the frame content take part; thread names and accumulated facts do
// not.
func ThreadID(meta model.ThreadMetadata) string {
	c := newContentHasher("thread")
	c.field(meta.State)
	c.field(strconv.Itoa(len(meta.Stack)))
	for _, e := range meta.Stack {
		c.field(e.ClassName)
		c.field(e.MethodName)
		c.field(e.FileName)
		c.field(strconv.Itoa(e.LineNumber))
	}
	return c.id()
}

// FlowID computes the content address of a flow edge.
func FlowID(meta model.FlowMetadata) string {
	c := newContentHasher("flow")
	c.field(meta.Caller.ClassName)
	c.field(meta.Caller.MethodName)
	c.field(meta.Callee.ClassName)
	c.field(meta.Callee.MethodName)
	return c.id()
}
