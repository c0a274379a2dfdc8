package instrument

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jvmscope/jvmscope/internal/model"
)

func TestInstrumentedFrames_Contains(t *testing.T) {
	config := model.NewInstrumentationConfiguration(model.MethodID{ClassName: "com/acme/Repo", MethodName: "load", Signature: "(J)V"})
	frames := NewInstrumentedFrames(config)

	tests := []struct {
		name  string
		frame model.StackElement
		want  bool
	}{
		{"flagged by agent", model.StackElement{ClassName: "com.acme.Web", MethodName: "handle", Instrumented: true}, true},
		{"configured binary name", model.StackElement{ClassName: "com.acme.Repo", MethodName: "load"}, true},
		{"configured internal name", model.StackElement{ClassName: "com/acme/Repo", MethodName: "load"}, true},
		{"other method", model.StackElement{ClassName: "com.acme.Repo", MethodName: "save"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, frames.Contains(tt.frame))
		})
	}
	assert.Equal(t, 1, frames.Hits())
}

func TestInstrumentedFrames_SnapshotsConfiguration(t *testing.T) {
	config := model.NewInstrumentationConfiguration()
	frames := NewInstrumentedFrames(config)
	config.Add(model.MethodID{ClassName: "com.acme.Repo", MethodName: "load", Signature: "(J)V"})

	assert.False(t, frames.Contains(model.StackElement{ClassName: "com.acme.Repo", MethodName: "load"}))
}

func TestInstrumentedFrames_NilTrustsFlag(t *testing.T) {
	var frames *InstrumentedFrames
	thread := model.ThreadMetadata{Stack: []model.StackElement{
		{ClassName: "com.acme.Repo", MethodName: "load"},
		{ClassName: "com.acme.Web", MethodName: "handle", Instrumented: true},
	}}
	assert.True(t, frames.Any(thread))
	assert.False(t, frames.Contains(thread.Stack[0]))
	assert.Zero(t, frames.Hits())
}
