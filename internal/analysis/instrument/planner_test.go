package instrument

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvmscope/jvmscope/internal/model"
)

type fakeClasses struct {
	classes   map[string]*model.ClassMetadata
	blacklist map[string]struct{}
	calls     map[string]int
	err       error
}

func newFakeClasses() *fakeClasses {
	return &fakeClasses{
		classes:   make(map[string]*model.ClassMetadata),
		blacklist: make(map[string]struct{}),
		calls:     make(map[string]int),
	}
}

func (f *fakeClasses) FetchClassMetadata(_ context.Context, _ model.AgentJVM, className string) (*model.ClassMetadata, error) {
	f.calls[className]++
	if f.err != nil {
		return nil, f.err
	}
	return f.classes[className], nil
}

func (f *fakeClasses) FetchBlacklistedClasses(context.Context, model.AgentJVM) (map[string]struct{}, error) {
	return f.blacklist, nil
}

var testJVM = model.AgentJVM{AccountID: "a", AgentID: "b", JVMID: "c"}

func instrumentable(class, method string) model.StackElement {
	return model.StackElement{ClassName: class, MethodName: method, Instrumentable: true}
}

func threadsOf(stacks ...[]model.StackElement) map[string]model.ThreadMetadata {
	out := make(map[string]model.ThreadMetadata)
	for i, s := range stacks {
		id := string(rune('a' + i))
		out[id] = model.ThreadMetadata{ID: id, Stack: s}
	}
	return out
}

func plan(t *testing.T, src *fakeClasses, threads map[string]model.ThreadMetadata, prev model.InstrumentationConfiguration) *Plan {
	t.Helper()
	p := NewPlanner(zerolog.Nop())
	out, err := p.Plan(context.Background(), NewCache(testJVM, src), threads, prev)
	require.NoError(t, err)
	return out
}

func TestPlan_AddsAllOverloads(t *testing.T) {
	src := newFakeClasses()
	src.classes["com.acme.Repo"] = &model.ClassMetadata{
		ClassName: "com.acme.Repo",
		Signatures: map[string][]string{
			"load": {"(J)Lcom/acme/Order;", "(Ljava/lang/String;)Lcom/acme/Order;"},
		},
	}

	out := plan(t, src, threadsOf([]model.StackElement{instrumentable("com.acme.Repo", "load")}), model.NewInstrumentationConfiguration())

	assert.True(t, out.Changed)
	assert.Equal(t, 2, out.Config.Len())
	assert.Len(t, out.Added, 2)
	assert.Empty(t, out.MissingSignatures)
}

func TestPlan_SkipsNonInstrumentableAndInstrumented(t *testing.T) {
	src := newFakeClasses()
	already := instrumentable("com.acme.A", "run")
	already.Instrumented = true

	out := plan(t, src, threadsOf([]model.StackElement{
		{ClassName: "java.lang.Thread", MethodName: "run"},
		already,
	}), model.NewInstrumentationConfiguration())

	assert.False(t, out.Changed)
	assert.Empty(t, src.calls)
}

func TestPlan_MissingSignaturesBatchedByInternalName(t *testing.T) {
	src := newFakeClasses()
	src.classes["com.acme.Known"] = &model.ClassMetadata{ClassName: "com.acme.Known"}

	out := plan(t, src, threadsOf(
		[]model.StackElement{instrumentable("com.acme.Unknown", "a"), instrumentable("com.acme.Unknown", "b")},
		[]model.StackElement{instrumentable("com.acme.Unknown", "a"), instrumentable("com.acme.Known", "x")},
	), model.NewInstrumentationConfiguration())

	assert.False(t, out.Changed)
	assert.Equal(t, map[string][]string{
		"com/acme/Unknown": {"a", "b"},
		"com/acme/Known":   {"x"},
	}, out.MissingSignatures)
}

func TestPlan_ClassFetchedOncePerCycle(t *testing.T) {
	src := newFakeClasses()
	src.classes["com.acme.S"] = &model.ClassMetadata{
		ClassName:  "com.acme.S",
		Signatures: map[string][]string{"a": {"()V"}, "b": {"()V"}},
	}

	stack := []model.StackElement{instrumentable("com.acme.S", "a"), instrumentable("com.acme.S", "b")}
	cache := NewCache(testJVM, src)
	_, err := NewPlanner(zerolog.Nop()).Plan(context.Background(), cache, threadsOf(stack, stack, stack), model.NewInstrumentationConfiguration())
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls["com.acme.S"])
	assert.Equal(t, 1, cache.Fetches())
}

func TestPlan_NeverRemovesWithoutBlacklist(t *testing.T) {
	src := newFakeClasses()
	prev := model.NewInstrumentationConfiguration(
		model.MethodID{ClassName: "com.acme.Old", MethodName: "run", Signature: "()V"},
	)
	src.classes["com.acme.New"] = &model.ClassMetadata{Signatures: map[string][]string{"go": {"()V"}}}

	out := plan(t, src, threadsOf([]model.StackElement{instrumentable("com.acme.New", "go")}), prev)

	for _, m := range prev.Sorted() {
		assert.True(t, out.Config.Contains(m))
	}
	assert.Equal(t, 2, out.Config.Len())
	assert.Equal(t, 1, prev.Len(), "previous configuration is not modified")
}

func TestPlan_BlacklistWins(t *testing.T) {
	old := model.MethodID{ClassName: "com.acme.Hot", MethodName: "spin", Signature: "()V"}
	prev := model.NewInstrumentationConfiguration(old)

	tests := []struct {
		name  string
		setup func(src *fakeClasses)
	}{
		{
			name: "blacklisted class set",
			setup: func(src *fakeClasses) {
				src.blacklist["com.acme.Hot"] = struct{}{}
			},
		},
		{
			name: "class metadata flag",
			setup: func(src *fakeClasses) {
				src.classes["com.acme.Hot"] = &model.ClassMetadata{
					ClassName:   "com.acme.Hot",
					Blacklisted: true,
					Signatures:  map[string][]string{"spin": {"()V"}, "other": {"()V"}},
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeClasses()
			tt.setup(src)

			out := plan(t, src, threadsOf([]model.StackElement{
				instrumentable("com.acme.Hot", "spin"),
				instrumentable("com.acme.Hot", "other"),
			}), prev)

			assert.False(t, out.Config.Contains(old))
			assert.Zero(t, out.Config.Len())
			assert.Equal(t, 1, out.Removed)
			assert.True(t, out.Changed)
			assert.Empty(t, out.MissingSignatures)
		})
	}
}

func TestPlan_UnchangedWhenNothingNew(t *testing.T) {
	m := model.MethodID{ClassName: "com.acme.A", MethodName: "run", Signature: "()V"}
	src := newFakeClasses()
	src.classes["com.acme.A"] = &model.ClassMetadata{Signatures: map[string][]string{"run": {"()V"}}}

	out := plan(t, src, threadsOf([]model.StackElement{instrumentable("com.acme.A", "run")}), model.NewInstrumentationConfiguration(m))

	assert.False(t, out.Changed)
	assert.Empty(t, out.Added)
}

func TestPlan_SourceError(t *testing.T) {
	src := newFakeClasses()
	src.err = errors.New("store down")

	p := NewPlanner(zerolog.Nop())
	_, err := p.Plan(context.Background(), NewCache(testJVM, src),
		threadsOf([]model.StackElement{instrumentable("com.acme.A", "run")}), model.NewInstrumentationConfiguration())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")
}

func TestPlan_SkipsMethodsAlreadyConfigured(t *testing.T) {
	src := newFakeClasses()
	src.classes["com.acme.Repo"] = &model.ClassMetadata{
		ClassName:  "com.acme.Repo",
		Signatures: map[string][]string{"load": {"(J)V"}, "save": {"(J)V"}},
	}
	prev := model.NewInstrumentationConfiguration(model.MethodID{ClassName: "com/acme/Repo", MethodName: "load", Signature: "(J)V"})
	threads := threadsOf([]model.StackElement{instrumentable("com.acme.Repo", "load")})

	cache := NewCache(testJVM, src)
	out, err := NewPlanner(zerolog.Nop()).Plan(context.Background(), cache, threads, prev)
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Empty(t, out.Added)
	assert.Zero(t, src.calls["com.acme.Repo"], "configured method needs no class lookup")
}

func TestPlan_SharesInstrumentedFrames(t *testing.T) {
	src := newFakeClasses()
	prev := model.NewInstrumentationConfiguration(model.MethodID{ClassName: "com.acme.Repo", MethodName: "load", Signature: "(J)V"})
	frames := NewInstrumentedFrames(prev)
	threads := threadsOf([]model.StackElement{instrumentable("com.acme.Repo", "load")})

	_, err := NewPlanner(zerolog.Nop()).Plan(context.Background(), NewCache(testJVM, src).WithInstrumented(frames), threads, prev)
	require.NoError(t, err)
	assert.Equal(t, 1, frames.Hits())
}
