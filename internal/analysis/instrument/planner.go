// Package instrument decides which methods an agent instruments next.
package instrument

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/jvmscope/jvmscope/internal/model"
)

// Plan is the outcome of one planning pass.
type Plan struct {
	Config model.InstrumentationConfiguration
	// Added lists the methods selected in this pass, sorted.
	Added []model.MethodID
	// Removed counts previously instrumented methods dropped by the
	// blacklist.
	Removed int
	// MissingSignatures maps internal class names to the method names whose
	// signatures are not yet known, sorted.
	MissingSignatures map[string][]string
	// Changed is false when Config equals the previous configuration.
	Changed bool
}

// Planner computes incremental instrumentation configurations.
type Planner struct {
	logger zerolog.Logger
}

// NewPlanner creates a planner.
func NewPlanner(logger zerolog.Logger) *Planner {
	return &Planner{
		logger: logger.With().Str("component", "instrumentation_planner").Logger(),
	}
}

// Plan extends previous with the instrumentable frames found in threads that
// are not instrumented yet, then drops every blacklisted class. previous is
// never modified.
func (p *Planner) Plan(
	ctx context.Context,
	cache *Cache,
	threads map[string]model.ThreadMetadata,
	previous model.InstrumentationConfiguration,
) (*Plan, error) {
	blacklist, err := cache.source.FetchBlacklistedClasses(ctx, cache.jvm)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch blacklisted classes: %w", err)
	}

	if cache.instrumented == nil {
		cache.instrumented = NewInstrumentedFrames(previous)
	}

	cfg := previous.Clone()
	var added []model.MethodID
	missing := make(map[string]map[string]struct{})

	ids := make([]string, 0, len(threads))
	for id := range threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		for _, frame := range threads[id].Stack {
			if !frame.Instrumentable || cache.instrumented.Contains(frame) {
				continue
			}
			ref := frame.Method()
			if !cache.Visit(ref) {
				continue
			}
			if _, ok := blacklist[ref.ClassName]; ok {
				continue
			}

			meta, err := cache.Class(ctx, ref.ClassName)
			if err != nil {
				return nil, err
			}
			if meta != nil && meta.Blacklisted {
				continue
			}

			var signatures []string
			if meta != nil {
				signatures = meta.Signatures[ref.MethodName]
			}
			if len(signatures) == 0 {
				internal := model.InternalClassName(ref.ClassName)
				if missing[internal] == nil {
					missing[internal] = make(map[string]struct{})
				}
				missing[internal][ref.MethodName] = struct{}{}
				continue
			}

			// A frame does not say which overload ran.
			for _, sig := range signatures {
				m := model.MethodID{ClassName: ref.ClassName, MethodName: ref.MethodName, Signature: sig}
				if cfg.Add(m) {
					added = append(added, m)
				}
			}
		}
	}

	removed := 0
	for _, cls := range cfg.Classes() {
		if _, ok := blacklist[cls]; ok {
			removed += cfg.RemoveClass(cls)
		}
	}
	for _, cls := range cache.blacklistedClasses() {
		removed += cfg.RemoveClass(cls)
	}
	if removed > 0 {
		p.logger.Debug().
			Str("jvm", cache.jvm.String()).
			Int("removed", removed).
			Msg("Dropped blacklisted methods from instrumentation")
	}

	plan := &Plan{
		Config:            cfg,
		Added:             keepInstrumented(added, cfg),
		Removed:           removed,
		MissingSignatures: flattenMissing(missing),
		Changed:           !cfg.Equal(previous),
	}
	return plan, nil
}

func keepInstrumented(added []model.MethodID, cfg model.InstrumentationConfiguration) []model.MethodID {
	out := added[:0]
	for _, m := range added {
		if cfg.Contains(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func flattenMissing(missing map[string]map[string]struct{}) map[string][]string {
	if len(missing) == 0 {
		return nil
	}
	out := make(map[string][]string, len(missing))
	for cls, methods := range missing {
		names := make([]string, 0, len(methods))
		for m := range methods {
			names = append(names, m)
		}
		sort.Strings(names)
		out[cls] = names
	}
	return out
}
