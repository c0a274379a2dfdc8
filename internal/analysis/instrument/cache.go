package instrument

import (
	"context"
	"fmt"

	"github.com/jvmscope/jvmscope/internal/model"
)

// ClassMetadataSource answers what the agent reported about loaded classes.
// The planner only reads from it.
type ClassMetadataSource interface {
	// FetchClassMetadata returns nil when the class was never reported.
	FetchClassMetadata(ctx context.Context, jvm model.AgentJVM, className string) (*model.ClassMetadata, error)
	FetchBlacklistedClasses(ctx context.Context, jvm model.AgentJVM) (map[string]struct{}, error)
}

// Cache is the cycle-scoped scratch space of the planner: class metadata
// fetched at most once per class, the frames already resolved in this cycle
// and the instrumented-frame memo. A Cache must not outlive the cycle that
// created it.
type Cache struct {
	jvm          model.AgentJVM
	source       ClassMetadataSource
	classes      map[string]*model.ClassMetadata
	visited      map[model.MethodRef]struct{}
	instrumented *InstrumentedFrames
	fetches      int
}

// NewCache returns an empty cache for one cycle of jvm.
func NewCache(jvm model.AgentJVM, source ClassMetadataSource) *Cache {
	return &Cache{
		jvm:     jvm,
		source:  source,
		classes: make(map[string]*model.ClassMetadata),
		visited: make(map[model.MethodRef]struct{}),
	}
}

// WithInstrumented shares the cycle's instrumented-frame memo with the
// planner. Without it Plan derives one from the previous configuration.
func (c *Cache) WithInstrumented(frames *InstrumentedFrames) *Cache {
	c.instrumented = frames
	return c
}

// Class returns the metadata of className, or nil when unknown.
func (c *Cache) Class(ctx context.Context, className string) (*model.ClassMetadata, error) {
	if meta, ok := c.classes[className]; ok {
		return meta, nil
	}
	c.fetches++
	meta, err := c.source.FetchClassMetadata(ctx, c.jvm, className)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch class metadata for %s: %w", className, err)
	}
	c.classes[className] = meta
	return meta, nil
}

// Visit marks a frame's method as handled and reports whether it was new.
func (c *Cache) Visit(m model.MethodRef) bool {
	if _, ok := c.visited[m]; ok {
		return false
	}
	c.visited[m] = struct{}{}
	return true
}

// Fetches returns how many lookups reached the source.
func (c *Cache) Fetches() int {
	return c.fetches
}

// blacklistedClasses returns the cached classes whose metadata marks them
// blacklisted.
func (c *Cache) blacklistedClasses() []string {
	var out []string
	for name, meta := range c.classes {
		if meta != nil && meta.Blacklisted {
			out = append(out, name)
		}
	}
	return out
}
