package crud

import (
	"context"
	"sync"
)

// Revalidator refreshes views that depend on mutated data.
type Revalidator interface {
	Revalidate(ctx context.Context, views ...string)
}

// Views is an in-process Revalidator. Each revalidation bumps the view's
// version and calls its subscribers.
type Views struct {
	mu       sync.Mutex
	versions map[string]int
	subs     map[string][]func(ctx context.Context)
}

// NewViews returns an empty view registry.
func NewViews() *Views {
	return &Views{
		versions: make(map[string]int),
		subs:     make(map[string][]func(ctx context.Context)),
	}
}

// OnRevalidate registers fn for view.
func (v *Views) OnRevalidate(view string, fn func(ctx context.Context)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.subs[view] = append(v.subs[view], fn)
}

// Version returns how many times view has been revalidated.
func (v *Views) Version(view string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.versions[view]
}

// Revalidate implements Revalidator.
func (v *Views) Revalidate(ctx context.Context, views ...string) {
	var fns []func(ctx context.Context)
	v.mu.Lock()
	for _, view := range views {
		v.versions[view]++
		fns = append(fns, v.subs[view]...)
	}
	v.mu.Unlock()
	for _, fn := range fns {
		fn(ctx)
	}
}
