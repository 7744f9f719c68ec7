package workflow

import (
	"context"

	"github.com/nyimbi/stateflow/internal/domain/entity"
)

// HookContext is the stable payload passed to transition hooks
type HookContext struct {
	Instance *entity.Instance
	Actor    entity.Actor
	Request  *entity.RequestContext
}

// BeforeTransitionHook runs before the state mutation. An error aborts the
// transition with no visible state change.
type BeforeTransitionHook interface {
	// Name identifies the hook in definitions and exports
	Name() string

	// Before runs the hook
	Before(ctx context.Context, hc HookContext) error
}

// AfterTransitionHook runs after the state mutation. On transitions
// configured with rollback it runs inside the same unit of work as the
// mutation; otherwise its errors are logged only.
type AfterTransitionHook interface {
	// Name identifies the hook in definitions and exports
	Name() string

	// After runs the hook
	After(ctx context.Context, hc HookContext) error
}

// BeforeFunc adapts a function to BeforeTransitionHook
type BeforeFunc struct {
	HookName string
	Fn       func(ctx context.Context, hc HookContext) error
}

// Name identifies the hook
func (h BeforeFunc) Name() string { return h.HookName }

// Before runs the wrapped function
func (h BeforeFunc) Before(ctx context.Context, hc HookContext) error {
	return h.Fn(ctx, hc)
}

// AfterFunc adapts a function to AfterTransitionHook
type AfterFunc struct {
	HookName string
	Fn       func(ctx context.Context, hc HookContext) error
}

// Name identifies the hook
func (h AfterFunc) Name() string { return h.HookName }

// After runs the wrapped function
func (h AfterFunc) After(ctx context.Context, hc HookContext) error {
	return h.Fn(ctx, hc)
}

// HookRegistry resolves hook names from serialized definitions to
// registered implementations. Populated at process start, read-only after.
type HookRegistry struct {
	before map[string]BeforeTransitionHook
	after  map[string]AfterTransitionHook
}

// NewHookRegistry creates a registry from the given named hooks
func NewHookRegistry(before []BeforeTransitionHook, after []AfterTransitionHook) *HookRegistry {
	r := &HookRegistry{
		before: make(map[string]BeforeTransitionHook, len(before)),
		after:  make(map[string]AfterTransitionHook, len(after)),
	}
	for _, h := range before {
		r.before[h.Name()] = h
	}
	for _, h := range after {
		r.after[h.Name()] = h
	}
	return r
}

// LookupBefore returns the named before hook
func (r *HookRegistry) LookupBefore(name string) (BeforeTransitionHook, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.before[name]
	return h, ok
}

// LookupAfter returns the named after hook
func (r *HookRegistry) LookupAfter(name string) (AfterTransitionHook, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.after[name]
	return h, ok
}
