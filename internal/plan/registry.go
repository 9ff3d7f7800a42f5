package plan

import "context"

// Func is an operation implementation. Args come straight from the step,
// so implementations validate their own argument shapes.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Registry maps stable string operation identifiers to implementations.
// It is populated explicitly at process startup — there is no reflective
// or dynamic dispatch, so stale or untrusted plan files can only invoke
// what the host chose to expose.
type Registry struct {
	ops map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]Func)}
}

// Register binds an operation identifier to its implementation.
// Re-registering an identifier replaces the previous binding.
func (r *Registry) Register(name string, fn Func) {
	r.ops[name] = fn
}

// Lookup resolves an operation identifier.
func (r *Registry) Lookup(name string) (Func, bool) {
	fn, ok := r.ops[name]
	return fn, ok
}
