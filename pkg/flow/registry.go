// SPDX-License-Identifier: Apache-2.0

package flow

import (
	"context"
	"sort"
	"sync"

	"github.com/jllopis/flowgate/pkg/errors"
)

// Action is a named, invokable unit of work. Run receives the full request
// so actions can consult forwarded headers; cb is nil for unary calls.
type Action interface {
	Name() string
	Run(ctx context.Context, req *Request, cb StreamCallback) (*Result, error)
}

// ActionFunc adapts a plain function to the Action interface.
func ActionFunc(name string, fn func(ctx context.Context, req *Request, cb StreamCallback) (*Result, error)) Action {
	return &funcAction{name: name, fn: fn}
}

type funcAction struct {
	name string
	fn   func(ctx context.Context, req *Request, cb StreamCallback) (*Result, error)
}

func (a *funcAction) Name() string { return a.name }

func (a *funcAction) Run(ctx context.Context, req *Request, cb StreamCallback) (*Result, error) {
	return a.fn(ctx, req, cb)
}

// Resolver resolves actions by name at call time. Resolvers back dynamic
// dispatch for flows that are not pre-registered; lookup is explicit, never
// reflection based.
type Resolver interface {
	ResolveAction(ctx context.Context, name string) (Action, bool)
}

// Registry holds registered actions and consults fallback resolvers, in
// order, for names it does not know. It implements Executor so it can sit
// directly behind the gateway.
type Registry struct {
	mu        sync.RWMutex
	actions   map[string]Action
	resolvers []Resolver
}

// NewRegistry creates a registry with optional fallback resolvers.
func NewRegistry(resolvers ...Resolver) *Registry {
	filtered := make([]Resolver, 0, len(resolvers))
	for _, resolver := range resolvers {
		if resolver != nil {
			filtered = append(filtered, resolver)
		}
	}
	return &Registry{
		actions:   make(map[string]Action),
		resolvers: filtered,
	}
}

// Register adds an action under its name. Registering a duplicate name is an
// ALREADY_EXISTS failure.
func (r *Registry) Register(action Action) error {
	if action == nil || action.Name() == "" {
		return errors.New(errors.StatusInvalidArgument, "action requires a name", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[action.Name()]; ok {
		return errors.Newf(errors.StatusAlreadyExists, "flow %q already registered", action.Name())
	}
	r.actions[action.Name()] = action
	return nil
}

// Lookup finds an action by name, consulting registered actions first and
// then fallback resolvers in order.
func (r *Registry) Lookup(ctx context.Context, name string) (Action, bool) {
	r.mu.RLock()
	action, ok := r.actions[name]
	r.mu.RUnlock()
	if ok {
		return action, true
	}
	for _, resolver := range r.resolvers {
		if action, ok := resolver.ResolveAction(ctx, name); ok {
			return action, true
		}
	}
	return nil, false
}

// Names returns the registered flow names, sorted. Resolver-backed flows are
// not included since resolvers are consulted lazily.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Invoke implements Executor for unary calls.
func (r *Registry) Invoke(ctx context.Context, req *Request) (*Result, error) {
	action, ok := r.Lookup(ctx, req.Name)
	if !ok {
		return nil, errors.Newf(errors.StatusNotFound, "flow %q not found", req.Name)
	}
	return action.Run(ctx, req, nil)
}

// InvokeStream implements Executor for streaming calls.
func (r *Registry) InvokeStream(ctx context.Context, req *Request, cb StreamCallback) (*Result, error) {
	action, ok := r.Lookup(ctx, req.Name)
	if !ok {
		return nil, errors.Newf(errors.StatusNotFound, "flow %q not found", req.Name)
	}
	return action.Run(ctx, req, cb)
}
