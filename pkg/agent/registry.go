package agent

import (
	"sort"
	"sync"

	"github.com/wilhg/sigil/pkg/errmodel"
)

// Registry maps action names to implementations. It is an explicit,
// injected dependency of agents rather than a process-wide table, so the
// core stays testable without global state.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry builds a registry from the given actions.
func NewRegistry(actions ...Action) (*Registry, error) {
	r := &Registry{actions: map[string]Action{}}
	for _, a := range actions {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an action under its descriptor name. Registering a name
// that already exists returns a config error.
func (r *Registry) Register(a Action) error {
	if a == nil {
		return errmodel.Config("bad_action", "action is nil", nil)
	}
	name := a.Describe().Name
	if name == "" {
		return errmodel.Config("bad_action", "action name is empty", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[name]; exists {
		return errmodel.Config("duplicate_action", "action already registered", map[string]any{"action": name})
	}
	r.actions[name] = a
	return nil
}

// Resolve returns the action registered under name.
func (r *Registry) Resolve(name string) (Action, bool) {
	r.mu.RLock()
	a, ok := r.actions[name]
	r.mu.RUnlock()
	return a, ok
}

// Deregister removes an action. Removing an absent name is a no-op.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	delete(r.actions, name)
	r.mu.Unlock()
}

// Names returns the registered action names, sorted.
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

// Len reports the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}
