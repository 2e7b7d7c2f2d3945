package agent

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/wilhg/sigil/pkg/errmodel"
	"github.com/wilhg/sigil/pkg/signal"
	"github.com/wilhg/sigil/pkg/statemap"
)

// Agent is the aggregate the runner operates on: identity, a generic
// state map, the registered action set (newest-first), a pending
// instruction FIFO, a dirty flag, and the last run result.
//
// Agent is not safe for concurrent mutation; the server serializes all
// access through its message loop.
type Agent struct {
	ID         string         `json:"id"`
	Kind       string         `json:"kind,omitempty"`
	State      map[string]any `json:"state"`
	Actions    []string       `json:"actions"`
	Pending    []Instruction  `json:"pending"`
	DirtyState bool           `json:"dirty_state"`
	Result     map[string]any `json:"result,omitempty"`

	schema   *Schema
	registry *Registry
	recovery RecoveryFunc

	// running names the action currently executing; DeregisterAction
	// rejects removing it from within its own run.
	running string
}

// RecoveryFunc lets callers repair an agent after a failed run.
// Returning nil side-steps the error and the run reports success with
// the repaired agent. Returning a non-nil error (or panicking) surfaces
// the original run error instead.
type RecoveryFunc func(a *Agent, runErr error) error

// KV is a single key/value pair accepted by Set alongside plain maps.
type KV struct {
	Key   string
	Value any
}

// Option configures a new agent.
type Option func(*Agent) error

// WithID fixes the agent id instead of generating one.
func WithID(id string) Option {
	return func(a *Agent) error { a.ID = id; return nil }
}

// WithKind labels the agent's declared type, checked by Cmd.
func WithKind(kind string) Option {
	return func(a *Agent) error { a.Kind = kind; return nil }
}

// WithSchema attaches a compiled state schema.
func WithSchema(s *Schema) Option {
	return func(a *Agent) error { a.schema = s; return nil }
}

// WithSchemaJSON compiles and attaches a state schema from its document.
func WithSchemaJSON(doc []byte) Option {
	return func(a *Agent) error {
		s, err := NewSchema(doc)
		if err != nil {
			return err
		}
		a.schema = s
		return nil
	}
}

// WithRegistry injects a shared action registry. The default is a fresh
// private registry. Supply it before WithActions.
func WithRegistry(r *Registry) Option {
	return func(a *Agent) error { a.registry = r; return nil }
}

// WithState supplies initial state, deep-merged over schema defaults
// (caller wins).
func WithState(state map[string]any) Option {
	return func(a *Agent) error {
		a.State = statemap.Merge(a.State, state)
		return nil
	}
}

// WithActions registers actions at construction time.
func WithActions(actions ...Action) Option {
	return func(a *Agent) error { return a.RegisterActions(actions...) }
}

// WithRecovery sets the post-failure recovery hook.
func WithRecovery(fn RecoveryFunc) Option {
	return func(a *Agent) error { a.recovery = fn; return nil }
}

// New builds an agent. State is seeded from schema defaults first so a
// caller-supplied WithState merges on top. The id, when not supplied, is
// time-ordered and sortable by creation order.
func New(opts ...Option) (*Agent, error) {
	a := &Agent{State: map[string]any{}, registry: &Registry{actions: map[string]Action{}}}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.ID == "" {
		a.ID = signal.NewID()
	}
	if a.schema != nil {
		a.State = statemap.Merge(a.schema.Defaults(), a.State)
		if err := a.schema.Validate(a.State); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Registry returns the agent's action registry.
func (a *Agent) Registry() *Registry { return a.registry }

// Schema returns the agent's state schema, nil when unset.
func (a *Agent) Schema() *Schema { return a.schema }

// Clone returns a deep copy sharing the registry, schema, and recovery
// hook but owning its state, queue, and action list.
func (a *Agent) Clone() *Agent {
	cp := &Agent{
		ID:         a.ID,
		Kind:       a.Kind,
		State:      statemap.Clone(a.State),
		Actions:    slices.Clone(a.Actions),
		Pending:    slices.Clone(a.Pending),
		DirtyState: a.DirtyState,
		Result:     statemap.Clone(a.Result),
		schema:     a.schema,
		registry:   a.registry,
		recovery:   a.recovery,
		running:    a.running,
	}
	return cp
}

// SetOption configures Set.
type SetOption func(*setConfig)

type setConfig struct {
	strict bool
}

// Strict makes Set reject attrs keys absent from the schema.
func Strict() SetOption {
	return func(c *setConfig) { c.strict = true }
}

// Set merges attrs into the agent's state. Accepted forms: a
// map[string]any, a KV, or a []KV. An empty input is a no-op that leaves
// the dirty flag unchanged. Validation failure leaves the agent
// completely unchanged.
func (a *Agent) Set(attrs any, opts ...SetOption) error {
	var cfg setConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	m, err := coerceAttrs(attrs)
	if err != nil {
		return err
	}
	if len(m) == 0 {
		return nil
	}
	if cfg.strict && a.schema != nil {
		if unknown := a.schema.UnknownKeys(m); len(unknown) > 0 {
			return errmodel.Validation("unknown_keys", "attrs contain keys absent from the schema", map[string]any{
				"keys": unknown,
			})
		}
	}
	return a.commitState(statemap.Merge(a.State, m))
}

// commitState validates and installs a candidate state, flipping the
// dirty flag only on an observable change.
func (a *Agent) commitState(candidate map[string]any) error {
	if a.schema != nil {
		if err := a.schema.Validate(candidate); err != nil {
			return err
		}
	}
	if !reflect.DeepEqual(a.State, candidate) {
		a.DirtyState = true
	}
	a.State = candidate
	return nil
}

func coerceAttrs(attrs any) (map[string]any, error) {
	switch v := attrs.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return v, nil
	case KV:
		return map[string]any{v.Key: v.Value}, nil
	case []KV:
		m := make(map[string]any, len(v))
		for _, kv := range v {
			m[kv.Key] = kv.Value
		}
		return m, nil
	default:
		return nil, errmodel.Validation("invalid_state_update", fmt.Sprintf("invalid state update: expected map or key/value list, got %T", attrs), nil)
	}
}

// RegisterActions registers a batch atomically: every action is
// validated before any is installed. New names are ordered newest-first;
// re-registering an already-present action is a no-op.
func (a *Agent) RegisterActions(actions ...Action) error {
	for _, act := range actions {
		if act == nil {
			return errmodel.Validation("bad_action", "action is nil", nil)
		}
		if act.Describe().Name == "" {
			return errmodel.Validation("bad_action", "action name is empty", nil)
		}
	}
	for _, act := range actions {
		name := act.Describe().Name
		if slices.Contains(a.Actions, name) {
			continue
		}
		if _, ok := a.registry.Resolve(name); !ok {
			if err := a.registry.Register(act); err != nil {
				return err
			}
		}
		a.Actions = append([]string{name}, a.Actions...)
	}
	return nil
}

// DeregisterAction removes an action from the agent's set. Removing an
// absent name is a no-op. An action cannot remove itself from within its
// own run.
func (a *Agent) DeregisterAction(name string) error {
	if name != "" && name == a.running {
		return errmodel.Validation("cannot_deregister_self", "cannot_deregister_self", map[string]any{"action": name})
	}
	idx := slices.Index(a.Actions, name)
	if idx < 0 {
		return nil
	}
	a.Actions = slices.Delete(slices.Clone(a.Actions), idx, idx+1)
	a.registry.Deregister(name)
	return nil
}

// Reset clears the dirty flag and last result; state is untouched.
func (a *Agent) Reset() {
	a.DirtyState = false
	a.Result = nil
}

// Plan normalizes input into instructions and appends them to the
// pending queue. Every referenced action must be registered; an unknown
// action fails the whole call without mutation.
func (a *Agent) Plan(input any, context map[string]any) error {
	instructions, err := NormalizeInstructions(input)
	if err != nil {
		return err
	}
	for _, ins := range instructions {
		if !slices.Contains(a.Actions, ins.Action) {
			return errmodel.Config("unregistered_action", "action not registered", map[string]any{"action": ins.Action})
		}
	}
	for i := range instructions {
		if len(context) > 0 {
			instructions[i].Context = statemap.Merge(instructions[i].Context, context)
		}
	}
	a.Pending = append(a.Pending, instructions...)
	return nil
}
