package agent

import (
	"context"
	"time"

	"github.com/wilhg/sigil/pkg/signal"
)

// Effect is the closed union of everything an action may produce beyond
// its result: state operations that mutate the owning agent's state, and
// directives that escape the agent boundary for the host runtime to
// perform. The apply step dispatches on the concrete type, never on
// structural shape.
type Effect interface {
	isEffect()
}

// StateOp is an internal effect: a declarative, pure transformation of
// the agent's state map.
type StateOp interface {
	Effect
	isStateOp()
}

// SetState deep-merges Attrs into the state.
type SetState struct {
	Attrs map[string]any
}

// ReplaceState swaps the state wholesale.
type ReplaceState struct {
	State map[string]any
}

// DeleteKeys removes top-level keys. Absent keys are ignored.
type DeleteKeys struct {
	Keys []string
}

// SetPath sets a value at a nested path, creating intermediate maps.
type SetPath struct {
	Path  []string
	Value any
}

// DeletePath removes a value at a nested path; absent paths are a no-op.
type DeletePath struct {
	Path []string
}

func (SetState) isEffect() {}
func (SetState) isStateOp() {}
func (ReplaceState) isEffect() {}
func (ReplaceState) isStateOp() {}
func (DeleteKeys) isEffect() {}
func (DeleteKeys) isStateOp() {}
func (SetPath) isEffect() {}
func (SetPath) isStateOp() {}
func (DeletePath) isEffect() {}
func (DeletePath) isStateOp() {}

// Directive is an external effect. Each directive carries everything the
// server needs to perform the side effect without further context.
// Directives preserve their order of emission.
type Directive interface {
	Effect
	// Kind returns a stable identifier used in events and error context.
	Kind() string
}

// Emit publishes a signal through the runtime's bus.
type Emit struct {
	Signal   *signal.Signal
	Dispatch map[string]any
}

// ErrorDirective reports a failure to the runtime without aborting the
// run that emitted it.
type ErrorDirective struct {
	Err     error
	Context map[string]any
}

// Spawn starts a supervised child task under the agent's server. The
// task should honor ctx cancellation.
type Spawn struct {
	Tag  string
	Task func(ctx context.Context) error
}

// SpawnAgent asks the runtime to start a sibling agent process.
type SpawnAgent struct {
	AgentID string
	Tag     string
	Opts    map[string]any
	Meta    map[string]any
}

// StopChild terminates a spawned child by tag.
type StopChild struct {
	Tag    string
	Reason string
}

// Schedule delivers Message to the agent after Delay.
type Schedule struct {
	Delay   time.Duration
	Message *signal.Signal
}

// Stop shuts the agent's server down.
type Stop struct {
	Reason string
}

// Enqueue appends a follow-up instruction to the agent's pending queue.
type Enqueue struct {
	Action  string
	Params  map[string]any
	Context map[string]any
	Opts    map[string]any
}

// RegisterAction adds an action to the agent's registered set.
type RegisterAction struct {
	Action Action
}

// DeregisterAction removes an action from the agent's registered set.
type DeregisterAction struct {
	Name string
}

func (Emit) isEffect() {}
func (Emit) Kind() string { return "emit" }
func (ErrorDirective) isEffect() {}
func (ErrorDirective) Kind() string { return "error" }
func (Spawn) isEffect() {}
func (Spawn) Kind() string { return "spawn" }
func (SpawnAgent) isEffect() {}
func (SpawnAgent) Kind() string { return "spawn_agent" }
func (StopChild) isEffect() {}
func (StopChild) Kind() string { return "stop_child" }
func (Schedule) isEffect() {}
func (Schedule) Kind() string { return "schedule" }
func (Stop) isEffect() {}
func (Stop) Kind() string { return "stop" }
func (Enqueue) isEffect() {}
func (Enqueue) Kind() string { return "enqueue" }
func (RegisterAction) isEffect() {}
func (RegisterAction) Kind() string { return "register_action" }
func (DeregisterAction) isEffect() {}
func (DeregisterAction) Kind() string { return "deregister_action" }

// IsDirective reports whether v is a directive value. Used defensively
// by callers that receive effect-or-error unions from actions.
func IsDirective(v any) bool {
	_, ok := v.(Directive)
	return ok
}

// AsDirective unwraps a (value, error) union into a directive. The
// directive is only returned when err is nil and v is a directive.
func AsDirective(v any, err error) (Directive, bool) {
	if err != nil {
		return nil, false
	}
	d, ok := v.(Directive)
	return d, ok
}
