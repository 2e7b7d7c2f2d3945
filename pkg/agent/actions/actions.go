// Package actions ships the built-in actions: small arithmetic and
// utility behaviors that agents can register out of the box. Each action
// declares a param schema so the runner rejects malformed params before
// invocation.
package actions

import (
	"context"
	"log/slog"
	"time"

	"github.com/wilhg/sigil/pkg/agent"
)

func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

var amountSchema = []byte(`{"type":"object","properties":{"amount":{"type":"number"},"value":{"type":"number"}},"required":["amount"]}`)

// Add adds params.amount to the current value. An explicit params.value
// overrides the value read from state.
type Add struct{}

func (Add) Describe() agent.Descriptor {
	return agent.Descriptor{
		Name:        "add",
		Description: "Adds amount to value",
		ParamSchema: amountSchema,
	}
}

func (Add) Run(_ context.Context, params map[string]any, actx agent.ActionContext) (map[string]any, []agent.Effect, error) {
	base, ok := numberOf(params["value"])
	if !ok {
		base, _ = numberOf(actx.State["value"])
	}
	amount, _ := numberOf(params["amount"])
	return map[string]any{"value": base + amount}, nil, nil
}

// Multiply multiplies the current value by params.amount.
type Multiply struct{}

func (Multiply) Describe() agent.Descriptor {
	return agent.Descriptor{
		Name:        "multiply",
		Description: "Multiplies value by amount",
		ParamSchema: amountSchema,
	}
}

func (Multiply) Run(_ context.Context, params map[string]any, actx agent.ActionContext) (map[string]any, []agent.Effect, error) {
	base, ok := numberOf(params["value"])
	if !ok {
		base, _ = numberOf(actx.State["value"])
	}
	amount, _ := numberOf(params["amount"])
	return map[string]any{"value": base * amount}, nil, nil
}

// SetValue writes params.value verbatim.
type SetValue struct{}

func (SetValue) Describe() agent.Descriptor {
	return agent.Descriptor{
		Name:        "set_value",
		Description: "Sets value directly",
		ParamSchema: []byte(`{"type":"object","properties":{"value":{"type":"number"}},"required":["value"]}`),
	}
}

func (SetValue) Run(_ context.Context, params map[string]any, _ agent.ActionContext) (map[string]any, []agent.Effect, error) {
	v, _ := numberOf(params["value"])
	return map[string]any{"value": v}, nil, nil
}

// Log writes params.message to the process logger at the given level.
type Log struct {
	Logger *slog.Logger
}

func (Log) Describe() agent.Descriptor {
	return agent.Descriptor{
		Name:        "log",
		Description: "Logs a message",
		ParamSchema: []byte(`{"type":"object","properties":{"message":{"type":"string"},"level":{"type":"string","enum":["debug","info","warn","error"]}},"required":["message"]}`),
	}
}

func (l Log) Run(ctx context.Context, params map[string]any, actx agent.ActionContext) (map[string]any, []agent.Effect, error) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	msg, _ := params["message"].(string)
	level := slog.LevelInfo
	switch params["level"] {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger.Log(ctx, level, msg, "agent_id", actx.AgentID)
	return map[string]any{"logged": true}, nil, nil
}

// Sleep pauses for params.duration_ms, honoring context cancellation.
type Sleep struct{}

func (Sleep) Describe() agent.Descriptor {
	return agent.Descriptor{
		Name:        "sleep",
		Description: "Sleeps for duration_ms milliseconds",
		ParamSchema: []byte(`{"type":"object","properties":{"duration_ms":{"type":"integer","minimum":0,"maximum":60000}},"required":["duration_ms"]}`),
	}
}

func (Sleep) Run(ctx context.Context, params map[string]any, _ agent.ActionContext) (map[string]any, []agent.Effect, error) {
	ms, _ := numberOf(params["duration_ms"])
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return map[string]any{"slept_ms": ms}, nil, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// EnqueueNext emits an Enqueue directive for params.action with
// params.params, letting one action schedule a follow-up within the
// same chain.
type EnqueueNext struct{}

func (EnqueueNext) Describe() agent.Descriptor {
	return agent.Descriptor{
		Name:        "enqueue_next",
		Description: "Enqueues a follow-up instruction",
		ParamSchema: []byte(`{"type":"object","properties":{"action":{"type":"string","minLength":1},"params":{"type":"object"}},"required":["action"]}`),
	}
}

func (EnqueueNext) Run(_ context.Context, params map[string]any, _ agent.ActionContext) (map[string]any, []agent.Effect, error) {
	action, _ := params["action"].(string)
	next, _ := params["params"].(map[string]any)
	return map[string]any{"enqueued": action}, []agent.Effect{agent.Enqueue{Action: action, Params: next}}, nil
}

// Deregister emits a DeregisterAction directive for params.name. Naming
// the calling action itself trips the self-deregistration guard.
type Deregister struct{}

func (Deregister) Describe() agent.Descriptor {
	return agent.Descriptor{
		Name:        "deregister",
		Description: "Deregisters an action by name",
		ParamSchema: []byte(`{"type":"object","properties":{"name":{"type":"string","minLength":1}},"required":["name"]}`),
	}
}

func (Deregister) Run(_ context.Context, params map[string]any, _ agent.ActionContext) (map[string]any, []agent.Effect, error) {
	name, _ := params["name"].(string)
	return map[string]any{"deregistered": name}, []agent.Effect{agent.DeregisterAction{Name: name}}, nil
}

// All returns one instance of every built-in action.
func All() []agent.Action {
	return []agent.Action{Add{}, Multiply{}, SetValue{}, Log{}, Sleep{}, EnqueueNext{}, Deregister{}, HTTPGet{}}
}
