// Package agent implements the agent aggregate and its execution core:
// the action contract, the instruction queue, the effect model, and the
// runners that walk pending instructions against an immutable state
// snapshot.
package agent

import (
	"context"
	"encoding/json"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wilhg/sigil/pkg/errmodel"
)

// Descriptor declares the static interface of an action. ParamSchema is
// a JSON Schema (draft 2020-12) in UTF-8 bytes; when present, the runner
// validates instruction params against it before invoking the action.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	ParamSchema []byte `json:"param_schema,omitempty"`
}

// ActionContext carries the execution context an action runs under.
// State is a snapshot clone; mutating it has no effect on the agent.
type ActionContext struct {
	AgentID       string
	ActionName    string
	CorrelationID string
	State         map[string]any
	Meta          map[string]any
}

// Action is a stateless unit of behavior. Run returns a result map that
// the runner accumulates into the agent (and, by default, deep-merges
// into its state), plus zero or more effects. A nil effect slice means
// no effects.
//
// Actions should be fast; long-running work belongs in a Spawn directive
// so it does not stall the agent's serialized message loop.
type Action interface {
	Describe() Descriptor
	Run(ctx context.Context, params map[string]any, actx ActionContext) (map[string]any, []Effect, error)
}

// ValidateParams checks data against a JSON schema in bytes. An empty
// schema accepts anything.
func ValidateParams(schema []byte, data any) error {
	if len(schema) == 0 {
		return nil
	}
	c := jsonschema.NewCompiler()
	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return err
	}
	if err := c.AddResource("mem://schema.json", doc); err != nil {
		return err
	}
	sch, err := c.Compile("mem://schema.json")
	if err != nil {
		return err
	}
	// Marshal/unmarshal to generic for validation
	b, _ := json.Marshal(data)
	var v any
	_ = json.Unmarshal(b, &v)
	return sch.Validate(v)
}

// Func adapts a plain function into an Action. Intended for tests and
// small inline behaviors.
type Func struct {
	Desc Descriptor
	Fn   func(ctx context.Context, params map[string]any, actx ActionContext) (map[string]any, []Effect, error)
}

func (f Func) Describe() Descriptor { return f.Desc }

func (f Func) Run(ctx context.Context, params map[string]any, actx ActionContext) (map[string]any, []Effect, error) {
	if f.Fn == nil {
		return nil, nil, errmodel.Config("bad_action", "action func is nil", map[string]any{"action": f.Desc.Name})
	}
	return f.Fn(ctx, params, actx)
}
