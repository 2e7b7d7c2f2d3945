package agent

import (
	"github.com/wilhg/sigil/pkg/errmodel"
	"github.com/wilhg/sigil/pkg/signal"
	"github.com/wilhg/sigil/pkg/statemap"
)

// Instruction binds an action name to the params it will run with. It is
// the unit queued on an agent's pending FIFO.
type Instruction struct {
	ID            string         `json:"id"`
	Action        string         `json:"action"`
	Params        map[string]any `json:"params,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Opts          map[string]any `json:"opts,omitempty"`
}

// InstructionSpec is the loose {action, params} pair accepted by
// NormalizeInstructions and by the HTTP control plane.
type InstructionSpec struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// NewInstruction builds an instruction with a fresh time-ordered id.
func NewInstruction(action string, params map[string]any) (Instruction, error) {
	if action == "" {
		return Instruction{}, errmodel.Validation("bad_instruction", "action name is empty", nil)
	}
	return Instruction{
		ID:     signal.NewID(),
		Action: action,
		Params: statemap.Clone(params),
	}, nil
}

// NormalizeInstructions flattens the accepted shorthand forms into a
// slice of instructions. Accepted inputs: Instruction, *Instruction,
// InstructionSpec, a bare action name string, or a slice of any of
// those. Anything else is a validation error.
func NormalizeInstructions(input any) ([]Instruction, error) {
	switch v := input.(type) {
	case nil:
		return nil, nil
	case Instruction:
		if v.Action == "" {
			return nil, errmodel.Validation("bad_instruction", "action name is empty", nil)
		}
		if v.ID == "" {
			v.ID = signal.NewID()
		}
		return []Instruction{v}, nil
	case *Instruction:
		if v == nil {
			return nil, nil
		}
		return NormalizeInstructions(*v)
	case InstructionSpec:
		ins, err := NewInstruction(v.Action, v.Params)
		if err != nil {
			return nil, err
		}
		return []Instruction{ins}, nil
	case string:
		ins, err := NewInstruction(v, nil)
		if err != nil {
			return nil, err
		}
		return []Instruction{ins}, nil
	case []Instruction:
		out := make([]Instruction, 0, len(v))
		for _, e := range v {
			ns, err := NormalizeInstructions(e)
			if err != nil {
				return nil, err
			}
			out = append(out, ns...)
		}
		return out, nil
	case []InstructionSpec:
		out := make([]Instruction, 0, len(v))
		for _, e := range v {
			ns, err := NormalizeInstructions(e)
			if err != nil {
				return nil, err
			}
			out = append(out, ns...)
		}
		return out, nil
	case []string:
		out := make([]Instruction, 0, len(v))
		for _, e := range v {
			ns, err := NormalizeInstructions(e)
			if err != nil {
				return nil, err
			}
			out = append(out, ns...)
		}
		return out, nil
	case []any:
		var out []Instruction
		for _, e := range v {
			ns, err := NormalizeInstructions(e)
			if err != nil {
				return nil, err
			}
			out = append(out, ns...)
		}
		return out, nil
	default:
		return nil, errmodel.Validation("bad_instruction", "unsupported instruction form", map[string]any{"input": input})
	}
}
