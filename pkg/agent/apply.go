package agent

import (
	"slices"

	"github.com/wilhg/sigil/pkg/errmodel"
	"github.com/wilhg/sigil/pkg/statemap"
)

// ApplyEffects walks effects left to right. State ops mutate the agent's
// state immediately, so a later op sees an earlier op's result even with
// directives interleaved between them. Directives are returned untouched
// in emission order; applying them is the server's job.
func ApplyEffects(a *Agent, effects []Effect) ([]Directive, error) {
	var directives []Directive
	for _, eff := range effects {
		if eff == nil {
			continue
		}
		switch op := eff.(type) {
		case SetState:
			if err := a.commitState(statemap.Merge(a.State, op.Attrs)); err != nil {
				return directives, err
			}
		case ReplaceState:
			if err := a.commitState(statemap.Clone(op.State)); err != nil {
				return directives, err
			}
		case DeleteKeys:
			if err := a.commitState(statemap.DeleteKeys(a.State, op.Keys)); err != nil {
				return directives, err
			}
		case SetPath:
			if err := a.commitState(statemap.SetPath(a.State, op.Path, op.Value)); err != nil {
				return directives, err
			}
		case DeletePath:
			if err := a.commitState(statemap.DeletePath(a.State, op.Path)); err != nil {
				return directives, err
			}
		case Directive:
			directives = append(directives, op)
		default:
			return directives, errmodel.Validation("bad_effect", "unknown effect type", map[string]any{"effect": eff})
		}
	}
	return directives, nil
}

// ApplyDirectives applies the directives that touch the agent's own
// persistent fields: Enqueue, RegisterAction, DeregisterAction. All
// other kinds pass through unapplied, order preserved. The batch is
// atomic: every directive is validated before any is applied, and an
// invalid batch leaves the agent unchanged.
func ApplyDirectives(a *Agent, directives []Directive) ([]Directive, error) {
	for _, d := range directives {
		switch v := d.(type) {
		case Enqueue:
			if v.Action == "" {
				return nil, errmodel.Validation("bad_directive", "enqueue requires an action name", nil)
			}
		case RegisterAction:
			if v.Action == nil || v.Action.Describe().Name == "" {
				return nil, errmodel.Validation("bad_directive", "register_action requires a named action", nil)
			}
		case DeregisterAction:
			if v.Name != "" && v.Name == a.running {
				return nil, errmodel.Validation("cannot_deregister_self", "cannot_deregister_self", map[string]any{"action": v.Name})
			}
		}
	}

	var rest []Directive
	for _, d := range directives {
		switch v := d.(type) {
		case Enqueue:
			ins := Instruction{Action: v.Action, Params: statemap.Clone(v.Params), Context: statemap.Clone(v.Context), Opts: statemap.Clone(v.Opts)}
			normalized, err := NormalizeInstructions(ins)
			if err != nil {
				return rest, err
			}
			a.Pending = append(a.Pending, normalized...)
		case RegisterAction:
			if err := a.RegisterActions(v.Action); err != nil {
				return rest, err
			}
		case DeregisterAction:
			if err := a.DeregisterAction(v.Name); err != nil {
				return rest, err
			}
		default:
			rest = append(rest, d)
		}
	}
	return rest, nil
}

// popPending removes and returns the oldest pending instruction.
func (a *Agent) popPending() (Instruction, bool) {
	if len(a.Pending) == 0 {
		return Instruction{}, false
	}
	ins := a.Pending[0]
	a.Pending = slices.Clone(a.Pending[1:])
	return ins, true
}
