package agent

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/sigil/pkg/errmodel"
	"github.com/wilhg/sigil/pkg/signal"
	"github.com/wilhg/sigil/pkg/statemap"
)

// Runner strategy names.
const (
	RunnerSimple = "simple"
	RunnerChain  = "chain"
)

// Run result statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// RunResult is the unit returned from a run invocation. On failure the
// agent reflects the state as of the last successfully applied
// instruction, never a half-mutated state.
type RunResult struct {
	Status     string
	Agent      *Agent
	Directives []Directive
	Error      error
}

// RunOptions configure a single run invocation.
type RunOptions struct {
	// ApplyState deep-merges each action result into the state. Default
	// true; when false only the result field is updated.
	ApplyState bool
	// Runner selects the strategy, RunnerSimple or RunnerChain.
	Runner string
	// Timeout bounds the whole run via context. Zero means no bound.
	Timeout time.Duration
	// Kind, when set, must match the agent's declared kind.
	Kind string
	// Instruction runs directly instead of popping the pending queue.
	// Only honored by the simple strategy.
	Instruction *Instruction
	// Recovery overrides the agent's recovery hook for this run.
	Recovery RecoveryFunc
}

// RunOption mutates RunOptions. Unrecognized options cannot exist by
// construction, matching the contract that extra options are ignored.
type RunOption func(*RunOptions)

func WithApplyState(apply bool) RunOption {
	return func(o *RunOptions) { o.ApplyState = apply }
}

func WithRunner(name string) RunOption {
	return func(o *RunOptions) { o.Runner = name }
}

func WithTimeout(d time.Duration) RunOption {
	return func(o *RunOptions) { o.Timeout = d }
}

// WithExpectedKind asserts the agent's declared kind before running.
func WithExpectedKind(kind string) RunOption {
	return func(o *RunOptions) { o.Kind = kind }
}

func WithInstruction(ins Instruction) RunOption {
	return func(o *RunOptions) { o.Instruction = &ins }
}

func WithRunRecovery(fn RecoveryFunc) RunOption {
	return func(o *RunOptions) { o.Recovery = fn }
}

func defaultRunOptions() RunOptions {
	return RunOptions{ApplyState: true, Runner: RunnerChain}
}

// Run executes pending instructions per the selected strategy. Simple
// pops exactly one instruction (or uses the supplied one); chain drains
// FIFO until the queue is empty or an action errors. The failed
// instruction is consumed; remaining instructions stay queued.
//
// Directives emitted across all executed instructions are returned in
// emission order, unapplied except for the agent-local kinds (enqueue,
// register, deregister) which are folded into the agent per instruction.
func (a *Agent) Run(ctx context.Context, opts ...RunOption) (RunResult, error) {
	ro := defaultRunOptions()
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ro.Timeout)
		defer cancel()
	}

	tr := otel.Tracer("agent/runner")
	ctx, span := tr.Start(ctx, "Agent.Run", trace.WithAttributes(
		attribute.String("agent.id", a.ID),
		attribute.String("runner", ro.Runner),
		attribute.Int("pending", len(a.Pending)),
	))
	defer span.End()

	var directives []Directive

	fail := func(err error) (RunResult, error) {
		span.RecordError(err)
		if a.recover(ro, err) {
			return RunResult{Status: StatusOK, Agent: a, Directives: directives}, nil
		}
		res := RunResult{Status: StatusError, Agent: a, Directives: directives, Error: err}
		return res, err
	}

	switch ro.Runner {
	case RunnerSimple:
		ins, ok := a.nextInstruction(ro)
		if !ok {
			return RunResult{Status: StatusOK, Agent: a, Directives: nil}, nil
		}
		ds, err := a.runOne(ctx, ins, ro)
		directives = append(directives, ds...)
		if err != nil {
			return fail(err)
		}
	case RunnerChain:
		for {
			ins, ok := a.popPending()
			if !ok {
				break
			}
			if err := ctx.Err(); err != nil {
				return fail(errmodel.Execution("run_canceled", err.Error(), nil, err))
			}
			ds, err := a.runOne(ctx, ins, ro)
			directives = append(directives, ds...)
			if err != nil {
				return fail(err)
			}
		}
	default:
		return fail(errmodel.Config("unknown_runner", "unknown runner strategy", map[string]any{"runner": ro.Runner}))
	}

	return RunResult{Status: StatusOK, Agent: a, Directives: directives}, nil
}

func (a *Agent) nextInstruction(ro RunOptions) (Instruction, bool) {
	if ro.Instruction != nil {
		ins := *ro.Instruction
		if ins.ID == "" {
			ins.ID = signal.NewID()
		}
		return ins, true
	}
	return a.popPending()
}

// runOne executes a single instruction against a working copy and
// commits the copy back only on success, so a failure leaves the agent
// exactly as the previous instruction left it.
func (a *Agent) runOne(ctx context.Context, ins Instruction, ro RunOptions) (directives []Directive, err error) {
	action, ok := a.registry.Resolve(ins.Action)
	if !ok || !slices.Contains(a.Actions, ins.Action) {
		return nil, errmodel.Config("unregistered_action", "action not registered", map[string]any{"action": ins.Action})
	}
	desc := action.Describe()
	if err := ValidateParams(desc.ParamSchema, ins.Params); err != nil {
		return nil, errmodel.Validation("invalid_params", err.Error(), map[string]any{"action": ins.Action})
	}

	tr := otel.Tracer("agent/runner")
	ctx, span := tr.Start(ctx, "Agent.RunInstruction", trace.WithAttributes(
		attribute.String("agent.id", a.ID),
		attribute.String("instruction.id", ins.ID),
		attribute.String("action", ins.Action),
	))
	defer span.End()

	work := a.Clone()
	work.running = ins.Action

	defer func() {
		if r := recover(); r != nil {
			err = errmodel.Execution("action_panicked", fmt.Sprint(r), map[string]any{"action": ins.Action}, nil)
			span.RecordError(err)
		}
	}()

	actx := ActionContext{
		AgentID:       a.ID,
		ActionName:    ins.Action,
		CorrelationID: ins.CorrelationID,
		State:         statemap.Clone(a.State),
		Meta:          statemap.Clone(ins.Context),
	}
	result, effects, runErr := action.Run(ctx, ins.Params, actx)
	if runErr != nil {
		span.RecordError(runErr)
		return nil, errmodel.Execution("action_failed", runErr.Error(), map[string]any{"action": ins.Action}, runErr)
	}

	work.Result = statemap.Clone(result)
	if ro.ApplyState && len(result) > 0 {
		if err := work.commitState(statemap.Merge(work.State, result)); err != nil {
			return nil, err
		}
	}

	ds, err := ApplyEffects(work, effects)
	if err != nil {
		return nil, err
	}
	rest, err := ApplyDirectives(work, ds)
	if err != nil {
		return nil, err
	}

	work.running = ""
	a.State = work.State
	a.Actions = work.Actions
	a.Pending = work.Pending
	a.DirtyState = work.DirtyState
	a.Result = work.Result
	return rest, nil
}

// recover invokes the configured recovery hook after a failed run. A
// hook that returns nil has side-stepped the error, possibly after
// repairing the agent's state; the run then reports success. Hook
// panics and errors leave the original run error to surface.
func (a *Agent) recover(ro RunOptions, runErr error) (recovered bool) {
	fn := ro.Recovery
	if fn == nil {
		fn = a.recovery
	}
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			recovered = false
		}
	}()
	return fn(a, runErr) == nil
}

// Cmd plans input and runs it in one call. When an expected kind is
// supplied it must match the agent's declared kind; a mismatch names
// both kinds.
func (a *Agent) Cmd(ctx context.Context, input any, planContext map[string]any, opts ...RunOption) (RunResult, error) {
	ro := defaultRunOptions()
	for _, opt := range opts {
		opt(&ro)
	}
	if ro.Kind != "" && ro.Kind != a.Kind {
		err := errmodel.Validation("agent_kind_mismatch", "agent kind does not match", map[string]any{
			"expected": ro.Kind,
			"actual":   a.Kind,
		})
		return RunResult{Status: StatusError, Agent: a, Error: err}, err
	}
	if input != nil {
		if err := a.Plan(input, planContext); err != nil {
			return RunResult{Status: StatusError, Agent: a, Error: err}, err
		}
	}
	return a.Run(ctx, opts...)
}
