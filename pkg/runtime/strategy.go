package runtime

import (
	"context"

	"github.com/wilhg/sigil/pkg/agent"
)

// StrategyHost is the slice of the server a strategy may touch: the
// hosted agent and the status machine.
type StrategyHost interface {
	Agent() *agent.Agent
	Status() Status
	Transition(to Status) error
}

// Strategy decides how the server walks its status machine around a run.
type Strategy interface {
	Execute(ctx context.Context, host StrategyHost, opts ...agent.RunOption) (agent.RunResult, error)
}

// SimpleStrategy runs without status gating; any status is actionable.
// Useful for tools and tests that drive an agent outside the drain loop.
type SimpleStrategy struct{}

func (SimpleStrategy) Execute(ctx context.Context, host StrategyHost, opts ...agent.RunOption) (agent.RunResult, error) {
	return host.Agent().Run(ctx, opts...)
}

// FSMStrategy is the default: it requires an idle server, walks
// idle → planning → running, and returns to idle whether the run
// succeeded or failed (failures pass through error first so observers
// see the edge).
type FSMStrategy struct{}

func (FSMStrategy) Execute(ctx context.Context, host StrategyHost, opts ...agent.RunOption) (agent.RunResult, error) {
	if err := host.Transition(StatusPlanning); err != nil {
		return agent.RunResult{Status: agent.StatusError, Agent: host.Agent(), Error: err}, err
	}
	if err := host.Transition(StatusRunning); err != nil {
		return agent.RunResult{Status: agent.StatusError, Agent: host.Agent(), Error: err}, err
	}
	res, err := host.Agent().Run(ctx, opts...)
	if err != nil {
		_ = host.Transition(StatusError)
		_ = host.Transition(StatusIdle)
		return res, err
	}
	if terr := host.Transition(StatusIdle); terr != nil {
		return res, terr
	}
	return res, nil
}
