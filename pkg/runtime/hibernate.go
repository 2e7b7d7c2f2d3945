package runtime

import (
	"context"
	"encoding/json"

	"github.com/wilhg/sigil/pkg/agent"
	"github.com/wilhg/sigil/pkg/errmodel"
	"github.com/wilhg/sigil/pkg/signal"
	"github.com/wilhg/sigil/pkg/store"
)

// snapshotRecord is the persisted shape of an agent. Registered action
// implementations are not serialized; a thawed agent must be re-wired to
// its registry by the caller.
type snapshotRecord struct {
	ID         string              `json:"id"`
	Kind       string              `json:"kind,omitempty"`
	State      map[string]any      `json:"state"`
	Actions    []string            `json:"actions"`
	Pending    []agent.Instruction `json:"pending"`
	DirtyState bool                `json:"dirty_state"`
	Result     map[string]any      `json:"result,omitempty"`
}

// Hibernate persists an agent snapshot under its deterministic key. A
// freshly restarted process that holds no in-memory state can recover it
// knowing only the agent id.
func Hibernate(ctx context.Context, kv store.KV, a *agent.Agent) error {
	if a == nil {
		return errmodel.Config("bad_agent", "agent is nil", nil)
	}
	rec := snapshotRecord{
		ID:         a.ID,
		Kind:       a.Kind,
		State:      a.State,
		Actions:    a.Actions,
		Pending:    a.Pending,
		DirtyState: a.DirtyState,
		Result:     a.Result,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return errmodel.System("snapshot_encode", err.Error(), map[string]any{"agent_id": a.ID}, err)
	}
	return kv.Put(ctx, signal.AgentTopic(a.ID), b)
}

// Thaw restores an agent snapshot by id. The supplied options are
// applied first so schema and registry wiring happens before the
// persisted fields overwrite the fresh aggregate.
func Thaw(ctx context.Context, kv store.KV, id string, opts ...agent.Option) (*agent.Agent, error) {
	b, err := kv.Get(ctx, signal.AgentTopic(id))
	if err != nil {
		return nil, err
	}
	var rec snapshotRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, errmodel.System("snapshot_decode", err.Error(), map[string]any{"agent_id": id}, err)
	}
	a, err := agent.New(opts...)
	if err != nil {
		return nil, err
	}
	a.ID = rec.ID
	a.Kind = rec.Kind
	a.State = rec.State
	a.Actions = rec.Actions
	a.Pending = rec.Pending
	a.DirtyState = rec.DirtyState
	a.Result = rec.Result
	return a, nil
}
