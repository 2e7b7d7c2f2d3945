package agent

import (
	"context"
	"testing"

	"github.com/wilhg/sigil/pkg/errmodel"
	"github.com/wilhg/sigil/pkg/signal"
)

var amountSchema = []byte(`{
	"type": "object",
	"properties": {
		"amount": {"type": "number"},
		"value": {"type": "number"}
	},
	"required": ["amount"]
}`)

func numberOf(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func addAction() Action {
	return Func{
		Desc: Descriptor{Name: "add", Description: "adds amount to value", ParamSchema: amountSchema},
		Fn: func(_ context.Context, params map[string]any, actx ActionContext) (map[string]any, []Effect, error) {
			base, ok := numberOf(params["value"])
			if !ok {
				base, _ = numberOf(actx.State["value"])
			}
			amount, _ := numberOf(params["amount"])
			return map[string]any{"value": base + amount}, nil, nil
		},
	}
}

func multiplyAction() Action {
	return Func{
		Desc: Descriptor{Name: "multiply", Description: "multiplies value by amount", ParamSchema: amountSchema},
		Fn: func(_ context.Context, params map[string]any, actx ActionContext) (map[string]any, []Effect, error) {
			base, _ := numberOf(actx.State["value"])
			amount, _ := numberOf(params["amount"])
			return map[string]any{"value": base * amount}, nil, nil
		},
	}
}

func newCalcAgent(t *testing.T, extra ...Action) *Agent {
	t.Helper()
	actions := append([]Action{addAction(), multiplyAction()}, extra...)
	a, err := New(
		WithSchemaJSON(counterSchema),
		WithActions(actions...),
	)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestRun_EmptyQueueSucceedsUnchanged(t *testing.T) {
	a := newCalcAgent(t)
	res, err := a.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusOK || res.Agent.Result != nil {
		t.Fatalf("res=%+v", res)
	}
}

func TestRunSimple_PopsExactlyOne(t *testing.T) {
	a := newCalcAgent(t)
	if err := a.Plan([]InstructionSpec{
		{Action: "add", Params: map[string]any{"amount": 1}},
		{Action: "add", Params: map[string]any{"amount": 2}},
	}, nil); err != nil {
		t.Fatal(err)
	}
	res, err := a.Run(context.Background(), WithRunner(RunnerSimple))
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := numberOf(res.Agent.State["value"]); v != 1 {
		t.Fatalf("value=%v want 1", res.Agent.State["value"])
	}
	if len(a.Pending) != 1 {
		t.Fatalf("pending=%d want 1 left for a later invocation", len(a.Pending))
	}
}

func TestRunSimple_SuppliedInstruction(t *testing.T) {
	a := newCalcAgent(t)
	ins, err := NewInstruction("add", map[string]any{"amount": 7})
	if err != nil {
		t.Fatal(err)
	}
	res, err := a.Run(context.Background(), WithRunner(RunnerSimple), WithInstruction(ins))
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := numberOf(res.Agent.State["value"]); v != 7 {
		t.Fatalf("value=%v", res.Agent.State["value"])
	}
}

func TestRunChain_DrainsAllFIFO(t *testing.T) {
	a := newCalcAgent(t)
	if err := a.Plan([]InstructionSpec{
		{Action: "add", Params: map[string]any{"amount": 2}},
		{Action: "multiply", Params: map[string]any{"amount": 5}},
		{Action: "add", Params: map[string]any{"amount": 1}},
	}, nil); err != nil {
		t.Fatal(err)
	}
	res, err := a.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := numberOf(res.Agent.State["value"]); v != 11 {
		t.Fatalf("value=%v want (0+2)*5+1=11", res.Agent.State["value"])
	}
	if len(a.Pending) != 0 {
		t.Fatalf("pending=%d", len(a.Pending))
	}
}

func TestRunChain_HaltPreservesLastGoodState(t *testing.T) {
	a := newCalcAgent(t)
	if err := a.Plan([]InstructionSpec{
		{Action: "add", Params: map[string]any{"value": 10, "amount": 1}},
		{Action: "multiply", Params: map[string]any{"amount": "invalid"}},
		{Action: "add", Params: map[string]any{"amount": 8}},
	}, nil); err != nil {
		t.Fatal(err)
	}
	res, err := a.Run(context.Background())
	if err == nil {
		t.Fatal("expected chain to halt on invalid params")
	}
	if res.Status != StatusError || res.Error == nil {
		t.Fatalf("res=%+v", res)
	}
	if !errmodel.IsCode(res.Error, "invalid_params") {
		t.Fatalf("err=%v", res.Error)
	}
	// The first instruction's effect survives; the failed one is
	// consumed; the third stays queued.
	if v, _ := numberOf(res.Agent.State["value"]); v != 11 {
		t.Fatalf("value=%v want 11", res.Agent.State["value"])
	}
	if len(a.Pending) != 1 || a.Pending[0].Action != "add" {
		t.Fatalf("pending=%v", a.Pending)
	}
}

func TestRun_UnregisteredActionNoMutation(t *testing.T) {
	a := newCalcAgent(t)
	if err := a.Plan("add", nil); err != nil {
		t.Fatal(err)
	}
	a.Pending[0].Action = "ghost" // bypass Plan's check to exercise the runner's
	res, err := a.Run(context.Background())
	if !errmodel.IsCode(err, "unregistered_action") {
		t.Fatalf("err=%v", err)
	}
	if v, _ := numberOf(res.Agent.State["value"]); v != 0 {
		t.Fatalf("state mutated: %v", res.Agent.State)
	}
}

func TestRun_ApplyStateFalse(t *testing.T) {
	a := newCalcAgent(t)
	if err := a.Plan(InstructionSpec{Action: "add", Params: map[string]any{"amount": 3}}, nil); err != nil {
		t.Fatal(err)
	}
	res, err := a.Run(context.Background(), WithApplyState(false))
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := numberOf(res.Agent.Result["value"]); v != 3 {
		t.Fatalf("result=%v", res.Agent.Result)
	}
	if v, _ := numberOf(res.Agent.State["value"]); v != 0 {
		t.Fatalf("apply_state=false mutated state: %v", res.Agent.State)
	}
	if res.Agent.DirtyState {
		t.Fatal("apply_state=false flipped dirty flag")
	}
}

func TestRun_DirectivesCollectedInEmissionOrder(t *testing.T) {
	first, err := signal.New("demo.first", nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := signal.New("demo.second", nil)
	if err != nil {
		t.Fatal(err)
	}
	emitter := Func{
		Desc: Descriptor{Name: "emitter"},
		Fn: func(context.Context, map[string]any, ActionContext) (map[string]any, []Effect, error) {
			return nil, []Effect{Emit{Signal: first}, Stop{Reason: "done"}, Emit{Signal: second}}, nil
		},
	}
	a := newCalcAgent(t, emitter)
	if err := a.Plan("emitter", nil); err != nil {
		t.Fatal(err)
	}
	res, err := a.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Directives) != 3 {
		t.Fatalf("directives=%d want 3", len(res.Directives))
	}
	if res.Directives[0].(Emit).Signal.Type != "demo.first" {
		t.Fatal("emission order not preserved")
	}
	if _, ok := res.Directives[1].(Stop); !ok {
		t.Fatalf("directives[1]=%T", res.Directives[1])
	}
}

func TestRun_EnqueueDirectiveRunsInSameChain(t *testing.T) {
	seeder := Func{
		Desc: Descriptor{Name: "seeder"},
		Fn: func(context.Context, map[string]any, ActionContext) (map[string]any, []Effect, error) {
			return nil, []Effect{Enqueue{Action: "add", Params: map[string]any{"amount": 4}}}, nil
		},
	}
	a := newCalcAgent(t, seeder)
	if err := a.Plan("seeder", nil); err != nil {
		t.Fatal(err)
	}
	res, err := a.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := numberOf(res.Agent.State["value"]); v != 4 {
		t.Fatalf("value=%v want enqueued add to have run", res.Agent.State["value"])
	}
}

func TestRun_SelfDeregistrationForbidden(t *testing.T) {
	selfish := Func{
		Desc: Descriptor{Name: "selfish"},
		Fn: func(context.Context, map[string]any, ActionContext) (map[string]any, []Effect, error) {
			return map[string]any{"ran": true}, []Effect{DeregisterAction{Name: "selfish"}}, nil
		},
	}
	a := newCalcAgent(t, selfish)
	if err := a.Plan([]InstructionSpec{
		{Action: "add", Params: map[string]any{"amount": 1}},
		{Action: "selfish"},
	}, nil); err != nil {
		t.Fatal(err)
	}
	res, err := a.Run(context.Background())
	if !errmodel.IsCode(err, "cannot_deregister_self") {
		t.Fatalf("err=%v", err)
	}
	// Failure leaves the agent as of the last successful instruction.
	if v, _ := numberOf(res.Agent.State["value"]); v != 1 {
		t.Fatalf("value=%v want 1", res.Agent.State["value"])
	}
	if _, present := res.Agent.State["ran"]; present {
		t.Fatal("failed instruction leaked state")
	}
	if !containsName(res.Agent.Actions, "selfish") {
		t.Fatal("failed deregistration removed the action")
	}
}

func TestRun_ActionPanicBecomesError(t *testing.T) {
	bomb := Func{
		Desc: Descriptor{Name: "bomb"},
		Fn: func(context.Context, map[string]any, ActionContext) (map[string]any, []Effect, error) {
			panic("kaboom")
		},
	}
	a := newCalcAgent(t, bomb)
	if err := a.Plan("bomb", nil); err != nil {
		t.Fatal(err)
	}
	_, err := a.Run(context.Background())
	if !errmodel.IsCode(err, "action_panicked") {
		t.Fatalf("err=%v", err)
	}
}

func TestRun_RecoveryHookRunsButOriginalErrorSurfaces(t *testing.T) {
	called := false
	a := newCalcAgent(t)
	if err := a.Plan(InstructionSpec{Action: "multiply", Params: map[string]any{"amount": "bad"}}, nil); err != nil {
		t.Fatal(err)
	}
	_, err := a.Run(context.Background(), WithRunRecovery(func(ag *Agent, runErr error) error {
		called = true
		return errmodel.System("hook_failed", "hook failed", nil, nil)
	}))
	if !called {
		t.Fatal("recovery hook not invoked")
	}
	if !errmodel.IsCode(err, "invalid_params") {
		t.Fatalf("err=%v want the original run error", err)
	}
}

func TestRun_RecoveryHookSideStepsError(t *testing.T) {
	a := newCalcAgent(t)
	if err := a.Plan(InstructionSpec{Action: "multiply", Params: map[string]any{"amount": "bad"}}, nil); err != nil {
		t.Fatal(err)
	}
	res, err := a.Run(context.Background(), WithRunRecovery(func(ag *Agent, runErr error) error {
		if !errmodel.IsCode(runErr, "invalid_params") {
			t.Fatalf("hook saw %v", runErr)
		}
		return ag.Set(map[string]any{"value": -1})
	}))
	if err != nil {
		t.Fatalf("err=%v want side-stepped", err)
	}
	if res.Status != StatusOK || res.Error != nil {
		t.Fatalf("res=%+v", res)
	}
	if v, _ := numberOf(res.Agent.State["value"]); v != -1 {
		t.Fatalf("value=%v want the recovered state", res.Agent.State["value"])
	}
}

func TestRun_RecoveryHookPanicLeavesOriginalError(t *testing.T) {
	a := newCalcAgent(t)
	if err := a.Plan(InstructionSpec{Action: "multiply", Params: map[string]any{"amount": "bad"}}, nil); err != nil {
		t.Fatal(err)
	}
	_, err := a.Run(context.Background(), WithRunRecovery(func(*Agent, error) error {
		panic("hook blew up")
	}))
	if !errmodel.IsCode(err, "invalid_params") {
		t.Fatalf("err=%v want the original run error", err)
	}
}

func TestCmd_KindMismatchNamesBothKinds(t *testing.T) {
	a, err := New(WithKind("counter"), WithActions(addAction()))
	if err != nil {
		t.Fatal(err)
	}
	_, err = a.Cmd(context.Background(), "add", nil, WithExpectedKind("thermostat"))
	if !errmodel.IsCode(err, "agent_kind_mismatch") {
		t.Fatalf("err=%v", err)
	}
	ce := errmodel.From(err)
	if ce.Context["expected"] != "thermostat" || ce.Context["actual"] != "counter" {
		t.Fatalf("context=%v", ce.Context)
	}
}

func TestCmd_PlanAndRun(t *testing.T) {
	a, err := New(WithKind("counter"), WithSchemaJSON(counterSchema), WithActions(addAction()))
	if err != nil {
		t.Fatal(err)
	}
	res, err := a.Cmd(context.Background(), InstructionSpec{Action: "add", Params: map[string]any{"amount": 6}}, nil, WithExpectedKind("counter"))
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := numberOf(res.Agent.State["value"]); v != 6 {
		t.Fatalf("value=%v", res.Agent.State["value"])
	}
}

func containsName(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
