package agent

import (
	"context"
	"reflect"
	"testing"

	"github.com/wilhg/sigil/pkg/errmodel"
)

var counterSchema = []byte(`{
	"type": "object",
	"properties": {
		"value": {"type": "number", "default": 0},
		"location": {"type": "string", "default": "home"},
		"battery": {"type": "number"}
	}
}`)

func noopAction(name string) Action {
	return Func{
		Desc: Descriptor{Name: name},
		Fn: func(context.Context, map[string]any, ActionContext) (map[string]any, []Effect, error) {
			return nil, nil, nil
		},
	}
}

func TestNew_SeedsDefaultsThenInitialState(t *testing.T) {
	a, err := New(WithSchemaJSON(counterSchema), WithState(map[string]any{"value": 42}))
	if err != nil {
		t.Fatal(err)
	}
	if got := a.State["value"]; got != 42 {
		t.Fatalf("value=%v want 42 (initial state wins over default)", got)
	}
	if got := a.State["location"]; got != "home" {
		t.Fatalf("location=%v want schema default", got)
	}
	if a.DirtyState {
		t.Fatal("fresh agent must not be dirty")
	}
}

func TestNew_GeneratesUniqueSortableIDs(t *testing.T) {
	seen := map[string]bool{}
	prev := ""
	for i := 0; i < 50; i++ {
		a, err := New()
		if err != nil {
			t.Fatal(err)
		}
		if a.ID == "" || seen[a.ID] {
			t.Fatalf("id %q empty or duplicate", a.ID)
		}
		seen[a.ID] = true
		if prev != "" && a.ID < prev {
			t.Fatalf("ids not sortable by creation order: %q < %q", a.ID, prev)
		}
		prev = a.ID
	}
}

func TestSet_EmptyIsNoOp(t *testing.T) {
	a, err := New(WithState(map[string]any{"k": "v"}))
	if err != nil {
		t.Fatal(err)
	}
	before := len(a.State)
	if err := a.Set(map[string]any{}); err != nil {
		t.Fatal(err)
	}
	if a.DirtyState {
		t.Fatal("empty set must leave dirty flag unchanged")
	}
	if len(a.State) != before {
		t.Fatal("empty set mutated state")
	}
}

func TestSet_DeepMergeAndDirtyFlag(t *testing.T) {
	a, err := New(WithState(map[string]any{
		"config": map[string]any{"retries": 3, "verbose": false},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Set(map[string]any{
		"config": map[string]any{"verbose": true},
	}); err != nil {
		t.Fatal(err)
	}
	cfg := a.State["config"].(map[string]any)
	if cfg["retries"] != 3 || cfg["verbose"] != true {
		t.Fatalf("merge lost sibling keys: %v", cfg)
	}
	if !a.DirtyState {
		t.Fatal("dirty flag not set after change")
	}
}

func TestSet_KVForms(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Set(KV{Key: "mode", Value: "fast"}); err != nil {
		t.Fatal(err)
	}
	if err := a.Set([]KV{{Key: "a", Value: 1}, {Key: "b", Value: 2}}); err != nil {
		t.Fatal(err)
	}
	if a.State["mode"] != "fast" || a.State["a"] != 1 || a.State["b"] != 2 {
		t.Fatalf("state=%v", a.State)
	}
}

func TestSet_InvalidInputNamesType(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatal(err)
	}
	err = a.Set(42)
	if !errmodel.IsCode(err, "invalid_state_update") {
		t.Fatalf("err=%v want invalid_state_update", err)
	}
	ce := errmodel.From(err)
	if ce.Message == "" {
		t.Fatal("error must describe the received type")
	}
}

func TestSet_StrictRejectsUnknownKeys(t *testing.T) {
	a, err := New(WithSchemaJSON(counterSchema))
	if err != nil {
		t.Fatal(err)
	}
	err = a.Set(map[string]any{"value": 1, "bogus": true, "extra": 1}, Strict())
	if !errmodel.IsCode(err, "unknown_keys") {
		t.Fatalf("err=%v want unknown_keys", err)
	}
	if a.State["value"] != float64(0) && a.State["value"] != 0 {
		t.Fatalf("strict failure mutated state: %v", a.State)
	}
	// Permissive mode merges the same keys.
	if err := a.Set(map[string]any{"bogus": true}); err != nil {
		t.Fatal(err)
	}
	if a.State["bogus"] != true {
		t.Fatal("permissive set dropped unknown key")
	}
}

func TestSet_ValidationFailureIsAllOrNothing(t *testing.T) {
	a, err := New(WithSchemaJSON(counterSchema), WithState(map[string]any{"value": 5}))
	if err != nil {
		t.Fatal(err)
	}
	err = a.Set(map[string]any{"value": "not-a-number", "location": "away"})
	if !errmodel.IsCategory(err, errmodel.CategoryValidation) {
		t.Fatalf("err=%v want validation error", err)
	}
	if a.State["value"] != 5 || a.State["location"] != "home" {
		t.Fatalf("failed set partially applied: %v", a.State)
	}
	if a.DirtyState {
		t.Fatal("failed set flipped dirty flag")
	}
}

func TestRegisterActions_NewestFirstAndIdempotent(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if err := a.RegisterActions(noopAction("one"), noopAction("two")); err != nil {
		t.Fatal(err)
	}
	if err := a.RegisterActions(noopAction("three")); err != nil {
		t.Fatal(err)
	}
	want := []string{"three", "two", "one"}
	if !reflect.DeepEqual(a.Actions, want) {
		t.Fatalf("actions=%v want %v", a.Actions, want)
	}
	// Re-registering keeps a single entry.
	if err := a.RegisterActions(noopAction("two")); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Actions, want) {
		t.Fatalf("re-registration changed list: %v", a.Actions)
	}
}

func TestRegisterActions_BatchIsAtomic(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatal(err)
	}
	err = a.RegisterActions(noopAction("good"), nil)
	if err == nil {
		t.Fatal("expected error for nil action in batch")
	}
	if len(a.Actions) != 0 {
		t.Fatalf("invalid batch partially registered: %v", a.Actions)
	}
}

func TestDeregisterAction_AbsentIsNoOp(t *testing.T) {
	a, err := New(WithActions(noopAction("one")))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.DeregisterAction("missing"); err != nil {
		t.Fatal(err)
	}
	if err := a.DeregisterAction("one"); err != nil {
		t.Fatal(err)
	}
	if len(a.Actions) != 0 {
		t.Fatalf("actions=%v", a.Actions)
	}
}

func TestReset_ClearsDirtyAndResultOnly(t *testing.T) {
	a, err := New(WithState(map[string]any{"k": "v"}))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Set(map[string]any{"k": "w"}); err != nil {
		t.Fatal(err)
	}
	a.Result = map[string]any{"out": 1}
	a.Reset()
	if a.DirtyState || a.Result != nil {
		t.Fatalf("dirty=%v result=%v after reset", a.DirtyState, a.Result)
	}
	if a.State["k"] != "w" {
		t.Fatal("reset touched state")
	}
}

func TestPlan_RejectsUnregisteredActionWithoutMutation(t *testing.T) {
	a, err := New(WithActions(noopAction("known")))
	if err != nil {
		t.Fatal(err)
	}
	err = a.Plan([]string{"known", "unknown"}, nil)
	if !errmodel.IsCode(err, "unregistered_action") {
		t.Fatalf("err=%v want unregistered_action", err)
	}
	if len(a.Pending) != 0 {
		t.Fatalf("failed plan appended instructions: %v", a.Pending)
	}
}

func TestPlan_AppendsInOrderWithContext(t *testing.T) {
	a, err := New(WithActions(noopAction("x"), noopAction("y")))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Plan([]any{"x", InstructionSpec{Action: "y", Params: map[string]any{"n": 1}}}, map[string]any{"trace": "t1"}); err != nil {
		t.Fatal(err)
	}
	if len(a.Pending) != 2 {
		t.Fatalf("pending=%d", len(a.Pending))
	}
	if a.Pending[0].Action != "x" || a.Pending[1].Action != "y" {
		t.Fatalf("order wrong: %v", a.Pending)
	}
	if a.Pending[1].Context["trace"] != "t1" {
		t.Fatal("plan context not stamped")
	}
	if a.Pending[0].ID == "" || a.Pending[0].ID == a.Pending[1].ID {
		t.Fatal("instruction ids must be unique and non-empty")
	}
}

func TestNormalizeInstructions_RejectsGarbage(t *testing.T) {
	if _, err := NormalizeInstructions(12345); !errmodel.IsCode(err, "bad_instruction") {
		t.Fatalf("err=%v", err)
	}
	if _, err := NormalizeInstructions(""); err == nil {
		t.Fatal("empty action name must fail")
	}
}

func TestClone_IsDeep(t *testing.T) {
	a, err := New(WithState(map[string]any{"nested": map[string]any{"n": 1}}))
	if err != nil {
		t.Fatal(err)
	}
	cp := a.Clone()
	cp.State["nested"].(map[string]any)["n"] = 99
	if a.State["nested"].(map[string]any)["n"] != 1 {
		t.Fatal("clone shares nested state")
	}
}
