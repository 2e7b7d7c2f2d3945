package agent

import (
	"reflect"
	"testing"
)

func TestSchema_DefaultsRecurseIntoObjects(t *testing.T) {
	s, err := NewSchema([]byte(`{
		"type": "object",
		"properties": {
			"mode": {"type": "string", "default": "auto"},
			"limits": {
				"type": "object",
				"properties": {
					"max": {"type": "number", "default": 10},
					"min": {"type": "number"}
				}
			},
			"name": {"type": "string"}
		}
	}`))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]any{
		"mode":   "auto",
		"limits": map[string]any{"max": float64(10)},
	}
	if got := s.Defaults(); !reflect.DeepEqual(got, want) {
		t.Fatalf("defaults=%v want %v", got, want)
	}
}

func TestSchema_UnknownKeysSorted(t *testing.T) {
	s, err := NewSchema(counterSchema)
	if err != nil {
		t.Fatal(err)
	}
	got := s.UnknownKeys(map[string]any{"zz": 1, "aa": 2, "value": 3})
	want := []string{"aa", "zz"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unknown=%v want %v", got, want)
	}
}

func TestSchema_ValidateNormalizesNumbers(t *testing.T) {
	s, err := NewSchema(counterSchema)
	if err != nil {
		t.Fatal(err)
	}
	// Go int must validate against {"type": "number"}.
	if err := s.Validate(map[string]any{"value": 42}); err != nil {
		t.Fatal(err)
	}
	if err := s.Validate(map[string]any{"value": "nope"}); err == nil {
		t.Fatal("expected schema violation")
	}
}

func TestNewSchema_RejectsNonObjectDocument(t *testing.T) {
	if _, err := NewSchema([]byte(`"just a string"`)); err == nil {
		t.Fatal("expected error")
	}
}
