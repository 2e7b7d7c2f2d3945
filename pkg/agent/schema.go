package agent

import (
	"encoding/json"
	"sort"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/wilhg/sigil/pkg/errmodel"
)

// Schema is a compiled JSON Schema (draft 2020-12) describing an agent's
// state shape. It supplies defaults for New, unknown-key detection for
// strict Set, and value validation on every state commit.
type Schema struct {
	raw      map[string]any
	compiled *jsonschema.Schema
}

// NewSchema compiles an object schema from its JSON document.
func NewSchema(doc []byte) (*Schema, error) {
	var raw map[string]any
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, errmodel.Config("bad_schema", "schema is not a JSON object", nil)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("mem://schema.json", raw); err != nil {
		return nil, errmodel.Config("bad_schema", err.Error(), nil)
	}
	compiled, err := c.Compile("mem://schema.json")
	if err != nil {
		return nil, errmodel.Config("bad_schema", err.Error(), nil)
	}
	return &Schema{raw: raw, compiled: compiled}, nil
}

// Defaults collects the `default` keywords from the schema's properties,
// recursing into nested object properties.
func (s *Schema) Defaults() map[string]any {
	if s == nil {
		return map[string]any{}
	}
	return defaultsFrom(s.raw)
}

func defaultsFrom(node map[string]any) map[string]any {
	out := map[string]any{}
	props, ok := node["properties"].(map[string]any)
	if !ok {
		return out
	}
	for key, pv := range props {
		prop, ok := pv.(map[string]any)
		if !ok {
			continue
		}
		if dv, ok := prop["default"]; ok {
			out[key] = dv
			continue
		}
		if nested := defaultsFrom(prop); len(nested) > 0 {
			out[key] = nested
		}
	}
	return out
}

// UnknownKeys returns attrs keys that are not declared as properties,
// sorted. A nil schema declares nothing unknown.
func (s *Schema) UnknownKeys(attrs map[string]any) []string {
	if s == nil {
		return nil
	}
	props, _ := s.raw["properties"].(map[string]any)
	var unknown []string
	for k := range attrs {
		if _, ok := props[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// Validate checks a candidate state against the schema. Values are
// normalized through JSON before validation so numeric Go types compare
// by value, not by concrete type.
func (s *Schema) Validate(state map[string]any) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(state)
	if err != nil {
		return errmodel.Validation("bad_state", "state is not JSON-serializable", nil)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return errmodel.Validation("bad_state", err.Error(), nil)
	}
	if err := s.compiled.Validate(v); err != nil {
		return errmodel.New(errmodel.CategoryValidation, "schema_violation", err.Error(), nil)
	}
	return nil
}
