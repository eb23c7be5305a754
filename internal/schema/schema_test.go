package schema

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func querySchema() *Schema {
	return Object(
		Prop("tab", String().Enum("expenses", "vendors").Describe("Which tab to query")),
		Optional("filter", Record(String())),
		Optional("limit", Integer()),
	)
}

func TestValidate_Accepts(t *testing.T) {
	s := querySchema()
	args := map[string]any{"tab": "expenses", "filter": map[string]any{"vendor": "acme"}, "limit": float64(5)}
	if err := s.Validate(args); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	err := querySchema().Validate(map[string]any{"limit": 3})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Path != "tab" {
		t.Fatalf("expected path 'tab', got %q", ve.Path)
	}
}

func TestValidate_EnumViolation(t *testing.T) {
	if err := querySchema().Validate(map[string]any{"tab": "other"}); err == nil {
		t.Fatal("expected enum violation")
	}
}

func TestValidate_IntegerRejectsFraction(t *testing.T) {
	err := querySchema().Validate(map[string]any{"tab": "expenses", "limit": 1.5})
	if err == nil {
		t.Fatal("expected error for fractional integer")
	}
}

func TestValidate_JSONNumber(t *testing.T) {
	if err := Integer().Validate(json.Number("12")); err != nil {
		t.Fatalf("json.Number should be accepted: %v", err)
	}
}

func TestValidate_RecordValues(t *testing.T) {
	err := querySchema().Validate(map[string]any{"tab": "expenses", "filter": map[string]any{"n": 3}})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Path != "filter.n" {
		t.Fatalf("expected error at filter.n, got %v", err)
	}
}

func TestValidate_ArrayItems(t *testing.T) {
	s := Object(Prop("labels", Array(String())))
	err := s.Validate(map[string]any{"labels": []any{"a", 2}})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Path != "labels[1]" {
		t.Fatalf("expected error at labels[1], got %v", err)
	}
}

func TestValidate_NullOptional(t *testing.T) {
	if err := querySchema().Validate(map[string]any{"tab": "vendors", "limit": nil}); err != nil {
		t.Fatalf("null optional should pass: %v", err)
	}
}

func TestJSONSchema(t *testing.T) {
	got := querySchema().JSONSchema()
	if got["type"] != "object" {
		t.Fatalf("expected object type, got %v", got["type"])
	}
	if !reflect.DeepEqual(got["required"], []string{"tab"}) {
		t.Fatalf("unexpected required: %v", got["required"])
	}
	props := got["properties"].(map[string]any)
	tab := props["tab"].(map[string]any)
	if tab["description"] != "Which tab to query" {
		t.Fatalf("missing description: %v", tab)
	}
	if !reflect.DeepEqual(tab["enum"], []string{"expenses", "vendors"}) {
		t.Fatalf("unexpected enum: %v", tab["enum"])
	}
	filter := props["filter"].(map[string]any)
	if filter["type"] != "object" || filter["additionalProperties"] == nil {
		t.Fatalf("record should render additionalProperties: %v", filter)
	}
}

func TestBuildersDoNotMutate(t *testing.T) {
	base := String()
	_ = base.Describe("x").Enum("a")
	if base.Description != "" || len(base.EnumValues) != 0 {
		t.Fatal("builder methods must return copies")
	}
}

func TestParse_RoundTrip(t *testing.T) {
	raw := querySchema().JSONSchema()
	// Simulate a config-decoded fragment.
	b, _ := json.Marshal(raw)
	var decoded map[string]any
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}

	s, err := Parse(decoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Property("tab") == nil || s.Property("filter").Kind != KindRecord {
		t.Fatalf("unexpected parsed schema: %+v", s)
	}
	if err := s.Validate(map[string]any{"tab": "other"}); err == nil {
		t.Fatal("parsed schema lost the enum")
	}
	if err := s.Validate(map[string]any{"tab": "expenses"}); err != nil {
		t.Fatalf("parsed schema rejected valid args: %v", err)
	}
}

func TestParse_UnsupportedType(t *testing.T) {
	if _, err := Parse(map[string]any{"type": "tuple"}); err == nil {
		t.Fatal("expected error")
	}
}
