// Package schema describes tool parameter contracts independently of any
// model provider. A Schema validates decoded JSON arguments and renders the
// JSON Schema object that providers expect.
package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
)

type Kind string

const (
	KindObject  Kind = "object"
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindInteger Kind = "integer"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindRecord  Kind = "record" // object with arbitrary keys and uniform values
	KindAny     Kind = "any"
)

// Schema is an immutable parameter description. Builder methods return copies.
type Schema struct {
	Kind        Kind
	Description string
	EnumValues  []string
	Properties  []Property // KindObject, in declaration order
	Items       *Schema    // KindArray
	Values      *Schema    // KindRecord
}

type Property struct {
	Name     string
	Schema   *Schema
	Required bool
}

// ValidationError reports the first violation found, with a dotted path.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return "invalid arguments: " + e.Message
	}
	return fmt.Sprintf("invalid argument %q: %s", e.Path, e.Message)
}

func Object(props ...Property) *Schema {
	return &Schema{Kind: KindObject, Properties: props}
}

func String() *Schema  { return &Schema{Kind: KindString} }
func Number() *Schema  { return &Schema{Kind: KindNumber} }
func Integer() *Schema { return &Schema{Kind: KindInteger} }
func Boolean() *Schema { return &Schema{Kind: KindBoolean} }
func Any() *Schema     { return &Schema{Kind: KindAny} }

func Array(items *Schema) *Schema {
	return &Schema{Kind: KindArray, Items: items}
}

func Record(values *Schema) *Schema {
	return &Schema{Kind: KindRecord, Values: values}
}

// Prop declares a required object property.
func Prop(name string, s *Schema) Property {
	return Property{Name: name, Schema: s, Required: true}
}

// Optional declares an optional object property.
func Optional(name string, s *Schema) Property {
	return Property{Name: name, Schema: s}
}

func (s *Schema) Describe(text string) *Schema {
	c := *s
	c.Description = text
	return &c
}

func (s *Schema) Enum(values ...string) *Schema {
	c := *s
	c.EnumValues = slices.Clone(values)
	return &c
}

// Required returns the names of required properties in declaration order.
func (s *Schema) Required() []string {
	var out []string
	for _, p := range s.Properties {
		if p.Required {
			out = append(out, p.Name)
		}
	}
	return out
}

// Property returns the named property schema, or nil.
func (s *Schema) Property(name string) *Schema {
	for _, p := range s.Properties {
		if p.Name == name {
			return p.Schema
		}
	}
	return nil
}

// Validate checks a decoded JSON value against the schema.
func (s *Schema) Validate(v any) error {
	return s.validate("", v)
}

func (s *Schema) validate(path string, v any) error {
	if s == nil || s.Kind == KindAny {
		return nil
	}
	fail := func(format string, args ...any) error {
		return &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)}
	}

	switch s.Kind {
	case KindObject, KindRecord:
		m, ok := v.(map[string]any)
		if !ok {
			return fail("expected object, got %s", typeName(v))
		}
		if s.Kind == KindRecord {
			for _, k := range sortedKeys(m) {
				if err := s.Values.validate(join(path, k), m[k]); err != nil {
					return err
				}
			}
			return nil
		}
		for _, p := range s.Properties {
			val, present := m[p.Name]
			if !present || val == nil {
				if p.Required {
					return &ValidationError{Path: join(path, p.Name), Message: "required field is missing"}
				}
				continue
			}
			if err := p.Schema.validate(join(path, p.Name), val); err != nil {
				return err
			}
		}
	case KindString:
		str, ok := v.(string)
		if !ok {
			return fail("expected string, got %s", typeName(v))
		}
		if len(s.EnumValues) > 0 && !slices.Contains(s.EnumValues, str) {
			return fail("must be one of %s", strings.Join(s.EnumValues, ", "))
		}
	case KindNumber:
		if _, ok := toFloat(v); !ok {
			return fail("expected number, got %s", typeName(v))
		}
	case KindInteger:
		f, ok := toFloat(v)
		if !ok {
			return fail("expected integer, got %s", typeName(v))
		}
		if f != math.Trunc(f) {
			return fail("expected integer, got %v", f)
		}
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			return fail("expected boolean, got %s", typeName(v))
		}
	case KindArray:
		items, ok := v.([]any)
		if !ok {
			return fail("expected array, got %s", typeName(v))
		}
		for i, item := range items {
			if err := s.Items.validate(fmt.Sprintf("%s[%d]", path, i), item); err != nil {
				return err
			}
		}
	default:
		return fail("unsupported schema kind %q", s.Kind)
	}
	return nil
}

// JSONSchema renders the schema as a JSON Schema fragment.
func (s *Schema) JSONSchema() map[string]any {
	if s == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	out := map[string]any{}
	switch s.Kind {
	case KindObject:
		out["type"] = "object"
		props := make(map[string]any, len(s.Properties))
		for _, p := range s.Properties {
			props[p.Name] = p.Schema.JSONSchema()
		}
		out["properties"] = props
		if req := s.Required(); len(req) > 0 {
			out["required"] = req
		}
	case KindRecord:
		out["type"] = "object"
		out["additionalProperties"] = s.Values.JSONSchema()
	case KindArray:
		out["type"] = "array"
		out["items"] = s.Items.JSONSchema()
	case KindAny:
	default:
		out["type"] = string(s.Kind)
	}
	if len(s.EnumValues) > 0 {
		out["enum"] = slices.Clone(s.EnumValues)
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
