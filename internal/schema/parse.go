package schema

import (
	"fmt"
	"slices"
)

// Parse builds a Schema from a JSON Schema fragment such as one declared in
// a config file. Only the subset produced by JSONSchema is understood.
func Parse(raw map[string]any) (*Schema, error) {
	if raw == nil {
		return nil, fmt.Errorf("schema is empty")
	}
	desc, _ := raw["description"].(string)

	typ, _ := raw["type"].(string)
	var s *Schema
	switch typ {
	case "object":
		if props, ok := raw["properties"].(map[string]any); ok {
			required := stringList(raw["required"])
			names := make([]string, 0, len(props))
			for name := range props {
				names = append(names, name)
			}
			slices.Sort(names)

			s = Object()
			for _, name := range names {
				sub, ok := props[name].(map[string]any)
				if !ok {
					return nil, fmt.Errorf("property %q: expected object", name)
				}
				ps, err := Parse(sub)
				if err != nil {
					return nil, fmt.Errorf("property %q: %w", name, err)
				}
				s.Properties = append(s.Properties, Property{
					Name:     name,
					Schema:   ps,
					Required: slices.Contains(required, name),
				})
			}
		} else if ap, ok := raw["additionalProperties"].(map[string]any); ok {
			vs, err := Parse(ap)
			if err != nil {
				return nil, fmt.Errorf("additionalProperties: %w", err)
			}
			s = Record(vs)
		} else {
			s = Object()
		}
	case "array":
		items, ok := raw["items"].(map[string]any)
		if !ok {
			s = Array(Any())
			break
		}
		is, err := Parse(items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		s = Array(is)
	case "string":
		s = String()
		if enum := stringList(raw["enum"]); len(enum) > 0 {
			s = s.Enum(enum...)
		}
	case "number":
		s = Number()
	case "integer":
		s = Integer()
	case "boolean":
		s = Boolean()
	case "":
		s = Any()
	default:
		return nil, fmt.Errorf("unsupported type %q", typ)
	}
	if desc != "" {
		s = s.Describe(desc)
	}
	return s, nil
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
