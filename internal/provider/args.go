package provider

import (
	"encoding/json"
	"strings"
)

// decodeArguments parses a tool call argument string. Models occasionally
// emit invalid escape sequences; those are repaired before giving up.
// Unparseable input yields an empty map so schema validation reports it.
func decodeArguments(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}
	if err := json.Unmarshal([]byte(sanitizeJSONEscapes(raw)), &args); err == nil {
		return args
	}
	return map[string]any{}
}

// sanitizeJSONEscapes drops the backslash from escape sequences that JSON
// does not allow (e.g. \% or \Y). Valid escapes are kept.
func sanitizeJSONEscapes(s string) string {
	var buf strings.Builder
	buf.Grow(len(s))
	inString := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '"' && (i == 0 || s[i-1] != '\\') {
			inString = !inString
			buf.WriteByte(ch)
			continue
		}
		if inString && ch == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
				buf.WriteByte(ch)
				buf.WriteByte(s[i+1])
				i++
			}
			continue
		}
		buf.WriteByte(ch)
	}
	return buf.String()
}

func normalizeSDKBaseURL(raw, defaultBase string, endpointSuffixes ...string) string {
	base := strings.TrimRight(strings.TrimSpace(raw), "/")
	if base == "" {
		return defaultBase
	}
	for _, suffix := range endpointSuffixes {
		if s := strings.TrimRight(suffix, "/"); s != "" && strings.HasSuffix(base, s) {
			base = strings.TrimRight(strings.TrimSuffix(base, s), "/")
			break
		}
	}
	if base == "" {
		return defaultBase
	}
	return base
}

func stringSlice(v any) []string {
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
