package config

import (
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/joho/godotenv"
)

var (
	// "$VAR" as a whole value.
	wholeVarPattern = regexp.MustCompile(`^\$([A-Za-z_][A-Za-z0-9_]*)$`)
	// "${VAR}" or "${VAR:-default}" anywhere in a value.
	envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)
)

// LoadDotEnv loads .env from the working directory and from dir. Variables
// already present in the environment are never overwritten.
func LoadDotEnv(dir string) {
	candidates := []string{".env"}
	if dir != "" && dir != "." {
		candidates = append(candidates, filepath.Join(dir, ".env"))
	}
	for _, f := range candidates {
		if _, err := os.Stat(f); err == nil {
			_ = godotenv.Load(f)
		}
	}
}

// MissingEnvVars walks a decoded config tree and returns the sorted, unique
// names of referenced variables that are unset and have no default.
func MissingEnvVars(tree any) []string {
	seen := make(map[string]bool)
	walkStrings(tree, func(s string) string {
		if m := wholeVarPattern.FindStringSubmatch(s); m != nil {
			if _, ok := os.LookupEnv(m[1]); !ok {
				seen[m[1]] = true
			}
			return s
		}
		for _, m := range envVarPattern.FindAllStringSubmatch(s, -1) {
			hasDefault := len(m[0]) > len("${"+m[1]+"}")
			if _, ok := os.LookupEnv(m[1]); !ok && !hasDefault {
				seen[m[1]] = true
			}
		}
		return s
	})
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// SubstituteEnv replaces environment references throughout a decoded tree.
func SubstituteEnv(tree any) any {
	return walkStrings(tree, ExpandEnvVars)
}

// ExpandEnvVars resolves "$VAR" whole values and "${VAR}" / "${VAR:-default}"
// references. Unresolvable references are left as they are.
func ExpandEnvVars(input string) string {
	if m := wholeVarPattern.FindStringSubmatch(input); m != nil {
		if val, ok := os.LookupEnv(m[1]); ok {
			return val
		}
		return input
	}
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		hasDefault := len(match) > len("${"+groups[1]+"}")
		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			if exists {
				return ""
			}
			return match
		}
		return val
	})
}

func walkStrings(v any, fn func(string) string) any {
	switch t := v.(type) {
	case string:
		return fn(t)
	case map[string]any:
		for k, val := range t {
			t[k] = walkStrings(val, fn)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = walkStrings(val, fn)
		}
		return t
	}
	return v
}
