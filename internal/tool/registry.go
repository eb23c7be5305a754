package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/schema"
)

const logResultChars = 512

// Observer is notified after every tool execution. Metrics hook in here.
type Observer func(name string, d time.Duration, err error)

// Registry holds an ordered set of tools and executes them.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]domain.Tool
	order    []string
	logger   *slog.Logger
	observer Observer
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds a tool. Names are unique; a duplicate is a configuration error.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return domain.NewConfigError("duplicate tool name %q", t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	r.logger.Debug("registered tool", "name", t.Name())
	return nil
}

// SetObserver installs a hook called after each execution.
func (r *Registry) SetObserver(o Observer) {
	r.mu.Lock()
	r.observer = o
	r.mu.Unlock()
}

func (r *Registry) Get(name string) domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Execute runs the named tool. Entry and success are logged at debug,
// failures at error.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	t := r.Get(name)
	if t == nil {
		return nil, fmt.Errorf("unknown tool: %s (available: %s)", name, strings.Join(r.Names(), ", "))
	}
	if args == nil {
		args = map[string]any{}
	}

	r.logger.Debug("tool call", "tool", name, "args", ArgsJSON(args))
	start := time.Now()

	result, err := t.Execute(ctx, args)

	r.mu.RLock()
	obs := r.observer
	r.mu.RUnlock()
	if obs != nil {
		obs(name, time.Since(start), err)
	}

	if err != nil {
		r.logger.Error("tool failed", "tool", name, "error", err.Error())
		return nil, err
	}
	r.logger.Debug("tool result", "tool", name, "result", Truncate(ArgsJSON(result), logResultChars))
	return result, nil
}

// Definitions returns tool definitions in registration order.
func (r *Registry) Definitions() []domain.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]domain.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema().JSONSchema(),
		})
	}
	return defs
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// IsValidation reports whether err came from argument validation.
func IsValidation(err error) bool {
	var ve *schema.ValidationError
	return errors.As(err, &ve)
}

// ArgsString returns args[key] as a string, JSON-encoding non-strings.
func ArgsString(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	v, ok := args[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// ArgsInt returns args[key] as an int and whether it was present.
func ArgsInt(args map[string]any, key string) (int, bool) {
	switch n := args[key].(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

// ArgsStringMap returns args[key] as a map of strings. Non-string values are
// JSON-encoded.
func ArgsStringMap(args map[string]any, key string) map[string]string {
	m, ok := args[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(m))
	for k := range m {
		out[k] = ArgsString(m, k)
	}
	return out
}

// ArgsJSON encodes v for logging and tool results.
func ArgsJSON(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// Truncate cuts s to maxChars and appends a notice.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	return s[:maxChars] + fmt.Sprintf("... [truncated, %d chars total]", len(s))
}
