package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ciaranashton/relay-agent/internal/domain"
)

type Config struct {
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Instructions string        `json:"instructions"`
	Model        ModelConfig   `json:"model"`
	Inbound      Descriptor    `json:"inbound"`
	Sources      []Descriptor  `json:"sources"`
	Actions      []Descriptor  `json:"actions"`
	Triage       *TriageConfig `json:"triage,omitempty"`
	Server       ServerConfig  `json:"server"`
	Engine       EngineConfig  `json:"engine"`
	LogLevel     string        `json:"logLevel"`
	LogFormat    string        `json:"logFormat"` // json | text
}

type ModelConfig struct {
	Provider   string           `json:"provider"`
	Name       string           `json:"name"`
	APIKey     string           `json:"apiKey,omitempty"`
	BaseURL    string           `json:"baseUrl,omitempty"`
	MaxRetries int              `json:"maxRetries,omitempty"`
	Fallbacks  []ModelConfig    `json:"fallbacks,omitempty"`
	RateLimit  *RateLimitConfig `json:"rateLimit,omitempty"`
}

type RateLimitConfig struct {
	PerMinute float64 `json:"perMinute"`
	Burst     int     `json:"burst"`
}

type ServerConfig struct {
	Port                  int          `json:"port"`
	Workers               int          `json:"workers"`
	QueueSize             int          `json:"queueSize"`
	ProcessTimeoutSeconds int          `json:"processTimeoutSeconds,omitempty"` // 0 = no limit
	MaxBodyBytes          int64        `json:"maxBodyBytes"`
	Metrics               bool         `json:"metrics"`
	Dedup                 DedupConfig  `json:"dedup"`
	Senders               SenderConfig `json:"senders"`
}

// SenderConfig filters inbound messages by sender before dispatch. Plain
// strings match as case-insensitive substrings; anything with regex
// metacharacters is compiled as a regular expression.
type SenderConfig struct {
	Allow         []string `json:"allow,omitempty"`
	Block         []string `json:"block,omitempty"`
	DefaultPolicy string   `json:"defaultPolicy,omitempty"` // allow | deny
}

type DedupConfig struct {
	Enabled    bool   `json:"enabled"`
	DBPath     string `json:"dbPath,omitempty"` // empty = in-memory
	TTLMinutes int    `json:"ttlMinutes"`
}

type EngineConfig struct {
	MaxSteps    int     `json:"maxSteps"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
}

// TriageConfig decodes on top of the default policy so omitted fields keep
// their defaults.
type TriageConfig domain.TriagePolicy

func (t *TriageConfig) UnmarshalJSON(data []byte) error {
	type plain TriageConfig
	p := plain(domain.DefaultTriagePolicy())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = TriageConfig(p)
	return nil
}

// Policy returns the triage policy, or nil when triage is not configured.
func (t *TriageConfig) Policy() *domain.TriagePolicy {
	if t == nil {
		return nil
	}
	p := domain.TriagePolicy(*t)
	return &p
}

// Descriptor is a {type, ...options} component declaration.
type Descriptor struct {
	Type    string
	Options map[string]any
}

func (d *Descriptor) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, _ := raw["type"].(string)
	delete(raw, "type")
	d.Type = t
	d.Options = raw
	return nil
}

func (d Descriptor) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Options)+1)
	for k, v := range d.Options {
		out[k] = v
	}
	out["type"] = d.Type
	return json.Marshal(out)
}

// Decode copies the descriptor options into a typed options struct.
func (d Descriptor) Decode(target any) error {
	data, err := json.Marshal(d.Options)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%s options: %w", d.Type, err)
	}
	return nil
}

// Load reads a JSON or YAML config, resolves environment references and
// validates the result. Missing environment variables are reported before
// anything else is checked.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	LoadDotEnv(filepath.Dir(path))

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config bytes. ext selects YAML for ".yaml"/".yml"; anything
// else is JSON.
func Parse(data []byte, ext string) (*Config, error) {
	var tree any
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("invalid YAML: %w", err)
		}
		tree = normalizeYAML(tree)
	default:
		if err := json.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}

	if missing := MissingEnvVars(tree); len(missing) > 0 {
		return nil, fmt.Errorf("Missing environment variables:\n  - %s\n\nSet them in your .env file or environment.",
			strings.Join(missing, "\n  - "))
	}
	tree = SubstituteEnv(tree)

	normalized, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("cannot normalize config: %w", err)
	}

	cfg := Defaults()
	if err := json.Unmarshal(normalized, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config: %w", err)
	}
	cfg.Server.Dedup.DBPath = ExpandPath(cfg.Server.Dedup.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	required := map[string]string{
		"name":           cfg.Name,
		"description":    cfg.Description,
		"instructions":   cfg.Instructions,
		"model.provider": cfg.Model.Provider,
		"model.name":     cfg.Model.Name,
		"inbound.type":   cfg.Inbound.Type,
	}
	for _, key := range []string{"name", "description", "instructions", "model.provider", "model.name", "inbound.type"} {
		if strings.TrimSpace(required[key]) == "" {
			errs = append(errs, key+" is required")
		}
	}
	for i, fb := range cfg.Model.Fallbacks {
		if fb.Provider == "" {
			errs = append(errs, fmt.Sprintf("model.fallbacks[%d].provider is required", i))
		}
	}
	for i, d := range cfg.Sources {
		if d.Type == "" {
			errs = append(errs, fmt.Sprintf("sources[%d].type is required", i))
		}
	}
	for i, d := range cfg.Actions {
		if d.Type == "" {
			errs = append(errs, fmt.Sprintf("actions[%d].type is required", i))
		}
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.Workers < 1 || cfg.Server.Workers > 100 {
		errs = append(errs, "server.workers must be between 1 and 100")
	}
	if cfg.Server.Dedup.Enabled && cfg.Server.Dedup.TTLMinutes < 1 {
		errs = append(errs, "server.dedup.ttlMinutes must be >= 1")
	}
	switch cfg.Server.Senders.DefaultPolicy {
	case "", "allow", "deny":
	default:
		errs = append(errs, "server.senders.defaultPolicy must be one of: allow, deny")
	}
	if cfg.Engine.MaxSteps < 1 || cfg.Engine.MaxSteps > 100 {
		errs = append(errs, "engine.maxSteps must be between 1 and 100")
	}

	if t := cfg.Triage; t != nil {
		if t.ConfidenceThreshold < 0 || t.ConfidenceThreshold > 1 {
			errs = append(errs, "triage.confidenceThreshold must be between 0 and 1")
		}
		if t.MaxAutoReplies < 1 {
			errs = append(errs, "triage.maxAutoReplies must be >= 1")
		}
		switch t.TriageChannel {
		case domain.TriageEmail, domain.TriageSlack, domain.TriageWebhook:
		default:
			errs = append(errs, "triage.triageChannel must be one of: email, slack, webhook")
		}
	}

	if _, err := ParseLogLevel(cfg.LogLevel); err != nil {
		errs = append(errs, "logLevel: "+err.Error())
	}
	switch cfg.LogFormat {
	case "", "json", "text":
	default:
		errs = append(errs, "logFormat must be one of: json, text")
	}

	if len(errs) > 0 {
		return &domain.ConfigError{Msg: fmt.Sprintf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))}
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// normalizeYAML converts map[any]any nodes that yaml can produce for
// non-string keys into map[string]any.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeYAML(val)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeYAML(val)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalizeYAML(val)
		}
		return t
	}
	return v
}
