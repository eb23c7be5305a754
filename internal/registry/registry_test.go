package registry

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ciaranashton/relay-agent/internal/config"
	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubProvider struct{}

func (stubProvider) Name() string                    { return "stub" }
func (stubProvider) Healthy(ctx context.Context) error { return nil }
func (stubProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	return &domain.ChatResponse{Content: "ok"}, nil
}

func testDeps() Deps {
	f := provider.NewFactory(testLogger())
	f.RegisterConstructor("stub", func(config.ModelConfig, *slog.Logger) domain.Provider { return stubProvider{} })
	return Deps{Logger: testLogger(), Providers: f}
}

func desc(typ string, opts map[string]any) config.Descriptor {
	return config.Descriptor{Type: typ, Options: opts}
}

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Name:         "Expense Bot",
		Description:  "Tracks expenses",
		Instructions: "Log what you are told.",
		Model:        config.ModelConfig{Provider: "stub", Name: "m"},
		Inbound:      desc("webhook", map[string]any{"secret": "s"}),
		Sources: []config.Descriptor{
			desc("json-file", map[string]any{"name": "ledger", "filePath": filepath.Join(dir, "ledger.json"), "tabs": map[string]any{"expenses": "Expenses"}}),
			desc("sqlite", map[string]any{"name": "archive", "dbPath": filepath.Join(dir, "archive.db"), "tabs": map[string]any{"old": "old_expenses"}}),
		},
		Actions: []config.Descriptor{desc("log", nil)},
	}
}

func TestBuild(t *testing.T) {
	c, err := Build(testConfig(t), testDeps())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer c.Close()

	if c.Inbound.Name() != "webhook" {
		t.Errorf("inbound = %s", c.Inbound.Name())
	}
	if len(c.Sources) != 2 || c.Sources[0].Name() != "ledger" || c.Sources[1].Name() != "archive" {
		t.Errorf("sources = %v", c.Sources)
	}
	if len(c.Actions) != 1 || c.Actions[0].Name() != "log" {
		t.Errorf("actions = %v", c.Actions)
	}
	if c.Agent == nil || c.Agent.Name() != "Expense Bot" {
		t.Fatal("agent not built")
	}
	if len(c.closers) != 1 {
		t.Errorf("closers = %d, want 1 (sqlite source)", len(c.closers))
	}
}

func TestBuild_NameCollision(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sources = append(cfg.Sources, desc("json-file", map[string]any{
		"name": "ledger", "filePath": filepath.Join(t.TempDir(), "x.json"), "tabs": map[string]any{"a": "A"},
	}))
	_, err := Build(cfg, testDeps())
	var ce *domain.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestBuild_UnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Model.Provider = "nope"
	if _, err := Build(cfg, testDeps()); err == nil || !strings.Contains(err.Error(), "Unknown model provider") {
		t.Fatalf("err = %v", err)
	}
}

func TestUnknownTypes(t *testing.T) {
	tests := []struct {
		name string
		fn   func() error
		want string
	}{
		{"inbound", func() error { _, err := NewInbound(desc("fax", nil), testDeps()); return err },
			`Unknown inbound type: "fax". Available: email, resend, slack, telegram, webhook, whatsapp`},
		{"source", func() error { _, err := NewSource(desc("excel", nil), testDeps()); return err },
			`Unknown source type: "excel". Available: google-sheets, json-file, sqlite`},
		{"action", func() error { _, err := NewAction(desc("sms", nil), testDeps()); return err },
			`Unknown action type: "sms". Available: github-issue, http, log, mqtt, reply, telegram, triage`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			var ce *domain.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if err.Error() != tt.want {
				t.Fatalf("error = %q\nwant    %q", err.Error(), tt.want)
			}
		})
	}
}

func TestInvalidOptions(t *testing.T) {
	_, err := NewSource(desc("json-file", map[string]any{"tabs": "not-a-map"}), testDeps())
	var ce *domain.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
}

func TestGoogleSheetsSourceConstructs(t *testing.T) {
	src, err := NewSource(desc("google-sheets", map[string]any{
		"sheetId":     "sheet-1",
		"credentials": map[string]any{"clientEmail": "bot@proj.iam.gserviceaccount.com", "privateKey": "unused-until-first-call"},
		"tabs":        map[string]any{"expenses": "Expenses"},
	}), testDeps())
	if err != nil {
		t.Fatalf("google-sheets: %v", err)
	}
	if src.Name() != "google_sheets" {
		t.Fatalf("name = %s", src.Name())
	}
	if _, err := NewSource(desc("google-sheets", map[string]any{"sheetId": "x", "tabs": map[string]any{"a": "A"}}), testDeps()); err == nil {
		t.Fatal("missing credentials should fail")
	}
}

func TestAllInboundTypesConstruct(t *testing.T) {
	opts := map[string]map[string]any{
		"webhook":  nil,
		"resend":   {"webhookSecret": "whsec_c2VjcmV0", "apiKey": "re_x"},
		"email":    nil,
		"slack":    {"signingSecret": "x"},
		"telegram": {"secretToken": "x"},
		"whatsapp": {"verifyToken": "x"},
	}
	for _, tag := range Available("inbound") {
		a, err := NewInbound(desc(tag, opts[tag]), testDeps())
		if err != nil {
			t.Fatalf("%s: %v", tag, err)
		}
		if a.Name() != tag {
			t.Errorf("%s: adapter name = %s", tag, a.Name())
		}
	}
}

func TestActionTypesConstruct(t *testing.T) {
	tests := []struct {
		tag  string
		opts map[string]any
		name string
	}{
		{"reply", map[string]any{"fromAddress": "bot@x.com", "apiKey": "re_x"}, "reply"},
		{"triage", map[string]any{"fromAddress": "bot@x.com", "triageRecipient": "ops@x.com", "apiKey": "re_x"}, "triage"},
		{"github-issue", map[string]any{"token": "t", "repo": "acme/support"}, "github_issue"},
		{"http", map[string]any{"name": "notify", "url": "http://localhost/hook", "schema": map[string]any{"type": "object", "properties": map[string]any{}}}, "notify"},
	}
	for _, tt := range tests {
		act, err := NewAction(desc(tt.tag, tt.opts), testDeps())
		if err != nil {
			t.Fatalf("%s: %v", tt.tag, err)
		}
		if act.Name() != tt.name {
			t.Errorf("%s: name = %s, want %s", tt.tag, act.Name(), tt.name)
		}
	}
}
