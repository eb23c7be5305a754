package agent

import (
	"context"
	"log/slog"

	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/tool"
)

// Config describes one agent assembled from configuration.
type Config struct {
	Name         string
	Description  string
	Instructions string
	Provider     domain.Provider
	Model        string
	Sources      []domain.Source
	Actions      []domain.Action
	Triage       *domain.TriagePolicy
	MaxSteps     int
	MaxTokens    int
	Temperature  float64
	Observer     tool.Observer
}

// RelayAgent binds a configuration to the engine.
type RelayAgent struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an agent. The logger is tagged with the agent name once here
// and reused for every message.
func New(cfg Config, logger *slog.Logger) *RelayAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &RelayAgent{
		cfg:    cfg,
		logger: logger.With("agent", cfg.Name),
	}
}

func (a *RelayAgent) Name() string { return a.cfg.Name }

func (a *RelayAgent) Logger() *slog.Logger { return a.logger }

// Sources and Actions expose the configured capabilities, used by the CLI
// to print the tool catalogue.
func (a *RelayAgent) Sources() []domain.Source { return a.cfg.Sources }
func (a *RelayAgent) Actions() []domain.Action { return a.cfg.Actions }

// Process runs the engine against one canonical message.
func (a *RelayAgent) Process(ctx context.Context, msg domain.Message) (*domain.EngineResult, error) {
	a.logger.Info("processing message", "messageId", msg.ID, "channel", msg.Channel, "from", msg.From)

	res, err := Run(ctx, RunOptions{
		Provider:     a.cfg.Provider,
		AgentName:    a.cfg.Name,
		Description:  a.cfg.Description,
		Instructions: a.cfg.Instructions,
		Sources:      a.cfg.Sources,
		Actions:      a.cfg.Actions,
		Message:      msg,
		Triage:       a.cfg.Triage,
		Logger:       a.logger,
		MaxSteps:     a.cfg.MaxSteps,
		Model:        a.cfg.Model,
		MaxTokens:    a.cfg.MaxTokens,
		Temperature:  a.cfg.Temperature,
		Observer:     a.cfg.Observer,
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("message processed", "messageId", msg.ID, "steps", res.Steps, "toolCalls", len(res.ToolCalls))
	return res, nil
}
