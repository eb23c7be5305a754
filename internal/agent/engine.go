package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/tool"
)

const (
	DefaultMaxSteps  = 10
	defaultMaxTokens = 4096
)

// RunOptions is everything one engine run needs.
type RunOptions struct {
	Provider     domain.Provider
	AgentName    string
	Description  string
	Instructions string
	Sources      []domain.Source
	Actions      []domain.Action
	Message      domain.Message
	Triage       *domain.TriagePolicy
	Logger       *slog.Logger
	MaxSteps     int // model calls, default 10
	Model        string
	MaxTokens    int
	Temperature  float64
	// Observer, when set, is attached to the run's tool registry.
	Observer tool.Observer
}

// Run drives the model through at most MaxSteps turns. Tool calls are
// executed sequentially in request order and any failure ends the run with
// an *domain.EngineError.
func Run(ctx context.Context, opts RunOptions) (*domain.EngineResult, error) {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	msg := opts.Message

	fail := func(err error) (*domain.EngineResult, error) {
		logger.Error("engine failed", "messageId", msg.ID, "error", err.Error())
		return nil, &domain.EngineError{MessageID: msg.ID, Cause: err}
	}

	if opts.Provider == nil {
		return fail(fmt.Errorf("no model provider configured"))
	}

	ectx := domain.ExecutionContext{Message: msg, AgentName: opts.AgentName}
	tools, err := tool.Build(opts.Sources, opts.Actions, ectx, logger)
	if err != nil {
		return fail(err)
	}
	if opts.Observer != nil {
		tools.SetObserver(opts.Observer)
	}
	toolDefs := tools.Definitions()

	system := BuildSystemPrompt(opts.AgentName, opts.Description, opts.Instructions, opts.Triage)
	messages := []domain.ChatMessage{{Role: "user", Content: FormatMessage(msg)}}

	logger.Info("running engine", "messageId", msg.ID, "toolCount", len(toolDefs))

	var (
		text    string
		records []domain.ToolCallRecord
		steps   int
	)
	for steps < opts.MaxSteps {
		steps++
		logger.Debug("engine step", "messageId", msg.ID, "step", steps, "messages", len(messages))

		start := time.Now()
		resp, err := opts.Provider.Chat(ctx, domain.ChatRequest{
			System:      system,
			Messages:    messages,
			Tools:       toolDefs,
			Model:       opts.Model,
			MaxTokens:   opts.MaxTokens,
			Temperature: opts.Temperature,
		})
		if err != nil {
			return fail(fmt.Errorf("model error: %w", err))
		}
		resp.LatencyMs = time.Since(start).Milliseconds()
		text = resp.Content

		if !resp.HasToolCalls() {
			break
		}

		messages = append(messages, domain.ChatMessage{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			result, err := tools.Execute(ctx, tc.Name, tc.Arguments)
			if err != nil {
				return fail(err)
			}
			records = append(records, domain.ToolCallRecord{ToolName: tc.Name, Args: tc.Arguments, Result: result})
			messages = append(messages, domain.ChatMessage{
				Role:       "tool",
				Content:    tool.ArgsJSON(result),
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}

		if steps == opts.MaxSteps {
			logger.Warn("step budget exhausted", "messageId", msg.ID, "maxSteps", opts.MaxSteps)
		}
	}

	logger.Info("engine completed", "messageId", msg.ID, "steps", steps, "toolCallCount", len(records))

	return &domain.EngineResult{
		Text:      text,
		ToolCalls: records,
		Steps:     steps,
	}, nil
}
