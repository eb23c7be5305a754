package action

import (
	"context"
	"log/slog"
	"time"

	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/schema"
	"github.com/ciaranashton/relay-agent/internal/tool"
)

var logSchema = schema.Object(
	schema.Prop("level", schema.String().Enum("info", "warn", "error").Describe("Log level for the entry")),
	schema.Prop("message", schema.String().Describe("Log message to record")),
	schema.Optional("data", schema.Record(schema.Any()).Describe("Additional structured data to include in the log")),
)

// Log writes a structured audit record.
type Log struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger, now: time.Now}
}

func (a *Log) Name() string { return "log" }

func (a *Log) Description() string {
	return "Log a structured message for audit/debugging purposes. Use this to record notable events during processing."
}

func (a *Log) Schema() *schema.Schema { return logSchema }

func (a *Log) Execute(ctx context.Context, args map[string]any, ectx domain.ExecutionContext) (domain.ActionResult, error) {
	level := tool.ArgsString(args, "level")
	message := tool.ArgsString(args, "message")

	entry := map[string]any{}
	attrs := []any{"messageId", ectx.Message.ID}
	if data, isMap := args["data"].(map[string]any); isMap {
		for k, v := range data {
			entry[k] = v
			attrs = append(attrs, k, v)
		}
	}
	entry["timestamp"] = a.now().UTC().Format("2006-01-02T15:04:05.000Z")
	entry["agent"] = ectx.AgentName
	entry["messageId"] = ectx.Message.ID
	entry["level"] = level
	entry["message"] = message

	lvl := slog.LevelInfo
	switch level {
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	a.logger.With("agent", ectx.AgentName).Log(ctx, lvl, message, attrs...)

	return ok(entry)
}
