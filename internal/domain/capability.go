package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ciaranashton/relay-agent/internal/schema"
)

// Source is a named data store the model can query.
type Source interface {
	Name() string
	Description() string
	// QueryDescription overrides the generated query tool description when non-empty.
	QueryDescription() string
	QuerySchema() *schema.Schema
	Query(ctx context.Context, args map[string]any) (any, error)
}

// Writer is implemented by sources that also accept writes. A write tool is
// only exposed when WriteSchema returns non-nil.
type Writer interface {
	WriteDescription() string
	WriteSchema() *schema.Schema
	Write(ctx context.Context, args map[string]any) (any, error)
}

// ActionResult is what an action reports back to the model.
type ActionResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Action is a named side effect the model can trigger.
type Action interface {
	Name() string
	Description() string
	Schema() *schema.Schema
	Execute(ctx context.Context, args map[string]any, ectx ExecutionContext) (ActionResult, error)
}

// InboundAdapter converts a provider webhook request into a Message.
type InboundAdapter interface {
	Name() string
	ParseWebhook(ctx context.Context, r *http.Request) (Message, error)
}

// Verifier is implemented by adapters that authenticate webhook requests.
type Verifier interface {
	VerifySignature(ctx context.Context, r *http.Request) error
}

// Handshaker is implemented by adapters whose provider sends setup
// challenges to the webhook URL. When handled is true the server writes
// status and response and skips verification and dispatch.
type Handshaker interface {
	Handshake(r *http.Request, body []byte) (status int, response any, handled bool)
}

func fmtAny(v any) string {
	switch t := v.(type) {
	case fmt.Stringer:
		return t.String()
	case float64, int, int64, bool:
		return fmt.Sprint(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
