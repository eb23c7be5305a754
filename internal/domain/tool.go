package domain

import (
	"context"

	"github.com/ciaranashton/relay-agent/internal/schema"
)

// Tool is a single callable capability presented to the model.
type Tool interface {
	Name() string
	Description() string
	Schema() *schema.Schema
	Execute(ctx context.Context, args map[string]any) (any, error)
}
