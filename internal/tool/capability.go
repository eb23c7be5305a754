package tool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/schema"
)

const (
	QueryPrefix  = "query_"
	WritePrefix  = "write_"
	ActionPrefix = "action_"
)

// Build converts sources and actions into an ordered registry: for each
// source its query tool then its write tool, then every action. Names that
// collide after prefixing are rejected.
func Build(sources []domain.Source, actions []domain.Action, ectx domain.ExecutionContext, logger *slog.Logger) (*Registry, error) {
	reg := NewRegistry(logger)

	for _, src := range sources {
		if err := reg.Register(&queryTool{src: src}); err != nil {
			return nil, err
		}
		if w, ok := writerOf(src); ok {
			if err := reg.Register(&writeTool{src: src, w: w}); err != nil {
				return nil, err
			}
		}
	}
	for _, act := range actions {
		if err := reg.Register(&actionTool{act: act, ectx: ectx}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// CheckNames runs the same collision check as Build without an execution
// context, so configuration problems surface at startup.
func CheckNames(sources []domain.Source, actions []domain.Action) error {
	seen := make(map[string]bool)
	check := func(name string) error {
		if seen[name] {
			return domain.NewConfigError("duplicate tool name %q", name)
		}
		seen[name] = true
		return nil
	}
	for _, src := range sources {
		if err := check(QueryPrefix + src.Name()); err != nil {
			return err
		}
		if _, ok := writerOf(src); ok {
			if err := check(WritePrefix + src.Name()); err != nil {
				return err
			}
		}
	}
	for _, act := range actions {
		if err := check(ActionPrefix + act.Name()); err != nil {
			return err
		}
	}
	return nil
}

func writerOf(src domain.Source) (domain.Writer, bool) {
	w, ok := src.(domain.Writer)
	if !ok || w.WriteSchema() == nil {
		return nil, false
	}
	return w, true
}

type queryTool struct {
	src domain.Source
}

func (t *queryTool) Name() string { return QueryPrefix + t.src.Name() }

func (t *queryTool) Description() string {
	if d := t.src.QueryDescription(); d != "" {
		return d
	}
	return fmt.Sprintf("Query data from %s: %s", t.src.Name(), t.src.Description())
}

func (t *queryTool) Schema() *schema.Schema { return t.src.QuerySchema() }

func (t *queryTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	res, err := validated(t.src.QuerySchema(), args, func() (any, error) { return t.src.Query(ctx, args) })
	if err != nil {
		return nil, &domain.SourceError{Source: t.src.Name(), Op: "query", Cause: err}
	}
	return res, nil
}

type writeTool struct {
	src domain.Source
	w   domain.Writer
}

func (t *writeTool) Name() string { return WritePrefix + t.src.Name() }

func (t *writeTool) Description() string {
	if d := t.w.WriteDescription(); d != "" {
		return d
	}
	return fmt.Sprintf("Write data to %s: %s", t.src.Name(), t.src.Description())
}

func (t *writeTool) Schema() *schema.Schema { return t.w.WriteSchema() }

func (t *writeTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	res, err := validated(t.w.WriteSchema(), args, func() (any, error) { return t.w.Write(ctx, args) })
	if err != nil {
		return nil, &domain.SourceError{Source: t.src.Name(), Op: "write", Cause: err}
	}
	return res, nil
}

type actionTool struct {
	act  domain.Action
	ectx domain.ExecutionContext
}

func (t *actionTool) Name() string           { return ActionPrefix + t.act.Name() }
func (t *actionTool) Description() string    { return t.act.Description() }
func (t *actionTool) Schema() *schema.Schema { return t.act.Schema() }

func (t *actionTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	res, err := validated(t.act.Schema(), args, func() (any, error) { return t.act.Execute(ctx, args, t.ectx) })
	if err != nil {
		return nil, &domain.ActionError{Action: t.act.Name(), Cause: err}
	}
	return res, nil
}

// validated checks args before running fn; a violation is a failure of the tool.
func validated(s *schema.Schema, args map[string]any, fn func() (any, error)) (any, error) {
	if err := s.Validate(args); err != nil {
		return nil, err
	}
	return fn()
}
