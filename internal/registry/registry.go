// Package registry turns configuration descriptors into components. Each
// kind has a closed map from type tag to constructor.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/ciaranashton/relay-agent/internal/action"
	"github.com/ciaranashton/relay-agent/internal/agent"
	"github.com/ciaranashton/relay-agent/internal/channel"
	"github.com/ciaranashton/relay-agent/internal/config"
	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/httpclient"
	"github.com/ciaranashton/relay-agent/internal/provider"
	"github.com/ciaranashton/relay-agent/internal/source"
	"github.com/ciaranashton/relay-agent/internal/tool"
)

// Deps are the shared collaborators handed to every constructor.
type Deps struct {
	Logger     *slog.Logger
	HTTPClient *http.Client
	// Providers overrides the model provider factory, mainly for tests.
	Providers *provider.Factory
	Observer  tool.Observer
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = httpclient.Shared(0)
	}
	if d.Providers == nil {
		d.Providers = provider.NewFactory(d.Logger)
	}
	return d
}

type (
	inboundCtor func(config.Descriptor, Deps) (domain.InboundAdapter, error)
	sourceCtor  func(config.Descriptor, Deps) (domain.Source, error)
	actionCtor  func(config.Descriptor, Deps) (domain.Action, error)
)

var inboundTypes = map[string]inboundCtor{
	"webhook": func(d config.Descriptor, _ Deps) (domain.InboundAdapter, error) {
		var o channel.WebhookOptions
		if err := decode(d, &o); err != nil {
			return nil, err
		}
		return channel.NewWebhook(o), nil
	},
	"resend": func(d config.Descriptor, deps Deps) (domain.InboundAdapter, error) {
		var o channel.ResendOptions
		if err := decode(d, &o); err != nil {
			return nil, err
		}
		return channel.NewResend(o, deps.HTTPClient, deps.Logger)
	},
	"email": func(d config.Descriptor, _ Deps) (domain.InboundAdapter, error) {
		var o channel.EmailOptions
		if err := decode(d, &o); err != nil {
			return nil, err
		}
		return channel.NewEmail(o), nil
	},
	"slack": func(d config.Descriptor, _ Deps) (domain.InboundAdapter, error) {
		var o channel.SlackOptions
		if err := decode(d, &o); err != nil {
			return nil, err
		}
		return channel.NewSlack(o)
	},
	"telegram": func(d config.Descriptor, _ Deps) (domain.InboundAdapter, error) {
		var o channel.TelegramOptions
		if err := decode(d, &o); err != nil {
			return nil, err
		}
		return channel.NewTelegram(o), nil
	},
	"whatsapp": func(d config.Descriptor, _ Deps) (domain.InboundAdapter, error) {
		var o channel.WhatsAppOptions
		if err := decode(d, &o); err != nil {
			return nil, err
		}
		return channel.NewWhatsApp(o)
	},
}

var sourceTypes = map[string]sourceCtor{
	"json-file": func(d config.Descriptor, _ Deps) (domain.Source, error) {
		var o source.JSONFileOptions
		if err := decode(d, &o); err != nil {
			return nil, err
		}
		return source.NewJSONFile(o)
	},
	"sqlite": func(d config.Descriptor, _ Deps) (domain.Source, error) {
		var o source.SQLiteOptions
		if err := decode(d, &o); err != nil {
			return nil, err
		}
		return source.NewSQLite(o)
	},
	"google-sheets": func(d config.Descriptor, _ Deps) (domain.Source, error) {
		var o source.GoogleSheetsOptions
		if err := decode(d, &o); err != nil {
			return nil, err
		}
		return source.NewGoogleSheets(context.Background(), o, nil)
	},
}

var actionTypes = map[string]actionCtor{
	"reply": func(d config.Descriptor, deps Deps) (domain.Action, error) {
		var o action.ReplyOptions
		if err := decode(d, &o); err != nil {
			return nil, err
		}
		return action.NewReply(o, deps.Logger)
	},
	"triage": func(d config.Descriptor, deps Deps) (domain.Action, error) {
		var o action.TriageOptions
		if err := decode(d, &o); err != nil {
			return nil, err
		}
		return action.NewTriage(o, deps.Logger)
	},
	"log": func(_ config.Descriptor, deps Deps) (domain.Action, error) {
		return action.NewLog(deps.Logger), nil
	},
	"telegram": func(d config.Descriptor, _ Deps) (domain.Action, error) {
		var o action.TelegramOptions
		if err := decode(d, &o); err != nil {
			return nil, err
		}
		return action.NewTelegram(o)
	},
	"github-issue": func(d config.Descriptor, deps Deps) (domain.Action, error) {
		var o action.GitHubIssueOptions
		if err := decode(d, &o); err != nil {
			return nil, err
		}
		return action.NewGitHubIssue(o, deps.HTTPClient, deps.Logger)
	},
	"mqtt": func(d config.Descriptor, deps Deps) (domain.Action, error) {
		var o action.MQTTOptions
		if err := decode(d, &o); err != nil {
			return nil, err
		}
		return action.NewMQTT(o, deps.Logger)
	},
	"http": func(d config.Descriptor, deps Deps) (domain.Action, error) {
		var o action.HTTPOptions
		if err := decode(d, &o); err != nil {
			return nil, err
		}
		return action.NewHTTP(o, deps.HTTPClient, deps.Logger)
	},
}

func decode(d config.Descriptor, target any) error {
	if err := d.Decode(target); err != nil {
		return &domain.ConfigError{Msg: fmt.Sprintf("invalid options for %q", d.Type), Cause: err}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func unknown[V any](kind, tag string, m map[string]V) error {
	return domain.NewConfigError("Unknown %s type: %q. Available: %s", kind, tag, strings.Join(sortedKeys(m), ", "))
}

// Available lists the registered type tags for inbound, source or action.
func Available(kind string) []string {
	switch kind {
	case "inbound":
		return sortedKeys(inboundTypes)
	case "source":
		return sortedKeys(sourceTypes)
	case "action":
		return sortedKeys(actionTypes)
	}
	return nil
}

func NewInbound(d config.Descriptor, deps Deps) (domain.InboundAdapter, error) {
	ctor, ok := inboundTypes[d.Type]
	if !ok {
		return nil, unknown("inbound", d.Type, inboundTypes)
	}
	return ctor(d, deps.withDefaults())
}

func NewSource(d config.Descriptor, deps Deps) (domain.Source, error) {
	ctor, ok := sourceTypes[d.Type]
	if !ok {
		return nil, unknown("source", d.Type, sourceTypes)
	}
	return ctor(d, deps.withDefaults())
}

func NewAction(d config.Descriptor, deps Deps) (domain.Action, error) {
	ctor, ok := actionTypes[d.Type]
	if !ok {
		return nil, unknown("action", d.Type, actionTypes)
	}
	return ctor(d, deps.withDefaults())
}

// Components is everything a config describes, ready to serve.
type Components struct {
	Inbound  domain.InboundAdapter
	Provider domain.Provider
	Sources  []domain.Source
	Actions  []domain.Action
	Agent    *agent.RelayAgent

	closers []io.Closer
}

// Close releases sources and actions that hold connections or files.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Components) track(v any) {
	if cl, ok := v.(io.Closer); ok {
		c.closers = append(c.closers, cl)
	}
}

// Build constructs every component of cfg and the agent that binds them.
// Tool name collisions are rejected here, before any message arrives.
func Build(cfg *config.Config, deps Deps) (*Components, error) {
	deps = deps.withDefaults()
	c := &Components{}
	fail := func(err error) (*Components, error) {
		c.Close()
		return nil, err
	}

	var err error
	if c.Inbound, err = NewInbound(cfg.Inbound, deps); err != nil {
		return fail(err)
	}
	for i, d := range cfg.Sources {
		src, err := NewSource(d, deps)
		if err != nil {
			return fail(fmt.Errorf("sources[%d]: %w", i, err))
		}
		c.track(src)
		c.Sources = append(c.Sources, src)
	}
	for i, d := range cfg.Actions {
		act, err := NewAction(d, deps)
		if err != nil {
			return fail(fmt.Errorf("actions[%d]: %w", i, err))
		}
		c.track(act)
		c.Actions = append(c.Actions, act)
	}
	if err := tool.CheckNames(c.Sources, c.Actions); err != nil {
		return fail(err)
	}

	if c.Provider, err = deps.Providers.Build(cfg.Model); err != nil {
		return fail(err)
	}

	c.Agent = agent.New(agent.Config{
		Name:         cfg.Name,
		Description:  cfg.Description,
		Instructions: cfg.Instructions,
		Provider:     c.Provider,
		Model:        cfg.Model.Name,
		Sources:      c.Sources,
		Actions:      c.Actions,
		Triage:       cfg.Triage.Policy(),
		MaxSteps:     cfg.Engine.MaxSteps,
		MaxTokens:    cfg.Engine.MaxTokens,
		Temperature:  cfg.Engine.Temperature,
		Observer:     deps.Observer,
	}, deps.Logger)

	deps.Logger.Info("components built",
		"inbound", c.Inbound.Name(),
		"sources", len(c.Sources),
		"actions", len(c.Actions),
		"provider", c.Provider.Name(),
	)
	return c, nil
}
