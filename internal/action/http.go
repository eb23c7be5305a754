package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/httpclient"
	"github.com/ciaranashton/relay-agent/internal/schema"
	"github.com/ciaranashton/relay-agent/internal/tool"
)

// HTTPOptions declares an action that calls an HTTP endpoint. Its parameter
// schema comes from configuration.
type HTTPOptions struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	URL         string            `json:"url"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	Schema      map[string]any    `json:"schema"`
}

type HTTP struct {
	name        string
	description string
	url         string
	method      string
	headers     map[string]string
	schema      *schema.Schema
	client      *http.Client
	logger      *slog.Logger
}

func NewHTTP(opts HTTPOptions, client *http.Client, logger *slog.Logger) (*HTTP, error) {
	if err := requireOption("http", "name", opts.Name); err != nil {
		return nil, err
	}
	if err := requireOption("http", "url", opts.URL); err != nil {
		return nil, err
	}
	if _, err := url.ParseRequestURI(opts.URL); err != nil {
		return nil, fmt.Errorf("http action %s: invalid url: %w", opts.Name, err)
	}
	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodPost
	}
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil, fmt.Errorf("http action %s: unsupported method %q", opts.Name, opts.Method)
	}

	var s *schema.Schema
	if opts.Schema != nil {
		parsed, err := schema.Parse(opts.Schema)
		if err != nil {
			return nil, fmt.Errorf("http action %s schema: %w", opts.Name, err)
		}
		s = parsed
	} else {
		s = schema.Object()
	}
	if client == nil {
		client = httpclient.Shared(httpclient.DefaultTimeout)
	}
	desc := opts.Description
	if desc == "" {
		desc = fmt.Sprintf("Call %s %s.", method, opts.URL)
	}
	return &HTTP{
		name:        opts.Name,
		description: desc,
		url:         opts.URL,
		method:      method,
		headers:     opts.Headers,
		schema:      s,
		client:      client,
		logger:      logger,
	}, nil
}

func (a *HTTP) Name() string           { return a.name }
func (a *HTTP) Description() string    { return a.description }
func (a *HTTP) Schema() *schema.Schema { return a.schema }

func (a *HTTP) Execute(ctx context.Context, args map[string]any, ectx domain.ExecutionContext) (domain.ActionResult, error) {
	target := a.url
	var body []byte
	if a.method == http.MethodGet || a.method == http.MethodDelete {
		u, err := url.Parse(a.url)
		if err != nil {
			return domain.ActionResult{}, err
		}
		q := u.Query()
		for k := range args {
			q.Set(k, tool.ArgsString(args, k))
		}
		u.RawQuery = q.Encode()
		target = u.String()
	} else {
		b, err := json.Marshal(args)
		if err != nil {
			return domain.ActionResult{}, err
		}
		body = b
	}

	resp, err := httpclient.DoWithRetry(ctx, a.client, httpclient.RetryPolicy{MaxRetries: 2}, func() (*http.Request, error) {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, a.method, target, rd)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("X-Relay-Agent", ectx.AgentName)
		req.Header.Set("X-Relay-Message-Id", ectx.Message.ID)
		for k, v := range a.headers {
			req.Header.Set(k, v)
		}
		return req, nil
	}, a.logger)
	if err != nil {
		return domain.ActionResult{}, fmt.Errorf("%s %s: %w", a.method, a.url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.ActionResult{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return deliveryResult(&httpclient.StatusError{StatusCode: resp.StatusCode, Body: tool.Truncate(string(raw), 512)})
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		data = string(raw)
	}
	return ok(map[string]any{"status": resp.StatusCode, "response": data})
}
