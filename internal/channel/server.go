// Package channel is the HTTP ingestion surface: it verifies and parses
// provider webhooks into canonical messages, acknowledges them at once and
// hands them to the dispatcher.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ciaranashton/relay-agent/internal/dedup"
	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/metrics"
)

// DefaultMaxBodyBytes is the largest webhook body accepted; bigger ones get 413.
const DefaultMaxBodyBytes int64 = 10 << 20

// ServerConfig wires the ingestion server.
type ServerConfig struct {
	Port         int
	AgentName    string
	Adapter      domain.InboundAdapter
	Bus          domain.MessageBus
	Dedup        dedup.Store // optional
	Senders      SenderFilter
	Metrics      *metrics.Recorder
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// SenderFilter rejects messages from unwanted senders before dispatch.
type SenderFilter interface {
	Allowed(sender string) bool
}

// Server accepts webhooks for one inbound adapter.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
	server *http.Server
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: cfg.Logger}
}

// WebhookPath is where the adapter's provider should deliver.
func (s *Server) WebhookPath() string {
	return "/webhook/" + s.cfg.Adapter.Name()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc(s.WebhookPath(), s.handleWebhook)
	if c := s.cfg.Metrics.Collector(); c != nil {
		mux.HandleFunc("/metrics", c.Handler())
	}
	return mux
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("webhook server starting", "port", s.cfg.Port, "path", s.WebhookPath())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "agent": s.cfg.AgentName})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	adapter := s.cfg.Adapter.Name()
	reply := func(status int, v any) {
		s.cfg.Metrics.Webhook(adapter, status)
		writeJSON(w, status, v)
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.logger.Warn("webhook body too large", "adapter", adapter, "limit", tooLarge.Limit)
			reply(http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
			return
		}
		reply(http.StatusBadRequest, map[string]string{"error": "Unreadable body"})
		return
	}

	// Provider setup challenges may arrive as GET, so they run before the method check.
	if hs, ok := s.cfg.Adapter.(domain.Handshaker); ok {
		if status, resp, handled := hs.Handshake(rebuild(r, body), body); handled {
			s.logger.Info("webhook handshake answered", "adapter", adapter, "status", status)
			s.cfg.Metrics.Webhook(adapter, status)
			writeResponse(w, status, resp)
			return
		}
	}

	if r.Method != http.MethodPost {
		reply(http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
		return
	}

	if v, ok := s.cfg.Adapter.(domain.Verifier); ok {
		if err := v.VerifySignature(r.Context(), rebuild(r, body)); err != nil {
			s.logger.Warn("webhook verification failed", "adapter", adapter, "error", err)
			reply(http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
			return
		}
	}

	msg, err := s.cfg.Adapter.ParseWebhook(r.Context(), rebuild(r, body))
	if errors.Is(err, ErrIgnored) {
		s.logger.Debug("webhook event ignored", "adapter", adapter)
		reply(http.StatusOK, map[string]any{"received": true, "ignored": true})
		return
	}
	if err != nil {
		s.logger.Warn("webhook parse failed", "adapter", adapter, "error", err)
		reply(http.StatusBadRequest, map[string]string{"error": "Invalid payload"})
		return
	}

	if s.cfg.Senders != nil && !s.cfg.Senders.Allowed(msg.From) {
		s.logger.Info("message from filtered sender acknowledged", "messageId", msg.ID, "from", msg.From)
		reply(http.StatusOK, map[string]any{"received": true, "messageId": msg.ID, "ignored": true})
		return
	}

	if s.cfg.Dedup != nil {
		seen, err := s.cfg.Dedup.Seen(r.Context(), msg.ID)
		switch {
		case err != nil:
			s.logger.Error("dedup check failed, dispatching anyway", "messageId", msg.ID, "error", err)
		case seen:
			s.logger.Info("duplicate message acknowledged", "messageId", msg.ID)
			s.cfg.Metrics.Duplicate()
			reply(http.StatusOK, map[string]any{"received": true, "messageId": msg.ID, "duplicate": true})
			return
		}
	}

	s.logger.Info("webhook received", "adapter", adapter, "messageId", msg.ID, "channel", msg.Channel)
	// Publish may wait on a full queue; the provider gets its 200 regardless.
	go s.publish(msg)
	reply(http.StatusOK, map[string]any{"received": true, "messageId": msg.ID})
}

// publish enqueues msg. A dropped message is forgotten by dedup so the
// provider's redelivery is processed instead of acknowledged as a duplicate.
func (s *Server) publish(msg domain.Message) {
	if s.cfg.Bus.Publish(msg) || s.cfg.Dedup == nil {
		return
	}
	if err := s.cfg.Dedup.Forget(context.Background(), msg.ID); err != nil {
		s.logger.Error("dedup forget failed for dropped message", "messageId", msg.ID, "error", err)
	}
}

// rebuild returns a copy of r whose body replays the bytes already read.
func rebuild(r *http.Request, body []byte) *http.Request {
	clone := r.Clone(r.Context())
	clone.Body = io.NopCloser(bytes.NewReader(body))
	clone.ContentLength = int64(len(body))
	clone.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	return clone
}

// writeResponse writes plain-text responses verbatim and JSON-encodes the rest.
func writeResponse(w http.ResponseWriter, status int, v any) {
	if text, ok := v.(string); ok {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		io.WriteString(w, text)
		return
	}
	writeJSON(w, status, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
