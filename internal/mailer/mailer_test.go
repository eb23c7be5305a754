package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/emersion/go-message/mail"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// sentEmail mirrors the fields of the Resend send request the tests check.
type sentEmail struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	Text    string            `json:"text"`
	HTML    string            `json:"html"`
	Headers map[string]string `json:"headers"`
}

func newTestResend(t *testing.T, srv *httptest.Server, key string) *Resend {
	t.Helper()
	m, err := NewResend(ResendConfig{APIKey: key, APIBase: srv.URL, Client: srv.Client(), Logger: testLogger()})
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestResend_Send(t *testing.T) {
	var got sentEmail
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer re_test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"email-123"}`))
	}))
	defer srv.Close()

	res, err := newTestResend(t, srv, "re_test").Send(context.Background(), Email{
		From: "bot@x.com", To: []string{"user@x.com"}, Subject: "Re: hi", Body: "**thanks**", InReplyTo: "<orig@x.com>",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ID != "email-123" {
		t.Fatalf("ID = %q", res.ID)
	}
	if got.From != "bot@x.com" || len(got.To) != 1 || got.To[0] != "user@x.com" || got.Text != "**thanks**" {
		t.Fatalf("payload = %+v", got)
	}
	if !strings.Contains(got.HTML, "<strong>thanks</strong>") {
		t.Fatalf("html = %q", got.HTML)
	}
	if got.Headers["In-Reply-To"] != "<orig@x.com>" {
		t.Fatalf("headers = %v", got.Headers)
	}
}

func TestResend_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"statusCode":422,"name":"validation_error","message":"Invalid from address"}`))
	}))
	defer srv.Close()

	_, err := newTestResend(t, srv, "k").Send(context.Background(), Email{From: "bad", To: []string{"a@x.com"}})
	re, ok := IsRejected(err)
	if !ok {
		t.Fatalf("expected RejectedError, got %v", err)
	}
	if !strings.Contains(re.Message, "Invalid from address") {
		t.Fatalf("Message = %q", re.Message)
	}
}

func TestResend_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	m := newTestResend(t, srv, "k")
	srv.Close()

	_, err := m.Send(context.Background(), Email{From: "a@x.com", To: []string{"b@x.com"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := IsRejected(err); ok {
		t.Fatalf("unreachable API is a transport error, not a rejection: %v", err)
	}
}

func TestCompose(t *testing.T) {
	raw, id, err := Compose(Email{
		From:      "Bot <bot@x.com>",
		To:        []string{"user@x.com"},
		Subject:   "Hello",
		Body:      "# Title\n\nSome **bold** text.",
		InReplyTo: "<orig@x.com>",
	})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated Message-ID")
	}

	r, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("parse composed message: %v", err)
	}
	if subj, _ := r.Header.Subject(); subj != "Hello" {
		t.Fatalf("Subject = %q", subj)
	}
	if irt := r.Header.Get("In-Reply-To"); irt != "<orig@x.com>" {
		t.Fatalf("In-Reply-To = %q", irt)
	}

	var types []string
	var plain string
	for {
		p, err := r.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		ct := p.Header.Get("Content-Type")
		types = append(types, ct)
		if strings.HasPrefix(ct, "text/plain") {
			b, _ := io.ReadAll(p.Body)
			plain = string(b)
		}
	}
	if len(types) != 2 {
		t.Fatalf("parts = %v", types)
	}
	if !strings.Contains(plain, "Some bold text.") || strings.Contains(plain, "**") || strings.Contains(plain, "#") {
		t.Fatalf("plain = %q", plain)
	}
}

func TestCompose_BadAddress(t *testing.T) {
	if _, _, err := Compose(Email{From: "not an address", To: []string{"a@x.com"}}); err == nil {
		t.Fatal("expected error")
	}
}

func TestBareAddresses(t *testing.T) {
	got, err := bareAddresses([]string{"Ann <ann@x.com>", "ann@x.com", "bob@x.com"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "ann@x.com" || got[1] != "bob@x.com" {
		t.Fatalf("got %v", got)
	}
	if _, err := bareAddresses(nil); err == nil {
		t.Fatal("expected error for no recipients")
	}
}

func TestNew(t *testing.T) {
	if m, err := New(Options{APIKey: "k"}, testLogger()); err != nil || m.Name() != "resend" {
		t.Fatalf("default mailer: %v %v", m, err)
	}
	m, err := New(Options{Type: "smtp", Host: "mail.x.com", Port: 465}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if s := m.(*SMTP); s.cfg.StartTLS {
		t.Fatal("port 465 should use implicit TLS")
	}
	if _, err := New(Options{Type: "pigeon"}, testLogger()); err == nil {
		t.Fatal("expected error for unknown type")
	}
	if _, err := New(Options{Type: "resend"}, testLogger()); err == nil {
		t.Fatal("expected error for missing apiKey")
	}
}
