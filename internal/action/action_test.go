package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/mailer"
)

var (
	_ domain.Action = (*Reply)(nil)
	_ domain.Action = (*Triage)(nil)
	_ domain.Action = (*Log)(nil)
	_ domain.Action = (*Telegram)(nil)
	_ domain.Action = (*GitHubIssue)(nil)
	_ domain.Action = (*MQTT)(nil)
	_ domain.Action = (*HTTP)(nil)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubMailer struct {
	sent []mailer.Email
	err  error
}

func (m *stubMailer) Name() string { return "stub" }

func (m *stubMailer) Send(_ context.Context, e mailer.Email) (mailer.Result, error) {
	if m.err != nil {
		return mailer.Result{}, m.err
	}
	m.sent = append(m.sent, e)
	return mailer.Result{ID: "email-1"}, nil
}

func testContext() domain.ExecutionContext {
	return domain.ExecutionContext{
		AgentName: "Expense Bot",
		Message: domain.Message{
			ID:         "msg-1",
			Channel:    domain.ChannelEmail,
			From:       "user@x.com",
			Subject:    "Refund please",
			Body:       "I want my money back",
			ReceivedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			Metadata:   map[string]any{"messageId": "<orig@x.com>", "chatId": "42"},
		},
	}
}

// --- reply ---

func TestReply_Sends(t *testing.T) {
	m := &stubMailer{}
	a := NewReplyWithMailer("bot@x.com", m)
	res, err := a.Execute(context.Background(), map[string]any{"to": "user@x.com", "subject": "Re: hi", "body": "done"}, testContext())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Data.(map[string]any)["emailId"] != "email-1" {
		t.Fatalf("result = %+v", res)
	}
	if len(m.sent) != 1 || m.sent[0].From != "bot@x.com" || m.sent[0].To[0] != "user@x.com" || m.sent[0].InReplyTo != "<orig@x.com>" {
		t.Fatalf("sent = %+v", m.sent)
	}
}

func TestReply_Rejected(t *testing.T) {
	a := NewReplyWithMailer("bot@x.com", &stubMailer{err: &mailer.RejectedError{Provider: "resend", Message: "bad from"}})
	res, err := a.Execute(context.Background(), map[string]any{"to": "a@x.com", "subject": "s", "body": "b"}, testContext())
	if err != nil {
		t.Fatalf("rejection should not be an error: %v", err)
	}
	if res.Success || res.Error != "bad from" {
		t.Fatalf("result = %+v", res)
	}
}

func TestReply_TransportError(t *testing.T) {
	a := NewReplyWithMailer("bot@x.com", &stubMailer{err: errors.New("connection refused")})
	if _, err := a.Execute(context.Background(), map[string]any{"to": "a@x.com"}, testContext()); err == nil {
		t.Fatal("transport failure should be returned as an error")
	}
}

func TestNewReply_RequiresFrom(t *testing.T) {
	if _, err := NewReply(ReplyOptions{APIKey: "k"}, testLogger()); err == nil {
		t.Fatal("expected error")
	}
	if _, err := NewReply(ReplyOptions{FromAddress: "a@x.com", APIKey: "k"}, testLogger()); err != nil {
		t.Fatalf("resend shorthand: %v", err)
	}
}

// --- triage ---

func TestTriage_Email(t *testing.T) {
	m := &stubMailer{}
	a := NewTriageWithMailer("bot@x.com", "human@x.com", m, testLogger())
	res, err := a.Execute(context.Background(), map[string]any{
		"reason": "refund request", "recommendation": "Approve it", "urgency": "high",
	}, testContext())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.Data.(map[string]any)["triaged"] != true {
		t.Fatalf("result = %+v", res)
	}
	sent := m.sent[0]
	if sent.To[0] != "human@x.com" || sent.Subject != "[URGENT] Triage: Refund please" {
		t.Fatalf("sent = %+v", sent)
	}
	want := "[URGENT] Triage from Expense Bot\n\n" +
		"Original message from: user@x.com\n" +
		"Subject: Refund please\n" +
		"Received: 2025-01-02T03:04:05.000Z\n\n" +
		"--- Original Message ---\n" +
		"I want my money back\n\n" +
		"--- Agent Analysis ---\n" +
		"Reason for triage: refund request\n" +
		"\nRecommended response:\nApprove it"
	if sent.Body != want {
		t.Fatalf("body =\n%s\nwant\n%s", sent.Body, want)
	}
}

func TestUrgencyPrefix(t *testing.T) {
	for in, want := range map[string]string{"high": "[URGENT]", "medium": "[REVIEW]", "low": "[FYI]"} {
		if got := urgencyPrefix(in); got != want {
			t.Errorf("urgencyPrefix(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTriage_NoSubject(t *testing.T) {
	m := &stubMailer{}
	a := NewTriageWithMailer("bot@x.com", "human@x.com", m, testLogger())
	ectx := testContext()
	ectx.Message.Subject = ""
	a.Execute(context.Background(), map[string]any{"reason": "r", "urgency": "low"}, ectx)
	if m.sent[0].Subject != "[FYI] Triage: No subject" || !strings.Contains(m.sent[0].Body, "Subject: (no subject)") {
		t.Fatalf("sent = %+v", m.sent[0])
	}
	if strings.Contains(m.sent[0].Body, "Recommended response") {
		t.Fatal("no recommendation section expected")
	}
}

func TestTriage_Webhook(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	a, err := NewTriage(TriageOptions{Channel: domain.TriageWebhook, WebhookURL: srv.URL}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	res, err := a.Execute(context.Background(), map[string]any{"reason": "r", "urgency": "medium"}, testContext())
	if err != nil || !res.Success {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if got["subject"] != "[REVIEW] Triage: Refund please" || got["agent"] != "Expense Bot" {
		t.Fatalf("payload = %v", got)
	}
}

func TestTriage_Slack(t *testing.T) {
	var text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat.postMessage") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		r.ParseForm()
		text = r.FormValue("text")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"channel":"C1","ts":"111.222"}`))
	}))
	defer srv.Close()

	a, err := NewTriage(TriageOptions{Channel: domain.TriageSlack, SlackToken: "xoxb-1", SlackChannel: "C1", SlackAPIURL: srv.URL}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	res, err := a.Execute(context.Background(), map[string]any{"reason": "r", "urgency": "high"}, testContext())
	if err != nil || !res.Success {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if !strings.Contains(text, "[URGENT] Triage: Refund please") {
		t.Fatalf("text = %q", text)
	}
}

func TestNewTriage_InvalidOptions(t *testing.T) {
	cases := []TriageOptions{
		{Channel: "pager"},
		{Channel: domain.TriageEmail, FromAddress: "a@x.com", APIKey: "k"},
		{Channel: domain.TriageSlack, SlackToken: "t"},
		{Channel: domain.TriageWebhook},
	}
	for _, opts := range cases {
		if _, err := NewTriage(opts, testLogger()); err == nil {
			t.Errorf("expected error for %+v", opts)
		}
	}
}

// --- log ---

func TestLog_Execute(t *testing.T) {
	var buf bytes.Buffer
	a := NewLog(slog.New(slog.NewJSONHandler(&buf, nil)))
	a.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

	res, err := a.Execute(context.Background(), map[string]any{
		"level": "warn", "message": "large expense", "data": map[string]any{"amount": 900.0},
	}, testContext())
	if err != nil {
		t.Fatal(err)
	}
	entry := res.Data.(map[string]any)
	if entry["agent"] != "Expense Bot" || entry["messageId"] != "msg-1" || entry["amount"] != 900.0 || entry["timestamp"] != "2025-01-01T00:00:00.000Z" {
		t.Fatalf("entry = %v", entry)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, `"msg":"large expense"`) || !strings.Contains(out, `"agent":"Expense Bot"`) {
		t.Fatalf("log output = %s", out)
	}
}

// --- telegram ---

func telegramServer(t *testing.T, sendResponse string) (*httptest.Server, *map[string]string) {
	t.Helper()
	sent := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"bot","username":"relay_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			r.ParseForm()
			sent["chat_id"] = r.FormValue("chat_id")
			sent["text"] = r.FormValue("text")
			w.Write([]byte(sendResponse))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &sent
}

func TestTelegram_SendsToOriginChat(t *testing.T) {
	srv, sent := telegramServer(t, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
	a, err := NewTelegram(TelegramOptions{BotToken: "123:abc", APIEndpoint: srv.URL + "/bot%s/%s"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := a.Execute(context.Background(), map[string]any{"text": "hello"}, testContext())
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || (*sent)["chat_id"] != "42" || (*sent)["text"] != "hello" {
		t.Fatalf("res=%+v sent=%v", res, *sent)
	}
}

func TestTelegram_APIError(t *testing.T) {
	srv, _ := telegramServer(t, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	a, _ := NewTelegram(TelegramOptions{BotToken: "123:abc", APIEndpoint: srv.URL + "/bot%s/%s"})
	res, err := a.Execute(context.Background(), map[string]any{"text": "hi", "chatId": "99"}, testContext())
	if err != nil {
		t.Fatalf("API error should be a result: %v", err)
	}
	if res.Success || !strings.Contains(res.Error, "chat not found") {
		t.Fatalf("res = %+v", res)
	}
}

func TestTelegram_NoChat(t *testing.T) {
	a, _ := NewTelegram(TelegramOptions{BotToken: "t"})
	res, err := a.Execute(context.Background(), map[string]any{"text": "hi"}, domain.ExecutionContext{})
	if err != nil || res.Success {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

// --- github-issue ---

func TestGitHubIssue_Create(t *testing.T) {
	var got map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v3/repos/acme/support/issues", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ghp_test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"number":12,"html_url":"https://github.com/acme/support/issues/12"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a, err := NewGitHubIssue(GitHubIssueOptions{Token: "ghp_test", Repo: "acme/support", APIBase: srv.URL, Labels: []string{"inbound"}}, srv.Client(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	res, err := a.Execute(context.Background(), map[string]any{"title": "Bug", "body": "It broke", "labels": []any{"bug"}}, testContext())
	if err != nil {
		t.Fatal(err)
	}
	if res.Data.(map[string]any)["number"] != 12 {
		t.Fatalf("res = %+v", res)
	}
	labels, _ := got["labels"].([]any)
	if got["title"] != "Bug" || len(labels) != 2 || labels[0] != "inbound" || labels[1] != "bug" {
		t.Fatalf("request = %v", got)
	}
}

func TestGitHubIssue_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Not Found"}`))
	}))
	defer srv.Close()

	a, _ := NewGitHubIssue(GitHubIssueOptions{Token: "t", Repo: "acme/missing", APIBase: srv.URL}, srv.Client(), testLogger())
	res, err := a.Execute(context.Background(), map[string]any{"title": "x", "body": "y"}, testContext())
	if err != nil || res.Success || res.Error != "Not Found" {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestSplitRepo(t *testing.T) {
	if _, _, err := splitRepo("noslash"); err == nil {
		t.Fatal("expected error")
	}
	o, r, err := splitRepo("a/b")
	if err != nil || o != "a" || r != "b" {
		t.Fatalf("got %q %q %v", o, r, err)
	}
}

// --- mqtt ---

func TestMQTT_Publish(t *testing.T) {
	a, err := NewMQTT(MQTTOptions{Broker: "mqtt://localhost:1883", Topic: "relay/events", QoS: 1}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	var got *paho.Publish
	a.publish = func(_ context.Context, p *paho.Publish) error {
		got = p
		return nil
	}

	res, err := a.Execute(context.Background(), map[string]any{"payload": map[string]any{"amount": 5.0}}, testContext())
	if err != nil || !res.Success {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if got.Topic != "relay/events" || got.QoS != 1 || string(got.Payload) != `{"amount":5}` {
		t.Fatalf("publish = %+v", got)
	}

	a.Execute(context.Background(), map[string]any{"topic": "other", "payload": "raw"}, testContext())
	if got.Topic != "other" || string(got.Payload) != "raw" {
		t.Fatalf("publish = %+v", got)
	}
}

func TestMQTT_Errors(t *testing.T) {
	a, _ := NewMQTT(MQTTOptions{Broker: "mqtt://localhost:1883"}, testLogger())
	a.publish = func(context.Context, *paho.Publish) error { return errors.New("broker down") }

	res, err := a.Execute(context.Background(), map[string]any{"payload": "x"}, testContext())
	if err != nil || res.Success {
		t.Fatalf("missing topic: res=%+v err=%v", res, err)
	}
	if _, err := a.Execute(context.Background(), map[string]any{"topic": "t", "payload": "x"}, testContext()); err == nil {
		t.Fatal("publish failure should be an error")
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close without connection: %v", err)
	}
	if _, err := NewMQTT(MQTTOptions{}, testLogger()); err == nil {
		t.Fatal("missing broker should fail")
	}
}

// --- http ---

func TestHTTP_PostsArgs(t *testing.T) {
	var got map[string]any
	var hdr http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr = r.Header
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"ticket":"T-1"}`))
	}))
	defer srv.Close()

	a, err := NewHTTP(HTTPOptions{
		Name:    "create_ticket",
		URL:     srv.URL,
		Headers: map[string]string{"X-Api-Key": "secret"},
		Schema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"title": map[string]any{"type": "string"}},
			"required":   []any{"title"},
		},
	}, srv.Client(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Schema().Validate(map[string]any{}); err == nil {
		t.Fatal("schema from config should require title")
	}

	res, err := a.Execute(context.Background(), map[string]any{"title": "Help"}, testContext())
	if err != nil || !res.Success {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if got["title"] != "Help" || hdr.Get("X-Api-Key") != "secret" || hdr.Get("X-Relay-Message-Id") != "msg-1" {
		t.Fatalf("request = %v %v", got, hdr)
	}
	resp := res.Data.(map[string]any)["response"].(map[string]any)
	if resp["ticket"] != "T-1" {
		t.Fatalf("response = %v", resp)
	}
}

func TestHTTP_GetQueryAndClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "coffee" {
			t.Errorf("query = %v", r.URL.Query())
		}
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, "bad query")
	}))
	defer srv.Close()

	a, _ := NewHTTP(HTTPOptions{Name: "lookup", URL: srv.URL, Method: "get"}, srv.Client(), testLogger())
	res, err := a.Execute(context.Background(), map[string]any{"q": "coffee"}, testContext())
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || !strings.Contains(res.Error, "HTTP 400") {
		t.Fatalf("res = %+v", res)
	}
}

func TestNewHTTP_Invalid(t *testing.T) {
	if _, err := NewHTTP(HTTPOptions{URL: "http://x"}, nil, testLogger()); err == nil {
		t.Error("missing name should fail")
	}
	if _, err := NewHTTP(HTTPOptions{Name: "a", URL: "http://x", Method: "TRACE"}, nil, testLogger()); err == nil {
		t.Error("unsupported method should fail")
	}
	if _, err := NewHTTP(HTTPOptions{Name: "a", URL: "http://x", Schema: map[string]any{"type": "tuple"}}, nil, testLogger()); err == nil {
		t.Error("bad schema should fail")
	}
}
