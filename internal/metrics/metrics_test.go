package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRender(t *testing.T) {
	c := NewCollector("relayagent")
	r := NewRecorder(c)

	r.Webhook("webhook", 200)
	r.Webhook("webhook", 200)
	r.Webhook("webhook", 401)
	r.EngineRun("ok", 1500*time.Millisecond)
	r.ToolCall("query_sheet", time.Millisecond, nil)
	r.ToolCall("query_sheet", time.Millisecond, errors.New("boom"))
	r.InflightInc()

	out := c.Render()
	for _, want := range []string{
		"relayagent_uptime_seconds ",
		"# TYPE relayagent_webhooks_total counter",
		`relayagent_webhooks_total{adapter="webhook",status="200"} 2`,
		`relayagent_webhooks_total{adapter="webhook",status="401"} 1`,
		`relayagent_engine_runs_total{result="ok"} 1`,
		`relayagent_tool_calls_total{tool="query_sheet",result="error"} 1`,
		"relayagent_inflight_messages 1",
		`relayagent_engine_duration_seconds_bucket{le="1"} 0`,
		`relayagent_engine_duration_seconds_bucket{le="2"} 1`,
		`relayagent_engine_duration_seconds_bucket{le="+Inf"} 1`,
		"relayagent_engine_duration_seconds_count 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Count(out, "# HELP relayagent_webhooks_total") != 1 {
		t.Error("HELP should be written once per metric name")
	}
}

func TestLabels_Escaping(t *testing.T) {
	if got := Labels("a", `x"y`, "b", "1"); got != `a="x\"y",b="1"` {
		t.Fatalf("Labels = %s", got)
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.Webhook("x", 200)
	r.EngineRun("ok", time.Second)
	r.ToolCall("t", 0, nil)
	r.InflightInc()
	r.InflightDec()
	r.Dropped()
	if r.Collector() != nil {
		t.Fatal("nil recorder has no collector")
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector("relayagent")
	c.Counter("relayagent_x_total", "x", "").Inc()
	w := httptest.NewRecorder()
	c.Handler()(w, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("Content-Type = %q", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), "relayagent_x_total 1") {
		t.Fatalf("body = %s", w.Body.String())
	}
}
