package metrics

import (
	"strconv"
	"time"
)

// Prefix of every series this process exports.
const Prefix = "relayagent"

var durationBuckets = []float64{0.5, 1, 2, 5, 10, 30, 60, 120}

// Recorder exposes the named series the server, dispatcher and engine
// update. A nil *Recorder is valid and records nothing.
type Recorder struct {
	c        *Collector
	inflight *Gauge
	engine   *Histogram
}

func NewRecorder(c *Collector) *Recorder {
	return &Recorder{
		c:        c,
		inflight: c.Gauge(Prefix+"_inflight_messages", "Messages currently being processed", ""),
		engine: c.Histogram(Prefix+"_engine_duration_seconds", "Engine run duration in seconds", "",
			durationBuckets),
	}
}

func (r *Recorder) Collector() *Collector {
	if r == nil {
		return nil
	}
	return r.c
}

// Webhook counts one webhook request by adapter and HTTP status.
func (r *Recorder) Webhook(adapter string, status int) {
	if r == nil {
		return
	}
	r.c.Counter(Prefix+"_webhooks_total", "Webhook requests by adapter and status",
		Labels("adapter", adapter, "status", strconv.Itoa(status))).Inc()
}

// EngineRun records one finished engine run. result is ok or error.
func (r *Recorder) EngineRun(result string, d time.Duration) {
	if r == nil {
		return
	}
	r.c.Counter(Prefix+"_engine_runs_total", "Engine runs by result", Labels("result", result)).Inc()
	r.engine.Observe(d.Seconds())
}

// ToolCall records one tool execution; its signature matches tool.Observer.
func (r *Recorder) ToolCall(name string, d time.Duration, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.c.Counter(Prefix+"_tool_calls_total", "Tool calls by tool and result",
		Labels("tool", name, "result", result)).Inc()
}

// Dropped counts a message the bus could not enqueue.
func (r *Recorder) Dropped() {
	if r == nil {
		return
	}
	r.c.Counter(Prefix+"_messages_dropped_total", "Messages dropped because the queue was full", "").Inc()
}

// Duplicate counts a message acknowledged without dispatch.
func (r *Recorder) Duplicate() {
	if r == nil {
		return
	}
	r.c.Counter(Prefix+"_messages_duplicate_total", "Redelivered messages acknowledged without processing", "").Inc()
}

func (r *Recorder) InflightInc() {
	if r != nil {
		r.inflight.Inc()
	}
}

func (r *Recorder) InflightDec() {
	if r != nil {
		r.inflight.Dec()
	}
}
