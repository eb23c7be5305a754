package bus

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ciaranashton/relay-agent/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublishSubscribe(t *testing.T) {
	b := New(2, testLogger())
	if !b.Publish(domain.Message{ID: "a"}) || !b.Publish(domain.Message{ID: "b"}) {
		t.Fatal("publish into a free buffer should report enqueued")
	}

	if b.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", b.Len())
	}
	ch := b.Subscribe()
	if got := (<-ch).ID; got != "a" {
		t.Fatalf("first = %q, want a", got)
	}
	if got := (<-ch).ID; got != "b" {
		t.Fatalf("second = %q, want b", got)
	}
}

func TestPublish_DropsWhenFull(t *testing.T) {
	b := New(1, testLogger())
	b.publishTimeout = 20 * time.Millisecond

	var drops atomic.Int32
	b.OnDrop(func(domain.Message) { drops.Add(1) })

	b.Publish(domain.Message{ID: "a"})
	start := time.Now()
	if b.Publish(domain.Message{ID: "b"}) {
		t.Fatal("dropped message reported as enqueued")
	}

	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("publish should wait before dropping")
	}
	if drops.Load() != 1 {
		t.Fatalf("drops = %d, want 1", drops.Load())
	}
	if b.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", b.Len())
	}
}

func TestPublish_DeliveredAfterWait(t *testing.T) {
	b := New(1, testLogger())
	b.publishTimeout = time.Second
	b.Publish(domain.Message{ID: "a"})

	go func() {
		time.Sleep(10 * time.Millisecond)
		<-b.Subscribe()
	}()
	b.Publish(domain.Message{ID: "b"})

	if got := (<-b.Subscribe()).ID; got != "b" {
		t.Fatalf("got %q, want b", got)
	}
}

func TestClose(t *testing.T) {
	b := New(1, testLogger())
	var drops atomic.Int32
	b.OnDrop(func(domain.Message) { drops.Add(1) })

	b.Close()
	b.Close()
	if b.Publish(domain.Message{ID: "late"}) {
		t.Fatal("publish after close reported as enqueued")
	}

	if _, ok := <-b.Subscribe(); ok {
		t.Fatal("channel should be closed")
	}
	if drops.Load() != 1 {
		t.Fatalf("publish after close should count as a drop")
	}
}
