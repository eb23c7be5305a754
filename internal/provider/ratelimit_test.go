package provider

import (
	"context"
	"testing"
	"time"

	"github.com/ciaranashton/relay-agent/internal/domain"
)

func TestRateLimiter_Burst(t *testing.T) {
	rl := NewRateLimiter(3, 60.0)
	for i := 0; i < 3; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatalf("burst token %d failed: %v", i, err)
		}
	}
}

func TestRateLimiter_WaitsAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 600.0) // refills 10/sec

	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first wait: %v", err)
	}
	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected some wait time, got %v", elapsed)
	}
}

func TestRateLimited_CancelledContext(t *testing.T) {
	inner := &mockProvider{name: "inner", healthy: true, chatResp: &domain.ChatResponse{Content: "hi"}}
	p := NewRateLimited(inner, NewRateLimiter(1, 1.0))

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := p.Chat(ctx, domain.ChatRequest{}); err != nil {
		t.Fatal(err)
	}
	cancel()
	if _, err := p.Chat(ctx, domain.ChatRequest{}); err == nil {
		t.Fatal("expected context cancelled error")
	}
	if inner.calls != 1 {
		t.Fatalf("inner calls = %d, want 1", inner.calls)
	}
	if p.Name() != "inner" {
		t.Fatalf("Name = %q", p.Name())
	}
}
