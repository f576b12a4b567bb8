package tokenpool

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAcquireRotatesFIFO(t *testing.T) {
	p := New([]string{"a", "b", "c"})
	seq := []string{p.Acquire(), p.Acquire(), p.Acquire(), p.Acquire()}
	want := []string{"a", "b", "c", "a"}
	for i := range want {
		if seq[i] != want[i] {
			t.Fatalf("Acquire sequence = %v, want %v", seq, want)
		}
	}
}

func TestSize(t *testing.T) {
	p := New([]string{"a", "b"})
	if p.Size() != 2 {
		t.Fatalf("Size = %d, want 2", p.Size())
	}
}

func TestNewPanicsOnEmpty(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on empty token list")
		}
	}()
	New(nil)
}

func TestRateLimitHookNoOpAboveCutoff(t *testing.T) {
	start := time.Now()
	err := RateLimitHook(context.Background(), discardLogger(), "tok", 100, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("expected immediate return above cutoff")
	}
}

func TestRateLimitHookWaitsUntilReset(t *testing.T) {
	resetAt := time.Now().Add(30 * time.Millisecond)
	start := time.Now()
	err := RateLimitHook(context.Background(), discardLogger(), "tok", 0, resetAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Fatal("expected hook to wait until reset")
	}
}

func TestRateLimitHookRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RateLimitHook(ctx, discardLogger(), "tok", 0, time.Now().Add(time.Hour))
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}
