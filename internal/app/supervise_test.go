package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSupervise_RestartsUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})

	go func() {
		supervise(ctx, "test", backoff{Base: time.Millisecond, Max: 5 * time.Millisecond}, func(ctx context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("boom")
			}
			<-ctx.Done()
			return ctx.Err()
		})
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected 3 starts, got=%d", calls.Load())
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervise did not return after cancel")
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected no restart after cancel, got=%d", got)
	}
}

func TestSupervise_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		supervise(ctx, "test", backoff{Base: time.Hour, Max: time.Hour}, func(context.Context) error {
			return errors.New("boom")
		})
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("supervise stuck in backoff after cancel")
	}
}
