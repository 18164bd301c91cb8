package poll

import (
	"context"
	"testing"
	"time"
)

func TestWaiter_TimesOut(t *testing.T) {
	w := NewWaiter(make(chan struct{}, 1))

	start := time.Now()
	got := w.Wait(context.Background(), 20*time.Millisecond)
	if got != TimedOut {
		t.Fatalf("expected TimedOut, got %v", got)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("returned after %v, before the delay elapsed", elapsed)
	}
}

func TestWaiter_RefreshCutsWaitShort(t *testing.T) {
	refresh := make(chan struct{}, 1)
	w := NewWaiter(refresh)

	go func() {
		time.Sleep(10 * time.Millisecond)
		refresh <- struct{}{}
	}()

	start := time.Now()
	got := w.Wait(context.Background(), 5*time.Second)
	if got != Refreshed {
		t.Fatalf("expected Refreshed, got %v", got)
	}
	if elapsed := time.Since(start); elapsed >= 5*time.Second {
		t.Fatal("refresh did not cut the wait short")
	}
}

func TestWaiter_LatchedRefreshNoticedOnNextWait(t *testing.T) {
	refresh := make(chan struct{}, 1)
	w := NewWaiter(refresh)

	// A refresh broadcast while nobody is waiting is latched by the
	// channel buffer and observed immediately on the next wait.
	refresh <- struct{}{}

	got := w.Wait(context.Background(), 5*time.Second)
	if got != Refreshed {
		t.Fatalf("expected Refreshed, got %v", got)
	}
}

func TestWaiter_StopsOnCancel(t *testing.T) {
	w := NewWaiter(make(chan struct{}, 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan WaitResult, 1)
	go func() { done <- w.Wait(ctx, 5*time.Second) }()

	cancel()
	select {
	case got := <-done:
		if got != Stopped {
			t.Fatalf("expected Stopped, got %v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("wait did not return after cancellation")
	}
}
