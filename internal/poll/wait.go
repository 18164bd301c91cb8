// Package poll provides the primitives shared by every sync task: a
// cancellable wait that can be cut short by a refresh broadcast, a pure
// exponential backoff, and structural change detection for mirror snapshots.
package poll

import (
	"context"
	"time"
)

// WaitResult reports which wake-up source ended a Wait call.
type WaitResult int

const (
	// TimedOut means the full delay elapsed with no interruption.
	TimedOut WaitResult = iota
	// Refreshed means a refresh broadcast arrived before the delay elapsed.
	Refreshed
	// Stopped means the context was cancelled; the owning task should exit.
	Stopped
)

func (r WaitResult) String() string {
	switch r {
	case TimedOut:
		return "timed-out"
	case Refreshed:
		return "refreshed"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Waiter blocks a sync task between poll iterations. It holds one refresh
// subscription for the lifetime of the task; the subscription channel is
// buffered with capacity one, so a refresh fired while the task is mid-poll
// is latched and observed on the task's next Wait rather than lost. Refresh
// is a best-effort "hurry up" signal, not a delivery guarantee: additional
// broadcasts while one is already latched are coalesced.
type Waiter struct {
	refresh <-chan struct{}
}

// NewWaiter creates a Waiter reading from the given refresh subscription.
func NewWaiter(refresh <-chan struct{}) *Waiter {
	return &Waiter{refresh: refresh}
}

// Wait blocks for at most d. It returns Refreshed if a refresh broadcast
// arrives first, Stopped if ctx is cancelled, and TimedOut otherwise.
func (w *Waiter) Wait(ctx context.Context, d time.Duration) WaitResult {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return Stopped
	case <-w.refresh:
		return Refreshed
	case <-t.C:
		return TimedOut
	}
}
