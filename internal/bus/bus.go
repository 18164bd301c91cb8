// Package bus carries the three process-wide event streams of the sync
// engine: render ("some mirror slice changed, re-read everything"), refresh
// ("a user action invalidated state, poll immediately"), and task-scoped
// notices for the external notification collaborator. A Bus is constructed
// explicitly and handed to every task; there is no ambient global instance.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level classifies a Notice for presentation.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notice is a human-facing event forwarded to the toast/popup collaborator.
// Render and refresh carry no payload; notices carry a title and cause.
type Notice struct {
	ID    string
	Level Level
	Title string
	Cause string
	At    time.Time
}

// Bus is a many-to-many signal hub. Signal sends are non-blocking: render
// and refresh subscriptions have capacity one, so an undelivered signal is
// latched and repeat broadcasts coalesce; a slow notice subscriber gets
// notices dropped rather than blocking the engine.
type Bus struct {
	mu      sync.RWMutex
	render  []chan struct{}
	refresh []chan struct{}
	notices []chan Notice

	nowFunc func() time.Time // injectable clock for testing
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{nowFunc: time.Now}
}

// SubscribeRender returns a channel that is signalled whenever any task
// publishes a render. Signals are coalesced, never queued.
func (b *Bus) SubscribeRender() <-chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.render = append(b.render, ch)
	b.mu.Unlock()
	return ch
}

// SubscribeRefresh returns a channel signalled on every refresh broadcast.
// Each sync task owns exactly one such subscription via its Waiter.
func (b *Bus) SubscribeRefresh() <-chan struct{} {
	ch := make(chan struct{}, 1)
	b.mu.Lock()
	b.refresh = append(b.refresh, ch)
	b.mu.Unlock()
	return ch
}

// SubscribeNotices returns a buffered channel of notices. The caller must
// drain it; notices to a full channel are dropped.
func (b *Bus) SubscribeNotices() <-chan Notice {
	ch := make(chan Notice, 64)
	b.mu.Lock()
	b.notices = append(b.notices, ch)
	b.mu.Unlock()
	return ch
}

// Render signals every render subscriber that mirror state changed.
// It never blocks.
func (b *Bus) Render() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.render {
		select {
		case ch <- struct{}{}:
		default:
			// A render is already pending for this subscriber.
		}
	}
}

// Refresh asks every waiting task to cut its delay short and poll now.
// It never blocks.
func (b *Bus) Refresh() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.refresh {
		select {
		case ch <- struct{}{}:
		default:
			// A refresh is already latched for this subscriber.
		}
	}
}

// Success publishes a success notice.
func (b *Bus) Success(title, cause string) {
	b.publish(Notice{Level: LevelSuccess, Title: title, Cause: cause})
}

// Error publishes an error notice. A nil cause is allowed.
func (b *Bus) Error(title string, cause error) {
	n := Notice{Level: LevelError, Title: title}
	if cause != nil {
		n.Cause = cause.Error()
	}
	b.publish(n)
}

func (b *Bus) publish(n Notice) {
	n.ID = uuid.NewString()
	n.At = b.nowFunc()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.notices {
		select {
		case ch <- n:
		default:
			// Slow notice subscriber — drop.
		}
	}
}
