package poll

import "time"

// Default backoff bounds. Active entities are polled once a second; entities
// that stop changing decay toward one poll a minute, bounding steady-state
// request volume.
const (
	DefaultFloor   = 1 * time.Second
	DefaultCeiling = 60 * time.Second
)

// Backoff computes the delay before a task's next poll iteration. It is a
// pure value: Next has no side effects, so a single Backoff may be shared by
// any number of tasks.
type Backoff struct {
	Floor   time.Duration
	Ceiling time.Duration
}

// DefaultBackoff returns a Backoff with the default floor and ceiling.
func DefaultBackoff() Backoff {
	return Backoff{Floor: DefaultFloor, Ceiling: DefaultCeiling}
}

// Next returns the delay to apply after an iteration. A changed iteration
// resets to the floor; an unchanged one doubles the previous delay up to
// the ceiling.
func (b Backoff) Next(changed bool, prev time.Duration) time.Duration {
	if changed {
		return b.Floor
	}
	next := prev * 2
	if next < b.Floor {
		next = b.Floor
	}
	if next > b.Ceiling {
		next = b.Ceiling
	}
	return next
}
