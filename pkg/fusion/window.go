package fusion

import (
	"time"
)

// Window is a bounded, time-trimmed ring of a single device's recent
// TelemetryEventViews. It is not safe for concurrent use; the driver owns
// each device's window exclusively.
type Window struct {
	events []TelemetryEventView
	cap    int
	ttl    time.Duration

	lastActivity time.Time
	droppedCount int
}

// NewWindow builds an empty window bounded to cap events and ttl age.
func NewWindow(cap int, ttl time.Duration) *Window {
	if cap <= 0 {
		cap = 500
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Window{cap: cap, ttl: ttl}
}

// Append adds ev to the window, trimming events older than ttl relative to
// now, then dropping the oldest remaining event if the window is still over
// capacity. Returns true if an event was dropped for capacity rather than age.
func (w *Window) Append(ev TelemetryEventView, now time.Time) (droppedForCapacity bool) {
	w.trim(now)
	w.events = append(w.events, ev)
	w.lastActivity = now

	if len(w.events) > w.cap {
		overflow := len(w.events) - w.cap
		w.events = w.events[overflow:]
		w.droppedCount += overflow
		droppedForCapacity = true
	}
	return droppedForCapacity
}

// Trim drops events older than ttl relative to now; called on both Append
// and Evaluate per the window's age-trimming invariant.
func (w *Window) Trim(now time.Time) {
	w.trim(now)
}

func (w *Window) trim(now time.Time) {
	cutoff := now.Add(-w.ttl)
	i := 0
	for ; i < len(w.events); i++ {
		if w.events[i].Timestamp.After(cutoff) {
			break
		}
	}
	if i > 0 {
		w.events = w.events[i:]
	}
}

// Events returns a snapshot of the window's current events, oldest first.
// Rules may read but must not mutate the returned slice's elements.
func (w *Window) Events() []TelemetryEventView {
	out := make([]TelemetryEventView, len(w.events))
	copy(out, w.events)
	return out
}

// Len returns the current number of events held in the window.
func (w *Window) Len() int {
	return len(w.events)
}

// LastActivity returns the timestamp of the most recently appended event.
func (w *Window) LastActivity() time.Time {
	return w.lastActivity
}

// DroppedCount returns the cumulative number of events evicted for capacity.
func (w *Window) DroppedCount() int {
	return w.droppedCount
}
