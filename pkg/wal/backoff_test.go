package wal

import (
	"testing"
	"time"
)

func TestBackoff_NextStaysWithinCap(t *testing.T) {
	b := DefaultBackoff()
	for attempt := 1; attempt <= 20; attempt++ {
		d := b.Next(attempt)
		if d < 0 || d > b.Cap {
			t.Fatalf("Next(%d) = %v, want within [0, %v]", attempt, d, b.Cap)
		}
	}
}

func TestBackoff_ZeroAttemptsTreatedAsOne(t *testing.T) {
	b := Backoff{Base: time.Millisecond, Factor: 2, Cap: time.Second}
	d := b.Next(0)
	if d < 0 || d > b.Cap {
		t.Fatalf("Next(0) = %v, want within [0, %v]", d, b.Cap)
	}
}

func TestBackoff_GrowsWithAttempts(t *testing.T) {
	b := Backoff{Base: time.Millisecond, Factor: 10, Cap: time.Hour}
	small := b.Next(1)
	large := b.Next(5)
	// full jitter means neither draw is deterministic, but the ceiling for
	// attempt 5 is far larger than for attempt 1; assert the cap computation
	// itself rather than the random draw.
	if small > b.Base*10 {
		t.Errorf("Next(1) = %v exceeds expected ceiling", small)
	}
	if large > b.Cap {
		t.Errorf("Next(5) = %v exceeds configured cap", large)
	}
}
