package wal

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Policy selects how Enqueue behaves once the WAL is at its configured
// high-water mark.
type Policy string

const (
	// PolicyBlock makes callers wait for room via a buffered semaphore.
	PolicyBlock Policy = "block"
	// PolicyDrop rejects new events outright, incrementing a drop counter.
	PolicyDrop Policy = "drop"
)

// Limiter enforces a WAL record high-water mark ahead of Enqueue.
type Limiter struct {
	policy      Policy
	maxRecords  int
	permits     chan struct{}
	dropCounter atomic.Int64
}

// NewLimiter creates a Limiter that admits at most maxRecords concurrently
// outstanding (not yet purged) records.
func NewLimiter(policy Policy, maxRecords int) (*Limiter, error) {
	if maxRecords <= 0 {
		return nil, fmt.Errorf("wal: max records must be positive, got %d", maxRecords)
	}
	if policy != PolicyBlock && policy != PolicyDrop {
		return nil, fmt.Errorf("wal: unsupported backpressure policy %q", policy)
	}

	l := &Limiter{policy: policy, maxRecords: maxRecords}
	if policy == PolicyBlock {
		l.permits = make(chan struct{}, maxRecords)
		for i := 0; i < maxRecords; i++ {
			l.permits <- struct{}{}
		}
	}
	return l, nil
}

// Admit blocks (PolicyBlock) or immediately fails (PolicyDrop) once depth has
// reached the configured high-water mark. Release must be called once the
// admitted record is purged from the WAL.
func (l *Limiter) Admit(ctx context.Context, depth int) error {
	switch l.policy {
	case PolicyDrop:
		if depth >= l.maxRecords {
			l.dropCounter.Add(1)
			return fmt.Errorf("wal: record dropped, depth %d at or above high-water mark %d", depth, l.maxRecords)
		}
		return nil
	default: // PolicyBlock
		select {
		case <-l.permits:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release returns one admission permit. No-op under PolicyDrop.
func (l *Limiter) Release() {
	if l.policy != PolicyBlock {
		return
	}
	select {
	case l.permits <- struct{}{}:
	default:
	}
}

// Dropped returns the number of records rejected under PolicyDrop.
func (l *Limiter) Dropped() int64 {
	return l.dropCounter.Load()
}
