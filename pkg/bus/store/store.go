// Package store persists verified telemetry envelopes on behalf of the
// EventBus and answers the lookups the publish pipeline needs for dedup and
// at-least-once acknowledgement. Two backends implement the same interface:
// a SQLite-backed durable store for the running bus, and an in-memory store
// for unit tests.
package store

import (
	"context"
	"fmt"

	"github.com/amoskys/amoskys/pkg/envelope"
)

// Store is the durable event store the bus's publish pipeline appends to.
type Store interface {
	// Exists reports whether eventID has already been durably stored.
	Exists(ctx context.Context, eventID string) (bool, error)

	// Append durably persists env. Callers must have already verified env's
	// signature and checked Exists; if env.EventID is nevertheless already
	// stored, Append returns a *DuplicateEventError and stores nothing.
	Append(ctx context.Context, env envelope.Envelope) error

	// RecentByDevice returns up to limit envelopes for deviceID, most recent
	// first. Not on the hot publish path; no other package in this module
	// calls it.
	RecentByDevice(ctx context.Context, deviceID string, limit int) ([]envelope.Envelope, error)

	// Since returns up to limit envelopes appended after cursor, oldest
	// first, along with the cursor to resume from on the next call. Used by
	// the fusion engine to tail newly stored envelopes.
	Since(ctx context.Context, cursor int64, limit int) (envelopes []envelope.Envelope, nextCursor int64, err error)

	// Close releases any resources held by the store.
	Close() error
}

// DuplicateEventError indicates Append was called for an event_id that is
// already present; the pipeline treats this identically to a dedup hit.
type DuplicateEventError struct {
	EventID string
}

func (e *DuplicateEventError) Error() string {
	return fmt.Sprintf("store: event_id %s already stored", e.EventID)
}

// UnavailableError wraps a backend failure that should surface to the
// pipeline as a RETRY outcome rather than INVALID.
type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("store: unavailable: %v", e.Cause)
}

func (e *UnavailableError) Unwrap() error {
	return e.Cause
}
