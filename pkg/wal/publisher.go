package wal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome classifies what happened when a queued envelope was handed to the
// bus, driving whether the publish loop acks, reschedules, or dead-letters
// the record.
type Outcome int

const (
	// OutcomeOK means the bus accepted the envelope; it is safe to purge.
	OutcomeOK Outcome = iota
	// OutcomeRetry means a transient failure occurred; retry with backoff.
	OutcomeRetry
	// OutcomeInvalid means the bus permanently rejected the envelope
	// (signature failure, malformed payload); route to the dead-letter queue.
	OutcomeInvalid
	// OutcomeOverload means the bus is shedding load; retry with backoff,
	// tracked separately from OutcomeRetry for observability.
	OutcomeOverload
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRetry:
		return "retry"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeOverload:
		return "overload"
	default:
		return "unknown"
	}
}

// Publisher is the bus-facing dependency the publish loop drains records
// through. pkg/bus implements this with a real gRPC client; it is declared
// here rather than imported so the agent-side WAL never depends on the bus
// package.
type Publisher interface {
	Publish(ctx context.Context, envelopeBytes []byte) (Outcome, error)
}

// PublisherFunc adapts a plain function to the Publisher interface.
type PublisherFunc func(ctx context.Context, envelopeBytes []byte) (Outcome, error)

// Publish implements Publisher.
func (f PublisherFunc) Publish(ctx context.Context, envelopeBytes []byte) (Outcome, error) {
	return f(ctx, envelopeBytes)
}

// DrainOptions configures the publish loop's pacing.
type DrainOptions struct {
	BatchSize    int
	PollInterval time.Duration
	Backoff      Backoff
}

// DefaultDrainOptions returns a conservative starting point: small batches,
// frequent polling, default backoff.
func DefaultDrainOptions() DrainOptions {
	return DrainOptions{
		BatchSize:    32,
		PollInterval: 250 * time.Millisecond,
		Backoff:      DefaultBackoff(),
	}
}

// Observer receives per-attempt notifications for metrics wiring. Every
// method is called synchronously from the drain loop goroutine; Observer
// must not block.
type Observer interface {
	ObservePublishAttempt(outcome Outcome, duration time.Duration)
	ObserveDeadLetter(reason string)
}

// NopObserver discards all notifications.
type NopObserver struct{}

func (NopObserver) ObservePublishAttempt(Outcome, time.Duration) {}
func (NopObserver) ObserveDeadLetter(string)                     {}

// Drain runs the publish loop until ctx is cancelled, polling w.Pending,
// sending each record through pub, and routing the outcome back into the
// WAL: OutcomeOK acks and purges, OutcomeInvalid dead-letters and purges,
// OutcomeRetry/OutcomeOverload reschedules with backoff.
func Drain(ctx context.Context, w *WAL, pub Publisher, dlq *DeadLetter, opts DrainOptions, obs Observer) error {
	if w == nil {
		return errors.New("wal: drain requires a non-nil WAL")
	}
	if pub == nil {
		return errors.New("wal: drain requires a non-nil publisher")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultDrainOptions().BatchSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultDrainOptions().PollInterval
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}
	if obs == nil {
		obs = NopObserver{}
	}

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := drainOnce(ctx, w, pub, dlq, opts, obs); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				// Non-fatal: record errors surface via Observer; keep polling.
			}
		}
	}
}

func drainOnce(ctx context.Context, w *WAL, pub Publisher, dlq *DeadLetter, opts DrainOptions, obs Observer) error {
	now := time.Now().UTC()
	records, err := w.Pending(ctx, now, opts.BatchSize)
	if err != nil {
		return fmt.Errorf("wal: list pending records: %w", err)
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := publishOne(ctx, w, pub, dlq, rec, opts, obs); err != nil {
			return err
		}
	}
	return nil
}

func publishOne(ctx context.Context, w *WAL, pub Publisher, dlq *DeadLetter, rec Record, opts DrainOptions, obs Observer) error {
	if err := w.MarkInFlight(rec.Seq); err != nil {
		return fmt.Errorf("wal: mark in-flight seq=%d: %w", rec.Seq, err)
	}

	start := time.Now()
	outcome, pubErr := pub.Publish(ctx, rec.EnvelopeBytes)
	obs.ObservePublishAttempt(outcome, time.Since(start))

	switch outcome {
	case OutcomeOK:
		if err := w.Ack(rec.Seq); err != nil {
			return fmt.Errorf("wal: ack seq=%d: %w", rec.Seq, err)
		}
		return w.Purge(rec.Seq)

	case OutcomeInvalid:
		reason := "rejected"
		if pubErr != nil {
			reason = pubErr.Error()
		}
		if dlq != nil {
			if err := dlq.Put(rec.Seq, rec.EnvelopeBytes, reason); err != nil {
				return fmt.Errorf("wal: dead letter seq=%d: %w", rec.Seq, err)
			}
			obs.ObserveDeadLetter(reason)
		}
		return w.Purge(rec.Seq)

	default: // OutcomeRetry, OutcomeOverload, or an unrecognized outcome
		next := time.Now().UTC().Add(opts.Backoff.Next(rec.Attempts + 1))
		if err := w.Reschedule(rec.Seq, next); err != nil {
			return fmt.Errorf("wal: reschedule seq=%d: %w", rec.Seq, err)
		}
		return nil
	}
}
