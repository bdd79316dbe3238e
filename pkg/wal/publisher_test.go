package wal

import (
	"context"
	"errors"
	"testing"
	"time"
)

type recordingObserver struct {
	attempts    []Outcome
	deadLetters []string
}

func (o *recordingObserver) ObservePublishAttempt(outcome Outcome, _ time.Duration) {
	o.attempts = append(o.attempts, outcome)
}

func (o *recordingObserver) ObserveDeadLetter(reason string) {
	o.deadLetters = append(o.deadLetters, reason)
}

func TestDrainOnce_AckAndPurgeOnOK(t *testing.T) {
	db := openTestBadger(t)
	t.Cleanup(func() { _ = db.Close() })

	w, err := New(db, Options{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	ctx := context.Background()
	if _, err := w.Enqueue(ctx, []byte("envelope")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	pub := PublisherFunc(func(ctx context.Context, b []byte) (Outcome, error) {
		return OutcomeOK, nil
	})
	obs := &recordingObserver{}

	if err := drainOnce(ctx, w, pub, nil, DefaultDrainOptions(), obs); err != nil {
		t.Fatalf("drainOnce() error = %v", err)
	}

	depth, err := w.Depth()
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected record to be purged after OK, got depth %d", depth)
	}
	if len(obs.attempts) != 1 || obs.attempts[0] != OutcomeOK {
		t.Errorf("expected one OK attempt recorded, got %v", obs.attempts)
	}
}

func TestDrainOnce_DeadLettersOnInvalid(t *testing.T) {
	db := openTestBadger(t)
	t.Cleanup(func() { _ = db.Close() })

	w, err := New(db, Options{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	dlq, err := NewDeadLetter(db, "agent-1")
	if err != nil {
		t.Fatalf("NewDeadLetter() error = %v", err)
	}

	ctx := context.Background()
	if _, err := w.Enqueue(ctx, []byte("bad-envelope")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	pub := PublisherFunc(func(ctx context.Context, b []byte) (Outcome, error) {
		return OutcomeInvalid, errors.New("signature verification failed")
	})
	obs := &recordingObserver{}

	if err := drainOnce(ctx, w, pub, dlq, DefaultDrainOptions(), obs); err != nil {
		t.Fatalf("drainOnce() error = %v", err)
	}

	depth, err := w.Depth()
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 0 {
		t.Fatalf("expected invalid record to be purged from WAL, got depth %d", depth)
	}

	letters, err := dlq.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("expected 1 dead letter record, got %d", len(letters))
	}
	if letters[0].Reason != "signature verification failed" {
		t.Errorf("unexpected dead letter reason: %q", letters[0].Reason)
	}
	if len(obs.deadLetters) != 1 {
		t.Errorf("expected one dead-letter observation, got %d", len(obs.deadLetters))
	}
}

func TestDrainOnce_ReschedulesOnOverload(t *testing.T) {
	db := openTestBadger(t)
	t.Cleanup(func() { _ = db.Close() })

	w, err := New(db, Options{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	ctx := context.Background()
	if _, err := w.Enqueue(ctx, []byte("envelope")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	pub := PublisherFunc(func(ctx context.Context, b []byte) (Outcome, error) {
		return OutcomeOverload, errors.New("bus overloaded")
	})

	opts := DefaultDrainOptions()
	opts.Backoff = Backoff{Base: time.Millisecond, Factor: 1, Cap: time.Millisecond}

	if err := drainOnce(ctx, w, pub, nil, opts, &recordingObserver{}); err != nil {
		t.Fatalf("drainOnce() error = %v", err)
	}

	depth, err := w.Depth()
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected rescheduled record to remain in the WAL, got depth %d", depth)
	}

	time.Sleep(5 * time.Millisecond)
	recs, err := w.Pending(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatalf("Pending() error = %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected record to become eligible again after backoff elapses, got %d", len(recs))
	}
	if recs[0].Attempts != 1 {
		t.Errorf("expected Attempts = 1 after one retry, got %d", recs[0].Attempts)
	}
}

func TestDrain_StopsOnContextCancel(t *testing.T) {
	db := openTestBadger(t)
	t.Cleanup(func() { _ = db.Close() })

	w, err := New(db, Options{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	pub := PublisherFunc(func(ctx context.Context, b []byte) (Outcome, error) {
		return OutcomeOK, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	opts := DefaultDrainOptions()
	opts.PollInterval = 5 * time.Millisecond

	err = Drain(ctx, w, pub, nil, opts, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected Drain to return context.DeadlineExceeded, got %v", err)
	}
}
