// Package wal implements the agent-local durable write-ahead queue that
// buffers signed envelopes between capture and successful publish to the
// bus. It is backed by an embedded Badger LSM-tree database, generalized
// from a saga-step log to a per-agent append-then-purge event queue.
package wal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	keyPrefix      = "wal:"
	sequencePrefix = "wal-seq:"
)

// State is a WAL record's position in its lifecycle.
type State int

const (
	// Pending records are eligible for the next publish attempt.
	Pending State = iota
	// InFlight records are currently being sent to the bus.
	InFlight
	// AckedPurgeable records have been accepted by the bus and are safe to
	// delete; they're retained briefly only for observability before Purge.
	AckedPurgeable
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in_flight"
	case AckedPurgeable:
		return "acked_purgeable"
	default:
		return "unknown"
	}
}

// Record is one durable WAL entry wrapping a signed, serialized envelope.
type Record struct {
	Seq           uint64    `json:"seq"`
	EnvelopeBytes []byte    `json:"envelope_bytes"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	State         State     `json:"state"`
}

// WriteMode controls whether Enqueue commits synchronously or is buffered
// through a background writer goroutine.
type WriteMode string

const (
	WriteModeSync  WriteMode = "sync"
	WriteModeAsync WriteMode = "async"
)

// Options configures a Badger-backed WAL.
type Options struct {
	AgentID        string
	WriteMode      WriteMode
	AsyncQueueSize int
}

type appendRequest struct {
	ctx  context.Context
	rec  Record
	done chan error
}

// WAL is an agent-local, crash-safe, append-then-purge event queue.
type WAL struct {
	db        *badger.DB
	ownsDB    bool
	agentID   string
	writeMode WriteMode

	appendCh chan appendRequest
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Open opens a dedicated Badger database at path and returns a ready WAL,
// reverting any InFlight records left over from an unclean shutdown back to
// Pending.
func Open(path string, opts Options) (*WAL, error) {
	bopts := badger.DefaultOptions(path)
	bopts.Logger = nil
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("wal: open badger at %s: %w", path, err)
	}

	w, err := New(db, opts)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	w.ownsDB = true
	return w, nil
}

// New wraps an existing Badger database as a WAL, running crash recovery.
func New(db *badger.DB, opts Options) (*WAL, error) {
	if db == nil {
		return nil, fmt.Errorf("wal: badger db cannot be nil")
	}
	if opts.AgentID == "" {
		return nil, fmt.Errorf("wal: agent id is required")
	}
	if opts.WriteMode == "" {
		opts.WriteMode = WriteModeSync
	}
	if opts.WriteMode != WriteModeSync && opts.WriteMode != WriteModeAsync {
		return nil, fmt.Errorf("wal: unsupported write mode %q", opts.WriteMode)
	}
	if opts.AsyncQueueSize <= 0 {
		opts.AsyncQueueSize = 1024
	}

	w := &WAL{
		db:        db,
		agentID:   opts.AgentID,
		writeMode: opts.WriteMode,
		stopCh:    make(chan struct{}),
	}

	if err := w.recoverInFlight(); err != nil {
		return nil, err
	}

	if opts.WriteMode == WriteModeAsync {
		w.appendCh = make(chan appendRequest, opts.AsyncQueueSize)
		w.wg.Add(1)
		go w.runAsyncWriter()
	}

	return w, nil
}

// recoverInFlight reverts any record left in the InFlight state (from a
// process that crashed mid-publish) back to Pending so it is retried.
func (w *WAL) recoverInFlight() error {
	prefix := []byte(w.prefix())
	var toRevert []Record

	if err := w.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec Record
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return fmt.Errorf("wal: decode record during recovery: %w", err)
			}
			if rec.State == InFlight {
				toRevert = append(toRevert, rec)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	for _, rec := range toRevert {
		rec.State = Pending
		if err := w.writeRecord(rec); err != nil {
			return fmt.Errorf("wal: revert in-flight record seq=%d: %w", rec.Seq, err)
		}
	}
	return nil
}

// Enqueue appends payload (a signed, serialized envelope) and returns its
// assigned sequence number.
func (w *WAL) Enqueue(ctx context.Context, payload []byte) (uint64, error) {
	seq, err := w.nextSequence()
	if err != nil {
		return 0, err
	}

	rec := Record{
		Seq:           seq,
		EnvelopeBytes: payload,
		EnqueuedAt:    time.Now().UTC(),
		State:         Pending,
	}

	if w.writeMode == WriteModeAsync {
		done := make(chan error, 1)
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-w.stopCh:
			return 0, fmt.Errorf("wal: closed")
		case w.appendCh <- appendRequest{ctx: ctx, rec: rec, done: done}:
			if err := <-done; err != nil {
				return 0, err
			}
			return seq, nil
		default:
			if err := w.writeRecord(rec); err != nil {
				return 0, err
			}
			return seq, nil
		}
	}

	if err := w.writeRecord(rec); err != nil {
		return 0, err
	}
	return seq, nil
}

// Pending returns up to limit records in Pending state whose NextAttemptAt
// has passed, ordered by sequence.
func (w *WAL) Pending(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	prefix := []byte(w.prefix())
	var out []Record

	err := w.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		for it.Rewind(); it.Valid() && len(out) < limit; it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			var rec Record
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return fmt.Errorf("wal: decode record: %w", err)
			}
			if rec.State != Pending {
				continue
			}
			if rec.NextAttemptAt.After(now) {
				continue
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkInFlight transitions a record to InFlight before it is sent.
func (w *WAL) MarkInFlight(seq uint64) error {
	return w.transition(seq, func(rec *Record) {
		rec.State = InFlight
	})
}

// Reschedule reverts a record to Pending after a failed or retryable
// publish attempt, bumping its attempt count and next-attempt deadline.
func (w *WAL) Reschedule(seq uint64, nextAttemptAt time.Time) error {
	return w.transition(seq, func(rec *Record) {
		rec.State = Pending
		rec.Attempts++
		rec.NextAttemptAt = nextAttemptAt
	})
}

// Ack marks a record as acknowledged by the bus; Purge later removes it.
func (w *WAL) Ack(seq uint64) error {
	return w.transition(seq, func(rec *Record) {
		rec.State = AckedPurgeable
	})
}

// Purge permanently removes a record, typically called shortly after Ack or
// for records routed to the dead-letter queue.
func (w *WAL) Purge(seq uint64) error {
	key := []byte(w.entryKey(seq))
	return w.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// Depth returns the number of records currently stored (any state).
func (w *WAL) Depth() (int, error) {
	prefix := []byte(w.prefix())
	count := 0
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.IteratorOptions{Prefix: prefix, PrefetchValues: false}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close stops the background writer (if any) and, if this WAL opened its own
// Badger database, closes it.
func (w *WAL) Close() error {
	close(w.stopCh)
	if w.appendCh != nil {
		close(w.appendCh)
	}
	w.wg.Wait()
	if w.ownsDB {
		return w.db.Close()
	}
	return nil
}

func (w *WAL) runAsyncWriter() {
	defer w.wg.Done()
	for req := range w.appendCh {
		req.done <- w.writeRecord(req.rec)
	}
}

func (w *WAL) transition(seq uint64, mutate func(*Record)) error {
	key := []byte(w.entryKey(seq))
	return w.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return fmt.Errorf("wal: record seq=%d not found: %w", seq, err)
		}
		var rec Record
		if err := item.Value(func(v []byte) error {
			return json.Unmarshal(v, &rec)
		}); err != nil {
			return fmt.Errorf("wal: decode record seq=%d: %w", seq, err)
		}
		mutate(&rec)
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("wal: encode record seq=%d: %w", seq, err)
		}
		return txn.Set(key, data)
	})
}

func (w *WAL) writeRecord(rec Record) error {
	if rec.Seq == 0 {
		seq, err := w.nextSequence()
		if err != nil {
			return err
		}
		rec.Seq = seq
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("wal: marshal record: %w", err)
	}
	key := []byte(w.entryKey(rec.Seq))
	return w.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (w *WAL) nextSequence() (uint64, error) {
	key := []byte(sequencePrefix + w.agentID)
	var next uint64
	err := w.db.Update(func(txn *badger.Txn) error {
		current := uint64(0)
		item, err := txn.Get(key)
		switch {
		case err == nil:
			if err := item.Value(func(v []byte) error {
				parsed, perr := strconv.ParseUint(string(v), 10, 64)
				if perr != nil {
					return perr
				}
				current = parsed
				return nil
			}); err != nil {
				return err
			}
		case err == badger.ErrKeyNotFound:
			current = 0
		default:
			return err
		}
		next = current + 1
		return txn.Set(key, []byte(strconv.FormatUint(next, 10)))
	})
	if err != nil {
		return 0, fmt.Errorf("wal: next sequence: %w", err)
	}
	return next, nil
}

func (w *WAL) prefix() string {
	return fmt.Sprintf("%s%s:", keyPrefix, w.agentID)
}

func (w *WAL) entryKey(seq uint64) string {
	return fmt.Sprintf("%s%s:%020d", keyPrefix, w.agentID, seq)
}
