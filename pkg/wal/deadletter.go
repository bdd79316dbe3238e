package wal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const deadLetterPrefix = "dlq:"

// DeadLetterRecord is a WAL record the bus permanently rejected (INVALID),
// retained for operator inspection instead of being retried forever.
type DeadLetterRecord struct {
	Seq           uint64    `json:"seq"`
	EnvelopeBytes []byte    `json:"envelope_bytes"`
	Reason        string    `json:"reason"`
	RejectedAt    time.Time `json:"rejected_at"`
}

// DeadLetter stores records in a second Badger keyspace inside the same
// database the WAL uses, so a single process/file owns both.
type DeadLetter struct {
	db      *badger.DB
	agentID string
}

// NewDeadLetter wraps db (typically the same *badger.DB backing a WAL) as a
// dead-letter store for agentID.
func NewDeadLetter(db *badger.DB, agentID string) (*DeadLetter, error) {
	if db == nil {
		return nil, fmt.Errorf("wal: dead letter db cannot be nil")
	}
	if agentID == "" {
		return nil, fmt.Errorf("wal: dead letter agent id is required")
	}
	return &DeadLetter{db: db, agentID: agentID}, nil
}

// Put records a permanently rejected envelope.
func (d *DeadLetter) Put(seq uint64, envelopeBytes []byte, reason string) error {
	rec := DeadLetterRecord{
		Seq:           seq,
		EnvelopeBytes: envelopeBytes,
		Reason:        reason,
		RejectedAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("wal: marshal dead letter record: %w", err)
	}
	key := []byte(d.key(seq))
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// List returns all dead-letter records for this agent.
func (d *DeadLetter) List() ([]DeadLetterRecord, error) {
	prefix := []byte(fmt.Sprintf("%s%s:", deadLetterPrefix, d.agentID))
	var out []DeadLetterRecord

	err := d.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec DeadLetterRecord
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return fmt.Errorf("wal: decode dead letter record: %w", err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (d *DeadLetter) key(seq uint64) string {
	return fmt.Sprintf("%s%s:%020d", deadLetterPrefix, d.agentID, seq)
}
