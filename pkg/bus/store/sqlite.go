package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/amoskys/amoskys/pkg/envelope"
)

// SQLiteConfig configures the durable event store.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string
}

// SQLiteStore persists envelopes to a SQLite database in WAL journal mode.
// Reads and writes go through database/sql's connection pool; SQLite itself
// serializes writers, which is sufficient at the bus's per-agent admission
// rates.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the event store at cfg.Path.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: sqlite path is required")
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, &UnavailableError{Cause: fmt.Errorf("open %s: %w", cfg.Path, err)}
	}
	db.SetMaxOpenConns(1) // sqlite3 driver: one writer connection avoids SQLITE_BUSY under WAL

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, &UnavailableError{Cause: fmt.Errorf("apply %q: %w", p, err)}
		}
	}

	schema := `
CREATE TABLE IF NOT EXISTS events (
	event_id        TEXT PRIMARY KEY,
	source_agent_id TEXT NOT NULL,
	device_id       TEXT NOT NULL,
	kind            TEXT NOT NULL,
	version         INTEGER NOT NULL,
	timestamp_ns    INTEGER NOT NULL,
	payload         BLOB NOT NULL,
	attributes      TEXT,
	signature       BLOB,
	stored_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_device_timestamp ON events(device_id, timestamp_ns);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &UnavailableError{Cause: fmt.Errorf("create schema: %w", err)}
	}

	return &SQLiteStore{db: db}, nil
}

// Exists reports whether eventID has already been durably stored.
func (s *SQLiteStore) Exists(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM events WHERE event_id = ?`, eventID).Scan(&one)
	switch {
	case err == sql.ErrNoRows:
		return false, nil
	case err != nil:
		return false, &UnavailableError{Cause: err}
	default:
		return true, nil
	}
}

// Append durably persists env.
func (s *SQLiteStore) Append(ctx context.Context, env envelope.Envelope) error {
	attrs, err := json.Marshal(env.Attributes)
	if err != nil {
		return fmt.Errorf("store: marshal attributes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (event_id, source_agent_id, device_id, kind, version, timestamp_ns, payload, attributes, signature, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%s','now'))`,
		env.EventID, env.SourceAgentID, env.DeviceID(), string(env.Kind), env.Version, env.TimestampNs,
		[]byte(env.Payload), string(attrs), env.Signature,
	)
	if err != nil {
		if isUniqueConstraintErr(err) {
			return &DuplicateEventError{EventID: env.EventID}
		}
		return &UnavailableError{Cause: err}
	}
	return nil
}

// RecentByDevice returns up to limit envelopes for deviceID, most recent first.
func (s *SQLiteStore) RecentByDevice(ctx context.Context, deviceID string, limit int) ([]envelope.Envelope, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, source_agent_id, kind, version, timestamp_ns, payload, attributes, signature
		FROM events WHERE device_id = ? ORDER BY timestamp_ns DESC LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, &UnavailableError{Cause: err}
	}
	defer rows.Close()

	var out []envelope.Envelope
	for rows.Next() {
		var (
			env      envelope.Envelope
			kind     string
			attrs    sql.NullString
			payload  []byte
			sig      []byte
		)
		if err := rows.Scan(&env.EventID, &env.SourceAgentID, &kind, &env.Version, &env.TimestampNs, &payload, &attrs, &sig); err != nil {
			return nil, &UnavailableError{Cause: err}
		}
		env.Kind = envelope.PayloadKind(kind)
		env.Payload = payload
		env.Signature = sig
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &env.Attributes); err != nil {
				return nil, fmt.Errorf("store: unmarshal attributes for %s: %w", env.EventID, err)
			}
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, &UnavailableError{Cause: err}
	}
	return out, nil
}

// Since returns up to limit envelopes with rowid greater than cursor, oldest
// first, along with the highest rowid observed (cursor itself if none). The fusion
// engine polls this to tail newly stored envelopes without a separate
// pub/sub channel between the bus and the fusion daemon.
func (s *SQLiteStore) Since(ctx context.Context, cursor int64, limit int) ([]envelope.Envelope, int64, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT rowid, event_id, source_agent_id, kind, version, timestamp_ns, payload, attributes, signature
		FROM events WHERE rowid > ? ORDER BY rowid ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, cursor, &UnavailableError{Cause: err}
	}
	defer rows.Close()

	nextCursor := cursor
	var out []envelope.Envelope
	for rows.Next() {
		var (
			rowid   int64
			env     envelope.Envelope
			kind    string
			attrs   sql.NullString
			payload []byte
			sig     []byte
		)
		if err := rows.Scan(&rowid, &env.EventID, &env.SourceAgentID, &kind, &env.Version, &env.TimestampNs, &payload, &attrs, &sig); err != nil {
			return nil, cursor, &UnavailableError{Cause: err}
		}
		env.Kind = envelope.PayloadKind(kind)
		env.Payload = payload
		env.Signature = sig
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &env.Attributes); err != nil {
				return nil, cursor, fmt.Errorf("store: unmarshal attributes for %s: %w", env.EventID, err)
			}
		}
		out = append(out, env)
		nextCursor = rowid
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, &UnavailableError{Cause: err}
	}
	return out, nextCursor, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueConstraintErr(err error) bool {
	// mattn/go-sqlite3 wraps the error as sqlite3.Error; comparing its
	// formatted message avoids importing the driver's internal error type
	// into this file's error-classification path.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
