// Package store persists the fusion engine's incidents and per-device risk
// snapshots to SQLite: incidents are append-only, device_risk is upsert-only.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/amoskys/amoskys/pkg/fusion"
)

// Config configures the incident/risk store.
type Config struct {
	// Path is the SQLite database file path.
	Path string
}

// Store is the fusion engine's durable incident and device-risk store.
type Store struct {
	db *sql.DB
}

// New opens (creating if necessary) the incident/risk store at cfg.Path.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("fusion/store: path is required")
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("fusion/store: open %s: %w", cfg.Path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("fusion/store: apply %q: %w", p, err)
		}
	}

	schema := `
CREATE TABLE IF NOT EXISTS incidents (
	incident_id TEXT PRIMARY KEY,
	device_id   TEXT NOT NULL,
	severity    TEXT NOT NULL,
	rule_name   TEXT NOT NULL,
	summary     TEXT NOT NULL,
	tactics     TEXT,
	techniques  TEXT,
	event_ids   TEXT,
	metadata    TEXT,
	start_ts    INTEGER NOT NULL,
	end_ts      INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_incidents_device_created ON incidents(device_id, created_at);

CREATE TABLE IF NOT EXISTS device_risk (
	device_id         TEXT PRIMARY KEY,
	score             REAL NOT NULL,
	level             TEXT NOT NULL,
	reason_tags       TEXT,
	supporting_events TEXT,
	updated_at        INTEGER NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("fusion/store: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// AppendIncident durably persists inc. Re-persisting the same incident_id
// (a deterministic-id no-op re-fire) is ignored, not an error.
func (s *Store) AppendIncident(ctx context.Context, inc fusion.Incident) error {
	tactics, err := json.Marshal(inc.Tactics)
	if err != nil {
		return fmt.Errorf("fusion/store: marshal tactics: %w", err)
	}
	techniques, err := json.Marshal(inc.Techniques)
	if err != nil {
		return fmt.Errorf("fusion/store: marshal techniques: %w", err)
	}
	eventIDs, err := json.Marshal(inc.EventIDs)
	if err != nil {
		return fmt.Errorf("fusion/store: marshal event ids: %w", err)
	}
	metadata, err := json.Marshal(inc.Metadata)
	if err != nil {
		return fmt.Errorf("fusion/store: marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO incidents
			(incident_id, device_id, severity, rule_name, summary, tactics, techniques, event_ids, metadata, start_ts, end_ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%s','now'))`,
		inc.IncidentID, inc.DeviceID, string(inc.Severity), inc.RuleName, inc.Summary,
		string(tactics), string(techniques), string(eventIDs), string(metadata),
		inc.StartTS.UnixNano(), inc.EndTS.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("fusion/store: insert incident: %w", err)
	}
	return nil
}

// UpsertDeviceRisk durably persists the device's latest risk snapshot,
// replacing any prior snapshot for the same device.
func (s *Store) UpsertDeviceRisk(ctx context.Context, snap fusion.DeviceRiskSnapshot) error {
	reasonTags, err := json.Marshal(snap.ReasonTags)
	if err != nil {
		return fmt.Errorf("fusion/store: marshal reason tags: %w", err)
	}
	supporting, err := json.Marshal(snap.SupportingEvents)
	if err != nil {
		return fmt.Errorf("fusion/store: marshal supporting events: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO device_risk (device_id, score, level, reason_tags, supporting_events, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			score = excluded.score,
			level = excluded.level,
			reason_tags = excluded.reason_tags,
			supporting_events = excluded.supporting_events,
			updated_at = excluded.updated_at`,
		snap.DeviceID, snap.Score, string(snap.Level), string(reasonTags), string(supporting), snap.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("fusion/store: upsert device risk: %w", err)
	}
	return nil
}

// RecentIncidents returns up to limit incidents for deviceID (or across all
// devices when deviceID is empty), most recent first.
func (s *Store) RecentIncidents(ctx context.Context, deviceID string, limit int) ([]fusion.Incident, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT incident_id, device_id, severity, rule_name, summary, tactics, techniques, event_ids, metadata, start_ts, end_ts
		FROM incidents`
	args := []any{}
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fusion/store: query incidents: %w", err)
	}
	defer rows.Close()

	var out []fusion.Incident
	for rows.Next() {
		var (
			inc                             fusion.Incident
			severity, tactics, techniques   string
			eventIDs, metadata              string
			startNs, endNs                  int64
		)
		if err := rows.Scan(&inc.IncidentID, &inc.DeviceID, &severity, &inc.RuleName, &inc.Summary,
			&tactics, &techniques, &eventIDs, &metadata, &startNs, &endNs); err != nil {
			return nil, fmt.Errorf("fusion/store: scan incident: %w", err)
		}
		inc.Severity = fusion.IncidentSeverity(severity)
		inc.StartTS = timeFromUnixNano(startNs)
		inc.EndTS = timeFromUnixNano(endNs)
		if err := json.Unmarshal([]byte(tactics), &inc.Tactics); err != nil {
			return nil, fmt.Errorf("fusion/store: unmarshal tactics: %w", err)
		}
		if err := json.Unmarshal([]byte(techniques), &inc.Techniques); err != nil {
			return nil, fmt.Errorf("fusion/store: unmarshal techniques: %w", err)
		}
		if err := json.Unmarshal([]byte(eventIDs), &inc.EventIDs); err != nil {
			return nil, fmt.Errorf("fusion/store: unmarshal event ids: %w", err)
		}
		if err := json.Unmarshal([]byte(metadata), &inc.Metadata); err != nil {
			return nil, fmt.Errorf("fusion/store: unmarshal metadata: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}

// DeviceRisk returns deviceID's latest risk snapshot, or nil if none exists.
func (s *Store) DeviceRisk(ctx context.Context, deviceID string) (*fusion.DeviceRiskSnapshot, error) {
	var (
		snap             fusion.DeviceRiskSnapshot
		level            string
		reasonTags       string
		supportingEvents string
		updatedAt        int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT device_id, score, level, reason_tags, supporting_events, updated_at
		FROM device_risk WHERE device_id = ?`, deviceID,
	).Scan(&snap.DeviceID, &snap.Score, &level, &reasonTags, &supportingEvents, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fusion/store: query device risk: %w", err)
	}

	snap.Level = fusion.RiskLevel(level)
	snap.UpdatedAt = unixToTime(updatedAt)
	if err := json.Unmarshal([]byte(reasonTags), &snap.ReasonTags); err != nil {
		return nil, fmt.Errorf("fusion/store: unmarshal reason tags: %w", err)
	}
	if err := json.Unmarshal([]byte(supportingEvents), &snap.SupportingEvents); err != nil {
		return nil, fmt.Errorf("fusion/store: unmarshal supporting events: %w", err)
	}
	return &snap, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
