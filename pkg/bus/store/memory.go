package store

import (
	"context"
	"sort"
	"sync"

	"github.com/amoskys/amoskys/pkg/envelope"
)

// MemoryStore is an in-memory Store used by pipeline and integration tests.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]envelope.Envelope
	byDevice map[string][]string // device_id -> event_ids, insertion order
	ordered  []envelope.Envelope // append order, for Since
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]envelope.Envelope),
		byDevice: make(map[string][]string),
	}
}

// Exists reports whether eventID has already been stored.
func (m *MemoryStore) Exists(ctx context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byID[eventID]
	return ok, nil
}

// Append stores a copy of env, indexed by event_id and device_id.
func (m *MemoryStore) Append(ctx context.Context, env envelope.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[env.EventID]; exists {
		return &DuplicateEventError{EventID: env.EventID}
	}

	m.byID[env.EventID] = env
	deviceID := env.DeviceID()
	m.byDevice[deviceID] = append(m.byDevice[deviceID], env.EventID)
	m.ordered = append(m.ordered, env)
	return nil
}

// Since returns up to limit envelopes appended after cursor (a 1-based
// position in append order), oldest first.
func (m *MemoryStore) Since(ctx context.Context, cursor int64, limit int) ([]envelope.Envelope, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if cursor < 0 {
		cursor = 0
	}
	if cursor >= int64(len(m.ordered)) {
		return nil, cursor, nil
	}

	end := len(m.ordered)
	if limit > 0 && cursor+int64(limit) < int64(end) {
		end = int(cursor) + limit
	}

	out := make([]envelope.Envelope, end-int(cursor))
	copy(out, m.ordered[cursor:end])
	return out, int64(end), nil
}

// RecentByDevice returns up to limit envelopes for deviceID, most recent first.
func (m *MemoryStore) RecentByDevice(ctx context.Context, deviceID string, limit int) ([]envelope.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.byDevice[deviceID]
	out := make([]envelope.Envelope, 0, len(ids))
	for _, id := range ids {
		if env, ok := m.byID[id]; ok {
			out = append(out, env)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].TimestampNs > out[j].TimestampNs
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
