package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amoskys/amoskys/pkg/envelope"
)

func makeEnvelope(eventID, deviceID string, ts int64) envelope.Envelope {
	payload, _ := json.Marshal(map[string]string{"proto": "tcp"})
	return envelope.Envelope{
		Version:       envelope.SchemaVersionV1,
		SourceAgentID: "agent-1",
		EventID:       eventID,
		TimestampNs:   ts,
		Kind:          envelope.PayloadFlow,
		Payload:       payload,
		Attributes:    map[string]string{"device_id": deviceID},
	}
}

// storeFactories lets every behavioral test run against both backends so the
// in-memory store used in pipeline tests never drifts from the durable one.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sqlite": func() Store {
			path := filepath.Join(t.TempDir(), "events.db")
			s, err := NewSQLiteStore(SQLiteConfig{Path: path})
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func TestStore_AppendAndExists(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			ctx := context.Background()

			exists, err := s.Exists(ctx, "evt-1")
			require.NoError(t, err)
			assert.False(t, exists)

			require.NoError(t, s.Append(ctx, makeEnvelope("evt-1", "dev-1", 1)))

			exists, err = s.Exists(ctx, "evt-1")
			require.NoError(t, err)
			assert.True(t, exists)
		})
	}
}

func TestStore_AppendDuplicateRejected(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			ctx := context.Background()

			require.NoError(t, s.Append(ctx, makeEnvelope("evt-1", "dev-1", 1)))

			err := s.Append(ctx, makeEnvelope("evt-1", "dev-1", 2))
			require.Error(t, err)
			var dupErr *DuplicateEventError
			assert.ErrorAs(t, err, &dupErr)
		})
	}
}

func TestStore_RecentByDeviceOrdersDescending(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			ctx := context.Background()

			base := time.Now().UnixNano()
			require.NoError(t, s.Append(ctx, makeEnvelope("evt-1", "dev-1", base)))
			require.NoError(t, s.Append(ctx, makeEnvelope("evt-2", "dev-1", base+1)))
			require.NoError(t, s.Append(ctx, makeEnvelope("evt-3", "dev-1", base+2)))
			require.NoError(t, s.Append(ctx, makeEnvelope("evt-other", "dev-2", base+3)))

			recent, err := s.RecentByDevice(ctx, "dev-1", 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "evt-3", recent[0].EventID)
			assert.Equal(t, "evt-2", recent[1].EventID)
		})
	}
}

func TestStore_RecentByDeviceUnknownDeviceIsEmpty(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			recent, err := s.RecentByDevice(context.Background(), "no-such-device", 10)
			require.NoError(t, err)
			assert.Empty(t, recent)
		})
	}
}
