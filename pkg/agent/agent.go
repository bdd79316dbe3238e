// Package agent wires together envelope signing, the durable write-ahead
// log, and the bus client into the single runtime a telemetry collector
// embeds: Emit builds and signs an envelope and durably enqueues it; Run
// drains the queue against the bus until the context is cancelled.
package agent

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/amoskys/amoskys/config"
	"github.com/amoskys/amoskys/pkg/bus"
	"github.com/amoskys/amoskys/pkg/envelope"
	"github.com/amoskys/amoskys/pkg/logger"
	"github.com/amoskys/amoskys/pkg/metrics"
	"github.com/amoskys/amoskys/pkg/wal"
)

// Agent is the collector-side runtime: it signs and durably enqueues
// outgoing envelopes, then drains them to the bus with retry and
// dead-lettering.
type Agent struct {
	id       string
	priv     ed25519.PrivateKey
	db       *badger.DB
	wal      *wal.WAL
	limiter  *wal.Limiter
	dlq      *wal.DeadLetter
	client   *bus.Client
	drainOpt wal.DrainOptions
	metrics  *metrics.Manager
	busAddr  string
}

// LoadSigningKey reads a hex-encoded Ed25519 private key from path.
func LoadSigningKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent: read signing key %s: %w", path, err)
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("agent: decode signing key %s: %w", path, err)
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("agent: signing key %s has invalid size %d", path, len(decoded))
	}
	return ed25519.PrivateKey(decoded), nil
}

// New builds an Agent from cfg, opening its Badger-backed WAL and dialing
// the bus over mutual TLS.
func New(cfg *config.Config, m *metrics.Manager) (*Agent, error) {
	priv, err := LoadSigningKey(cfg.Agent.SigningKeyFile)
	if err != nil {
		return nil, err
	}

	bopts := badger.DefaultOptions(cfg.Agent.WAL.Path)
	bopts.Logger = nil
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("agent: open wal database: %w", err)
	}

	w, err := wal.New(db, wal.Options{
		AgentID:        cfg.Agent.ID,
		WriteMode:      wal.WriteMode(cfg.Agent.WAL.WriteMode),
		AsyncQueueSize: cfg.Agent.WAL.AsyncQueueSize,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("agent: open wal: %w", err)
	}

	limiter, err := wal.NewLimiter(wal.Policy(cfg.Agent.WAL.BackpressurePolicy), cfg.Agent.WAL.MaxRecords)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("agent: build backpressure limiter: %w", err)
	}

	dlq, err := wal.NewDeadLetter(db, cfg.Agent.ID)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("agent: open dead-letter queue: %w", err)
	}

	client, err := bus.NewClient(bus.ClientOptions{
		Address:    cfg.Agent.BusAddress,
		CertFile:   cfg.Agent.ClientCertFile,
		KeyFile:    cfg.Agent.ClientKeyFile,
		CAFile:     cfg.Agent.CAFile,
		ServerName: cfg.Agent.ServerName,
	})
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("agent: dial bus: %w", err)
	}

	return &Agent{
		id:      cfg.Agent.ID,
		priv:    priv,
		db:      db,
		wal:     w,
		limiter: limiter,
		dlq:     dlq,
		client:  client,
		drainOpt: wal.DrainOptions{
			BatchSize:    cfg.Agent.WAL.BatchSize,
			PollInterval: cfg.Agent.WAL.PollInterval,
			Backoff:      wal.DefaultBackoff(),
		},
		metrics: m,
		busAddr: cfg.Agent.BusAddress,
	}, nil
}

// Emit builds, signs, and durably enqueues a new telemetry event. It blocks
// under PolicyBlock backpressure, or fails fast under PolicyDrop, once the
// WAL is at its configured high-water mark.
func (a *Agent) Emit(ctx context.Context, kind envelope.PayloadKind, payload any, attrs map[string]string) error {
	depth, err := a.wal.Depth()
	if err != nil {
		return fmt.Errorf("agent: read wal depth: %w", err)
	}
	if err := a.limiter.Admit(ctx, depth); err != nil {
		return err
	}

	env, err := envelope.Build(envelope.BuildInput{
		SourceAgentID: a.id,
		Kind:          kind,
		Payload:       payload,
		Attributes:    attrs,
	})
	if err != nil {
		return fmt.Errorf("agent: build envelope: %w", err)
	}
	if err := envelope.Sign(&env, a.priv); err != nil {
		return fmt.Errorf("agent: sign envelope: %w", err)
	}

	encoded, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("agent: encode envelope: %w", err)
	}

	if _, err := a.wal.Enqueue(ctx, encoded); err != nil {
		return fmt.Errorf("agent: enqueue envelope: %w", err)
	}
	return nil
}

// observer adapts metrics.Manager to wal.Observer.
type observer struct {
	m *metrics.Manager
}

func (o observer) ObservePublishAttempt(outcome wal.Outcome, d time.Duration) {
	o.m.RecordPublishAttempt(outcome.String(), d)
}

func (o observer) ObserveDeadLetter(reason string) {
	o.m.RecordDeadLetter(reason)
}

// Run drains the WAL against the bus until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	logger.Info("agent publish loop starting", "agent_id", a.id, "bus_address", a.busAddr)
	return wal.Drain(ctx, a.wal, a.client, a.dlq, a.drainOpt, observer{m: a.metrics})
}

// Close releases the WAL, dead-letter queue, and bus connection.
func (a *Agent) Close() error {
	var firstErr error
	if err := a.client.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.wal.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
