// Package bus implements the EventBus: the authenticated, backpressure-aware,
// deduplicating, signature-verifying ingest service telemetry agents publish
// to. It terminates mTLS transport (see pkg/grpc), runs each Publish call
// through an eight-step admission-to-acknowledgement pipeline, and durably
// stores accepted envelopes (see pkg/bus/store).
package bus

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/amoskys/amoskys/pkg/bus/store"
	"github.com/amoskys/amoskys/pkg/envelope"
	"github.com/amoskys/amoskys/pkg/metrics"
	"github.com/amoskys/amoskys/pkg/trust"
)

// Outcome is the terminal status of one Publish pipeline run.
type Outcome int

const (
	// OK means the envelope is durably stored (or was already a known
	// duplicate); the agent may purge its WAL record.
	OK Outcome = iota
	// Retry means a transient condition (store unavailable, internal error)
	// prevented storage; the agent must keep the record and back off.
	Retry
	// Invalid means a permanent rejection (bad signature, unknown agent,
	// malformed envelope); the agent must not retry and dead-letters it.
	Invalid
	// Overload means admission control rejected the call because the bus is
	// at max_inflight or an operator set the overload flag.
	Overload
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Retry:
		return "retry"
	case Invalid:
		return "invalid"
	case Overload:
		return "overload"
	default:
		return "unknown"
	}
}

// Result is the outcome of one pipeline run plus an optional human-readable
// detail (surfaced in the PublishAck and, for Invalid, in the dead-letter
// reason recorded by the agent).
type Result struct {
	Outcome Outcome
	Detail  string
}

// Pipeline runs admission, schema, identity, signature, dedup, in-flight
// bookkeeping, and durable storage for one Publish call. It holds no
// per-request state; a single Pipeline is shared and safe for concurrent use.
type Pipeline struct {
	trust       *trust.Map
	store       store.Store
	inflight    *InFlightSet
	maxInFlight int
	metrics     *metrics.Manager
	overloaded  atomic.Bool
}

// Config configures a Pipeline.
type Config struct {
	Trust       *trust.Map
	Store       store.Store
	MaxInFlight int
	Metrics     *metrics.Manager
}

// NewPipeline constructs a Pipeline from cfg. A nil Metrics is replaced with
// a no-op manager.
func NewPipeline(cfg Config) *Pipeline {
	m := cfg.Metrics
	if m == nil {
		m = metrics.NoOpManager()
	}
	return &Pipeline{
		trust:       cfg.Trust,
		store:       cfg.Store,
		inflight:    NewInFlightSet(),
		maxInFlight: cfg.MaxInFlight,
		metrics:     m,
	}
}

// SetOverloaded forces every subsequent Publish call to return Overload,
// regardless of the in-flight count, until cleared. Intended for operator
// shed-load control.
func (p *Pipeline) SetOverloaded(overloaded bool) {
	p.overloaded.Store(overloaded)
}

// InFlightLen reports the current in-flight count, for readiness/metrics.
func (p *Pipeline) InFlightLen() int {
	return p.inflight.Len()
}

// Publish runs the eight-step admission-to-acknowledgement pipeline against
// a signed envelope received over an authenticated connection. callerAgentID
// is the identity extracted from the client's verified mTLS certificate.
func (p *Pipeline) Publish(ctx context.Context, callerAgentID string, env envelope.Envelope) Result {
	// Step 1: admission. The manual shed-load flag and the current in-flight
	// count are checked before any other work, so a bus already at
	// max_inflight sheds load early. This read alone does not bound
	// |in_flight|: reading inflight.Len() now and reserving a slot later
	// (step 6) are two separate operations, and concurrent Publish calls for
	// distinct event_ids can all observe room before any of them claims it.
	// The bound is therefore enforced atomically again at step 6, where the
	// check and the insert happen under the same lock.
	if p.overloaded.Load() || p.inflight.Len() >= p.maxInFlight {
		p.metrics.RecordOverloadRejection()
		p.record(Overload)
		return Result{Outcome: Overload, Detail: "bus overloaded"}
	}

	// Step 2: schema check.
	if err := env.Validate(); err != nil {
		p.record(Invalid)
		return Result{Outcome: Invalid, Detail: err.Error()}
	}

	// Step 3: identity check.
	if callerAgentID == "" || callerAgentID != env.SourceAgentID {
		p.record(Invalid)
		return Result{Outcome: Invalid, Detail: "client identity does not match source_agent_id"}
	}
	pub, trusted := p.trust.PublicKey(env.SourceAgentID)
	if !trusted {
		p.record(Invalid)
		return Result{Outcome: Invalid, Detail: "agent not present in trust map or expired"}
	}

	// Step 4: signature check.
	if !envelope.Verify(env, pub) {
		p.metrics.RecordSignatureFailure(env.SourceAgentID)
		p.record(Invalid)
		return Result{Outcome: Invalid, Detail: "signature verification failed"}
	}

	// Step 5: dedup check (in-flight or already persisted).
	if p.inflight.Contains(env.EventID) {
		p.metrics.RecordDedupHit()
		p.record(OK)
		return Result{Outcome: OK, Detail: "duplicate of in-flight event"}
	}
	exists, err := p.store.Exists(ctx, env.EventID)
	if err != nil {
		p.record(Retry)
		return Result{Outcome: Retry, Detail: "dedup lookup failed"}
	}
	if exists {
		p.metrics.RecordDedupHit()
		p.record(OK)
		return Result{Outcome: OK, Detail: "duplicate of stored event"}
	}

	// Step 6: atomically check the admission bound and reserve the
	// in-flight slot in one critical section (TryReserve), so a burst of
	// concurrent Publish calls for distinct event_ids can never together
	// push |in_flight| past max_inflight. A concurrent winner of the same
	// event_id is treated as a duplicate, not an error.
	reserved, duplicate := p.inflight.TryReserve(env.EventID, p.maxInFlight)
	if duplicate {
		p.metrics.RecordDedupHit()
		p.record(OK)
		return Result{Outcome: OK, Detail: "duplicate concurrent insert"}
	}
	if !reserved {
		p.metrics.RecordOverloadRejection()
		p.record(Overload)
		return Result{Outcome: Overload, Detail: "bus at max_inflight"}
	}
	p.metrics.IncBusInFlight()

	// Step 7: store.
	start := time.Now()
	storeErr := p.store.Append(ctx, env)
	p.metrics.RecordStoreLatency(time.Since(start))

	// Step 8: remove from in-flight regardless of outcome.
	p.inflight.Remove(env.EventID)
	p.metrics.DecBusInFlight()

	if storeErr != nil {
		if _, dup := storeErr.(*store.DuplicateEventError); dup {
			p.metrics.RecordDedupHit()
			p.record(OK)
			return Result{Outcome: OK, Detail: "duplicate detected at store"}
		}
		p.record(Retry)
		return Result{Outcome: Retry, Detail: "store append failed"}
	}

	p.record(OK)
	return Result{Outcome: OK}
}

func (p *Pipeline) record(o Outcome) {
	p.metrics.RecordBusReceived(o.String())
}
