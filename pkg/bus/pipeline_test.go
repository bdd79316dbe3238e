package bus

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amoskys/amoskys/pkg/bus/store"
	"github.com/amoskys/amoskys/pkg/envelope"
	"github.com/amoskys/amoskys/pkg/trust"
)

// testAgent bundles the keypair and trust-file fixture one pipeline test
// needs to stand up a trusted, signable identity.
type testAgent struct {
	id   string
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func newTestAgent(t *testing.T, id string) testAgent {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return testAgent{id: id, pub: pub, priv: priv}
}

func newTestTrustMap(t *testing.T, agents ...testAgent) *trust.Map {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "trust.yaml")

	var sb []byte
	for _, a := range agents {
		sb = append(sb, []byte(fmt.Sprintf(
			"- agent_id: %s\n  public_key_hex: %s\n  cert_fingerprint: fp-%s\n  valid_until: %s\n",
			a.id, hex.EncodeToString(a.pub), a.id, time.Now().Add(24*time.Hour).Format(time.RFC3339),
		))...)
	}
	require.NoError(t, os.WriteFile(path, sb, 0o600))

	m, err := trust.Load(path)
	require.NoError(t, err)
	return m
}

func signedEnvelope(t *testing.T, agent testAgent, eventID string) envelope.Envelope {
	t.Helper()
	env, err := envelope.Build(envelope.BuildInput{
		SourceAgentID: agent.id,
		Kind:          envelope.PayloadFlow,
		Payload:       map[string]string{"proto": "tcp"},
	})
	require.NoError(t, err)
	if eventID != "" {
		env.EventID = eventID
	}
	require.NoError(t, envelope.Sign(&env, agent.priv))
	return env
}

func newTestPipeline(t *testing.T, trustMap *trust.Map, maxInFlight int) (*Pipeline, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	p := NewPipeline(Config{
		Trust:       trustMap,
		Store:       st,
		MaxInFlight: maxInFlight,
	})
	return p, st
}

func TestPipeline_Publish_OK(t *testing.T) {
	agent := newTestAgent(t, "agent-1")
	trustMap := newTestTrustMap(t, agent)
	p, st := newTestPipeline(t, trustMap, 10)

	env := signedEnvelope(t, agent, "")
	result := p.Publish(context.Background(), agent.id, env)

	assert.Equal(t, OK, result.Outcome)
	exists, err := st.Exists(context.Background(), env.EventID)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 0, p.InFlightLen())
}

func TestPipeline_Publish_Overload(t *testing.T) {
	agent := newTestAgent(t, "agent-1")
	trustMap := newTestTrustMap(t, agent)
	p, _ := newTestPipeline(t, trustMap, 1)

	p.SetOverloaded(true)
	result := p.Publish(context.Background(), agent.id, signedEnvelope(t, agent, ""))
	assert.Equal(t, Overload, result.Outcome)
}

func TestPipeline_Publish_OverloadAtMaxInFlight(t *testing.T) {
	agent := newTestAgent(t, "agent-1")
	trustMap := newTestTrustMap(t, agent)
	p, _ := newTestPipeline(t, trustMap, 1)

	p.inflight.Insert("already-in-flight")
	result := p.Publish(context.Background(), agent.id, signedEnvelope(t, agent, ""))
	assert.Equal(t, Overload, result.Outcome)
}

func TestPipeline_Publish_InvalidSchema(t *testing.T) {
	agent := newTestAgent(t, "agent-1")
	trustMap := newTestTrustMap(t, agent)
	p, _ := newTestPipeline(t, trustMap, 10)

	env := signedEnvelope(t, agent, "")
	env.Version = 0 // violates Validate()'s schema invariant

	result := p.Publish(context.Background(), agent.id, env)
	assert.Equal(t, Invalid, result.Outcome)
}

func TestPipeline_Publish_IdentityMismatch(t *testing.T) {
	agentA := newTestAgent(t, "agent-a")
	agentB := newTestAgent(t, "agent-b")
	trustMap := newTestTrustMap(t, agentA, agentB)
	p, _ := newTestPipeline(t, trustMap, 10)

	env := signedEnvelope(t, agentA, "")
	// Caller's mTLS identity (agent-b) does not match the envelope's claimed
	// source_agent_id (agent-a).
	result := p.Publish(context.Background(), agentB.id, env)
	assert.Equal(t, Invalid, result.Outcome)
}

func TestPipeline_Publish_UnknownAgent(t *testing.T) {
	agent := newTestAgent(t, "agent-1")
	trustMap := newTestTrustMap(t) // empty trust map
	p, _ := newTestPipeline(t, trustMap, 10)

	env := signedEnvelope(t, agent, "")
	result := p.Publish(context.Background(), agent.id, env)
	assert.Equal(t, Invalid, result.Outcome)
}

func TestPipeline_Publish_BadSignature(t *testing.T) {
	agent := newTestAgent(t, "agent-1")
	trustMap := newTestTrustMap(t, agent)
	p, _ := newTestPipeline(t, trustMap, 10)

	env := signedEnvelope(t, agent, "")
	env.Signature[0] ^= 0xFF // corrupt the signature

	result := p.Publish(context.Background(), agent.id, env)
	assert.Equal(t, Invalid, result.Outcome)
}

func TestPipeline_Publish_DuplicateInFlight(t *testing.T) {
	agent := newTestAgent(t, "agent-1")
	trustMap := newTestTrustMap(t, agent)
	p, _ := newTestPipeline(t, trustMap, 10)

	env := signedEnvelope(t, agent, "evt-dup")
	p.inflight.Insert(env.EventID)

	result := p.Publish(context.Background(), agent.id, env)
	assert.Equal(t, OK, result.Outcome)
}

func TestPipeline_Publish_DuplicateAlreadyStored(t *testing.T) {
	agent := newTestAgent(t, "agent-1")
	trustMap := newTestTrustMap(t, agent)
	p, _ := newTestPipeline(t, trustMap, 10)

	env := signedEnvelope(t, agent, "")
	first := p.Publish(context.Background(), agent.id, env)
	require.Equal(t, OK, first.Outcome)

	second := p.Publish(context.Background(), agent.id, env)
	assert.Equal(t, OK, second.Outcome)
}

// slowStore delays every Append so concurrent Publish calls overlap in the
// in-flight window for long enough to exercise the admission bound.
type slowStore struct {
	store.Store
	delay   time.Duration
	mu      sync.Mutex
	current int
	peak    int
}

func (s *slowStore) Exists(ctx context.Context, eventID string) (bool, error) {
	return s.Store.Exists(ctx, eventID)
}

func (s *slowStore) Append(ctx context.Context, env envelope.Envelope) error {
	s.mu.Lock()
	s.current++
	if s.current > s.peak {
		s.peak = s.current
	}
	s.mu.Unlock()

	time.Sleep(s.delay)

	s.mu.Lock()
	s.current--
	s.mu.Unlock()

	return s.Store.Append(ctx, env)
}

// TestPipeline_Publish_ConcurrentDistinctEventsRespectsMaxInFlight reproduces
// spec.md section 8 seed scenario 5: max_inflight=1, a slow store, and a
// burst of concurrent Publish calls for distinct event_ids. The admission
// bound and the in-flight insert must be atomic with each other, or every
// caller's non-atomic "check Len(), then insert" race lets more than
// max_inflight calls land in the store concurrently.
func TestPipeline_Publish_ConcurrentDistinctEventsRespectsMaxInFlight(t *testing.T) {
	agent := newTestAgent(t, "agent-1")
	trustMap := newTestTrustMap(t, agent)

	backing := &slowStore{Store: store.NewMemoryStore(), delay: 50 * time.Millisecond}
	p := NewPipeline(Config{
		Trust:       trustMap,
		Store:       backing,
		MaxInFlight: 1,
	})

	const n = 10
	envs := make([]envelope.Envelope, n)
	for i := range envs {
		envs[i] = signedEnvelope(t, agent, fmt.Sprintf("evt-concurrent-%d", i))
	}

	var wg sync.WaitGroup
	results := make(chan Result, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(env envelope.Envelope) {
			defer wg.Done()
			results <- p.Publish(context.Background(), agent.id, env)
		}(envs[i])
	}
	wg.Wait()
	close(results)

	var okCount, overloadCount int
	for r := range results {
		switch r.Outcome {
		case OK:
			okCount++
		case Overload:
			overloadCount++
		default:
			t.Errorf("unexpected outcome: %v", r.Outcome)
		}
	}

	assert.LessOrEqual(t, backing.peak, 1, "at most max_inflight stores may run concurrently")
	assert.Greater(t, overloadCount, 0, "a burst past max_inflight must shed some load")
	assert.Equal(t, n, okCount+overloadCount)
	assert.Equal(t, 0, p.InFlightLen())
}

// failingStore always reports errors, modeling a transient storage outage.
type failingStore struct {
	store.Store
}

func (f *failingStore) Exists(ctx context.Context, eventID string) (bool, error) {
	return false, fmt.Errorf("store: unavailable")
}

func (f *failingStore) Append(ctx context.Context, env envelope.Envelope) error {
	return fmt.Errorf("store: unavailable")
}

func TestPipeline_Publish_StoreUnavailableIsRetry(t *testing.T) {
	agent := newTestAgent(t, "agent-1")
	trustMap := newTestTrustMap(t, agent)

	p := NewPipeline(Config{
		Trust:       trustMap,
		Store:       &failingStore{},
		MaxInFlight: 10,
	})

	result := p.Publish(context.Background(), agent.id, signedEnvelope(t, agent, ""))
	assert.Equal(t, Retry, result.Outcome)
	assert.Equal(t, 0, p.InFlightLen(), "in-flight entry must be removed even on store failure")
}

func TestPipeline_Publish_ConcurrentSameEvent(t *testing.T) {
	agent := newTestAgent(t, "agent-1")
	trustMap := newTestTrustMap(t, agent)
	p, _ := newTestPipeline(t, trustMap, 100)

	env := signedEnvelope(t, agent, "evt-race")

	const n = 20
	results := make(chan Result, n)
	for i := 0; i < n; i++ {
		go func() {
			results <- p.Publish(context.Background(), agent.id, env)
		}()
	}

	okCount := 0
	for i := 0; i < n; i++ {
		r := <-results
		if r.Outcome == OK {
			okCount++
		} else {
			t.Errorf("unexpected non-OK outcome under concurrent dedup: %v", r.Outcome)
		}
	}
	assert.Equal(t, n, okCount)
	assert.Equal(t, 0, p.InFlightLen())
}
