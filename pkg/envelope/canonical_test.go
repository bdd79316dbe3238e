package envelope

import "testing"

func TestCanonicalBytes_Deterministic(t *testing.T) {
	base := Envelope{
		Version:       SchemaVersionV1,
		SourceAgentID: "agent-1",
		EventID:       "evt-1",
		TimestampNs:   42,
		Kind:          PayloadFlow,
		Payload:       []byte(`{"a":1}`),
	}

	e1 := base
	e1.Attributes = map[string]string{"b": "2", "a": "1", "c": "3"}

	e2 := base
	e2.Attributes = map[string]string{"c": "3", "b": "2", "a": "1"}

	b1 := CanonicalBytes(e1)
	b2 := CanonicalBytes(e2)

	if string(b1) != string(b2) {
		t.Error("expected CanonicalBytes to be independent of attribute insertion order")
	}
}

func TestCanonicalBytes_IgnoresSignature(t *testing.T) {
	e := Envelope{
		Version:       SchemaVersionV1,
		SourceAgentID: "agent-1",
		EventID:       "evt-1",
		TimestampNs:   42,
		Kind:          PayloadFlow,
		Payload:       []byte(`{"a":1}`),
	}

	unsigned := CanonicalBytes(e)
	e.Signature = []byte("not-part-of-the-encoding")
	signed := CanonicalBytes(e)

	if string(unsigned) != string(signed) {
		t.Error("expected Signature field to be excluded from CanonicalBytes")
	}
}

func TestCanonicalBytes_DiffersOnPayloadChange(t *testing.T) {
	e := Envelope{
		Version:       SchemaVersionV1,
		SourceAgentID: "agent-1",
		EventID:       "evt-1",
		TimestampNs:   42,
		Kind:          PayloadFlow,
		Payload:       []byte(`{"a":1}`),
	}
	b1 := CanonicalBytes(e)

	e.Payload = []byte(`{"a":2}`)
	b2 := CanonicalBytes(e)

	if string(b1) == string(b2) {
		t.Error("expected different payloads to produce different canonical bytes")
	}
}
