package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"

	"github.com/amoskys/amoskys/pkg/envelope"
)

func TestStatusToOutcome(t *testing.T) {
	assert.Equal(t, OK, statusToOutcome("ok"))
	assert.Equal(t, Retry, statusToOutcome("retry"))
	assert.Equal(t, Invalid, statusToOutcome("invalid"))
	assert.Equal(t, Overload, statusToOutcome("overload"))
	assert.Equal(t, Retry, statusToOutcome("garbage"))
}

func TestGRPCCodeForOutcome(t *testing.T) {
	assert.Equal(t, codes.OK, grpcCodeForOutcome(OK))
	assert.Equal(t, codes.InvalidArgument, grpcCodeForOutcome(Invalid))
	assert.Equal(t, codes.ResourceExhausted, grpcCodeForOutcome(Overload))
	assert.Equal(t, codes.Unavailable, grpcCodeForOutcome(Retry))
}

func TestJSONCodec_RoundTripsPublishRequest(t *testing.T) {
	c := jsonCodec{}
	assert.Equal(t, codecName, c.Name())

	env, err := envelope.Build(envelope.BuildInput{
		SourceAgentID: "agent-1",
		Kind:          envelope.PayloadFlow,
		Payload:       map[string]string{"proto": "tcp"},
	})
	require.NoError(t, err)

	req := &PublishRequest{Envelope: env}
	data, err := c.Marshal(req)
	require.NoError(t, err)

	var out PublishRequest
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, req.Envelope.EventID, out.Envelope.EventID)
	assert.Equal(t, req.Envelope.SourceAgentID, out.Envelope.SourceAgentID)
}
