package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amoskys/amoskys/pkg/wal"
)

func TestDefaultClientOptions(t *testing.T) {
	opts := DefaultClientOptions("bus.example:9443")
	assert.Equal(t, "bus.example:9443", opts.Address)
	assert.Equal(t, 10*time.Second, opts.DialTimeout)
}

func TestNewClient_RequiresAddress(t *testing.T) {
	_, err := NewClient(ClientOptions{})
	require.Error(t, err)
}

func TestLoadClientTLS_RejectsUnreadableCAFile(t *testing.T) {
	_, err := loadClientTLS(ClientOptions{CAFile: "/nonexistent/ca.pem"})
	require.Error(t, err)
}

func TestLoadClientTLS_NoCertsStillBuildsCredentials(t *testing.T) {
	creds, err := loadClientTLS(ClientOptions{})
	require.NoError(t, err)
	assert.NotNil(t, creds)
}

func TestBusOutcomeToWAL(t *testing.T) {
	assert.Equal(t, wal.OutcomeOK, busOutcomeToWAL(OK))
	assert.Equal(t, wal.OutcomeInvalid, busOutcomeToWAL(Invalid))
	assert.Equal(t, wal.OutcomeOverload, busOutcomeToWAL(Overload))
	assert.Equal(t, wal.OutcomeRetry, busOutcomeToWAL(Retry))
}
