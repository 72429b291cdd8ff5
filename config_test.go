package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := newConfigFromEnv(envConfig{StopSignal: 15})

	require.NoError(t, err)
	assert.Equal(t, defaultRuntimeEndpoint, cfg.RuntimeEndpoint)
	assert.Equal(t, 0, cfg.MaxInvocations)
	assert.Equal(t, time.Duration(0), cfg.RequestTimeout)
	assert.NotEmpty(t, cfg.LifecycleID)
}

func TestNewConfigFromEnv_CustomEndpoint(t *testing.T) {
	cfg, err := newConfigFromEnv(envConfig{
		RuntimeAPI:       "169.254.100.1:9001",
		StopSignal:       15,
		RequestTimeoutMS: 250,
	})

	require.NoError(t, err)
	assert.Equal(t, "169.254.100.1:9001", cfg.RuntimeEndpoint)
	assert.Equal(t, 250*time.Millisecond, cfg.RequestTimeout)
}

func TestNewConfigFromEnv_InvalidEndpoint(t *testing.T) {
	_, err := newConfigFromEnv(envConfig{RuntimeAPI: "not-a-host-port", StopSignal: 15})

	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, KindConfiguration, relayErr.Kind)
}

func TestNewConfigFromEnv_NegativeMaxRequests(t *testing.T) {
	_, err := newConfigFromEnv(envConfig{MaxRequests: -1, StopSignal: 15})

	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, KindConfiguration, relayErr.Kind)
}

func TestNewConfigFromEnv_InvalidStopSignal(t *testing.T) {
	_, err := newConfigFromEnv(envConfig{StopSignal: 0})

	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, KindConfiguration, relayErr.Kind)
}
