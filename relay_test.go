package relay

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type echoIn struct {
	Value int `json:"value"`
}

type echoOut struct {
	Value int `json:"value"`
}

func TestStart_RunsToCompletion(t *testing.T) {
	_, server := newFakeControlPlane()
	defer server.Close()

	cfg := &Configuration{
		RuntimeEndpoint: server.Listener.Addr().String(),
		KeepAlive:       true,
		MaxInvocations:  2,
		StopSignal:      15,
	}

	err := Start(func(_ context.Context, in echoIn) (echoOut, error) {
		return echoOut{Value: in.Value}, nil
	}, WithConfig(cfg), WithLogger(zap.NewNop()))

	require.NoError(t, err)
}

func TestRun_WithTraceEnv_SetsEnvVar(t *testing.T) {
	os.Unsetenv("_X_AMZN_TRACE_ID")
	defer os.Unsetenv("_X_AMZN_TRACE_ID")

	_, server := newFakeControlPlane()
	defer server.Close()

	cfg := &Configuration{
		RuntimeEndpoint: server.Listener.Addr().String(),
		KeepAlive:       true,
		MaxInvocations:  1,
		StopSignal:      15,
	}

	handler := HandlerFunc(func(_ context.Context, _ *Context, p []byte) ([]byte, error) {
		assert.NotEmpty(t, os.Getenv("_X_AMZN_TRACE_ID"))
		return p, nil
	})

	err := Run(handler, WithConfig(cfg), WithLogger(zap.NewNop()), WithTraceEnv(true))
	require.NoError(t, err)
}

func TestRun_ExtensionHooksOption(t *testing.T) {
	_, server := newFakeControlPlane()
	defer server.Close()

	cfg := &Configuration{
		RuntimeEndpoint: server.Listener.Addr().String(),
		KeepAlive:       true,
		MaxInvocations:  1,
		StopSignal:      15,
	}

	hooks := &recordingHooks{}
	handler := HandlerFunc(func(_ context.Context, _ *Context, p []byte) ([]byte, error) { return p, nil })

	err := Run(handler, WithConfig(cfg), WithLogger(zap.NewNop()), WithExtensionHooks(hooks))

	require.NoError(t, err)
	assert.EqualValues(t, 1, hooks.invokes)
	assert.EqualValues(t, 1, hooks.shutdown)
}
