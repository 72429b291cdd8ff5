package relay

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingHooks struct {
	invokes  int64
	shutdown int64
}

func (h *recordingHooks) OnInvoke(_ context.Context, rc *Context) {
	atomic.AddInt64(&h.invokes, 1)
	_ = rc.RequestID
}

func (h *recordingHooks) OnShutdown(context.Context) {
	atomic.AddInt64(&h.shutdown, 1)
}

func TestExtensionHooks_FireOncePerIterationAndOnShutdown(t *testing.T) {
	_, server := newFakeControlPlane()
	defer server.Close()

	client := testClient(t, server.Listener.Addr().String(), true, 0)
	handler := HandlerFunc(func(_ context.Context, _ *Context, p []byte) ([]byte, error) { return p, nil })

	logger := zap.NewNop()
	hooks := &recordingHooks{}
	lc := newLifecycle(client, logger, 2)
	lc.subscribe(hooks)
	r := newRunner(client, handler, logger, hooks, false)

	err := lc.run(context.Background(), r, ExecutionEnvironment{})

	require.NoError(t, err)
	assert.EqualValues(t, 2, hooks.invokes)
	assert.EqualValues(t, 1, hooks.shutdown)
}

func TestNoopHooks_DoNotPanic(t *testing.T) {
	var h noopHooks
	assert.NotPanics(t, func() {
		h.OnInvoke(context.Background(), &Context{})
		h.OnShutdown(context.Background())
	})
}
