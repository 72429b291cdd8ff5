package relay

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClient(t *testing.T, endpoint string, keepAlive bool, timeout time.Duration) *runtimeClient {
	t.Helper()
	cfg := &Configuration{RuntimeEndpoint: endpoint, KeepAlive: keepAlive, RequestTimeout: timeout}
	return newRuntimeClient(cfg, zap.NewNop())
}

func TestRuntimeClient_Next(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2018-06-01/runtime/invocation/next", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)

		w.Header().Set(headerRequestID, "test-request-id")
		w.Header().Set(headerDeadlineMS, "1700000000000")
		w.Header().Set(headerTraceID, "trace-123")
		w.Write([]byte(`{"key":"value"}`))
	}))
	defer server.Close()

	client := testClient(t, server.Listener.Addr().String(), true, 0)
	inv, err := client.next()

	require.NoError(t, err)
	assert.Equal(t, "test-request-id", inv.RequestID)
	assert.Equal(t, "trace-123", inv.TraceID)
	assert.JSONEq(t, `{"key":"value"}`, string(inv.Payload))
}

func TestRuntimeClient_Next_NoBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headerRequestID, "req-1")
		w.Header().Set(headerDeadlineMS, "1700000000000")
	}))
	defer server.Close()

	client := testClient(t, server.Listener.Addr().String(), true, 0)
	_, err := client.next()

	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, KindNoBody, relayErr.Kind)
}

func TestRuntimeClient_Next_NoContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headerDeadlineMS, "1700000000000")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := testClient(t, server.Listener.Addr().String(), true, 0)
	_, err := client.next()

	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, KindNoContext, relayErr.Kind)
}

func TestRuntimeClient_Next_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := testClient(t, server.Listener.Addr().String(), true, 0)
	_, err := client.next()

	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, KindBadStatusCode, relayErr.Kind)
	assert.Equal(t, http.StatusInternalServerError, relayErr.Status)
}

func TestRuntimeClient_ReportResponse(t *testing.T) {
	var receivedPath, receivedBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		receivedBody = string(body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := testClient(t, server.Listener.Addr().String(), true, 0)
	err := client.reportResponse("req-123", []byte(`{"ok":true}`))

	require.NoError(t, err)
	assert.Equal(t, "/2018-06-01/runtime/invocation/req-123/response", receivedPath)
	assert.JSONEq(t, `{"ok":true}`, receivedBody)
}

func TestRuntimeClient_ReportInvocationError(t *testing.T) {
	var receivedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedPath = r.URL.Path
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := testClient(t, server.Listener.Addr().String(), true, 0)
	err := client.reportInvocationError("req-456", &ErrorReport{Type: "Error", Message: "boom"})

	require.NoError(t, err)
	assert.Equal(t, "/2018-06-01/runtime/invocation/req-456/error", receivedPath)
}

func TestRuntimeClient_ReconnectsAfterIdleClose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := testClient(t, server.Listener.Addr().String(), true, 0)

	require.NoError(t, client.post(client.url(initErrorPath), []byte("{}")))
	// the server closed the connection after the first response; a
	// second operation must transparently reconnect rather than fail.
	require.NoError(t, client.post(client.url(initErrorPath), []byte("{}")))
}

func TestRuntimeClient_Timeout(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer func() {
		close(block)
		server.Close()
	}()

	client := testClient(t, server.Listener.Addr().String(), true, 20*time.Millisecond)
	_, err := client.next()

	var relayErr *Error
	require.ErrorAs(t, err, &relayErr)
	assert.Equal(t, KindTimeout, relayErr.Kind)
}

func TestRuntimeClient_URL(t *testing.T) {
	client := testClient(t, "127.0.0.1:7000", true, 0)
	assert.True(t, strings.HasPrefix(client.url(nextPath), "http://127.0.0.1:7000/"))
}
