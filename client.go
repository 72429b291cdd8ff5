package relay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const relayVersion = "0.9.0"

var userAgentHeader = fmt.Sprintf("relay/%s go/%s", relayVersion, runtime.Version())

const (
	invocationPath = "/2018-06-01/runtime/invocation/"
	nextPath       = invocationPath + "next"
	initErrorPath  = "/2018-06-01/runtime/init/error"

	headerRequestID       = "Lambda-Runtime-Aws-Request-Id"
	headerDeadlineMS      = "Lambda-Runtime-Deadline-Ms"
	headerTraceID         = "Lambda-Runtime-Trace-Id"
	headerFunctionARN     = "Lambda-Runtime-Invoked-Function-Arn"
	headerCognitoIdentity = "Lambda-Runtime-Cognito-Identity"
	headerClientContext   = "Lambda-Runtime-Client-Context"
)

// connState is the client's connection state machine:
// disconnected -> connecting -> connected -> disconnected.
type connState int

const (
	stateDisconnected connState = iota
	stateConnecting
	stateConnected
)

// runtimeClient is the bespoke keep-alive HTTP/1.1 client that speaks the
// four runtime API operations over a single TCP connection. It
// deliberately does not use net/http's Transport: that type pools
// connections and hides exactly the lifecycle this component must own —
// explicit reconnect-on-idle-close vs. fail-on-mid-request-close, strict
// one-at-a-time enforcement, and tearing a connection down on timeout
// rather than returning it to a pool. See DESIGN.md.
type runtimeClient struct {
	mu        sync.Mutex // serializes do(): at most one request in flight
	endpoint  string
	keepAlive bool
	timeout   time.Duration
	logger    *zap.Logger

	state connState
	br    *bufio.Reader

	connMu sync.Mutex // guards conn alone, so interrupt() can close it
	conn   net.Conn   // while do() is blocked reading under mu
}

// interrupt forcibly closes the underlying connection, if any, unblocking
// a goroutine parked in a long-poll next() call. Used by the lifecycle to
// cut short the runtime API's long-held GET on shutdown.
func (c *runtimeClient) interrupt() {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *runtimeClient) setConn(conn net.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func newRuntimeClient(cfg *Configuration, logger *zap.Logger) *runtimeClient {
	return &runtimeClient{
		endpoint:  cfg.RuntimeEndpoint,
		keepAlive: cfg.KeepAlive,
		timeout:   cfg.RequestTimeout,
		logger:    logger,
		state:     stateDisconnected,
	}
}

func (c *runtimeClient) url(path string) string {
	return "http://" + c.endpoint + path
}

func (c *runtimeClient) ensureConnected() error {
	if c.state == stateConnected {
		return nil
	}

	c.state = stateConnecting
	conn, err := net.Dial("tcp", c.endpoint)
	if err != nil {
		c.state = stateDisconnected
		return err
	}

	c.setConn(conn)
	c.br = bufio.NewReader(conn)
	c.state = stateConnected
	return nil
}

func (c *runtimeClient) closeConn() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.br = nil
	c.state = stateDisconnected
}

// getConn returns the current connection, if any. Reading it under
// connMu (separately from mu, which do() holds for the whole operation)
// is what lets interrupt() close the connection out from under a
// goroutine blocked inside do() on a long poll.
func (c *runtimeClient) getConn() net.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *runtimeClient) applyDeadline(conn net.Conn) error {
	if c.timeout > 0 {
		return conn.SetDeadline(time.Now().Add(c.timeout))
	}
	return conn.SetDeadline(time.Time{})
}

func isTimeoutErr(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// do executes one request/response cycle, enforcing at most one request in
// flight via c.mu. A write
// failure against a previously-established connection is assumed to be a
// peer-initiated idle close and is retried once against a fresh
// connection; a failure reading the response after a successful write
// means the peer closed mid-request and is reported as
// connectionResetByPeer without retry, because we cannot know whether the
// server committed its side effect.
func (c *runtimeClient) do(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	req.Header.Set("Connection", lo.Ternary(c.keepAlive, "keep-alive", "close"))
	req.Close = !c.keepAlive
	req.Header.Set("User-Agent", userAgentHeader)

	for attempt := 0; ; attempt++ {
		wasExisting := c.state == stateConnected

		if err := c.ensureConnected(); err != nil {
			return nil, newConnectionResetError(err)
		}
		conn := c.getConn()

		if err := c.applyDeadline(conn); err != nil {
			c.closeConn()
			return nil, newConnectionResetError(err)
		}

		writeErr := req.Write(conn)
		if writeErr != nil {
			c.closeConn()
			if isTimeoutErr(writeErr) {
				return nil, newTimeoutError(writeErr)
			}
			if wasExisting && attempt == 0 {
				c.logger.Debug("reconnecting after idle connection close", zap.Error(writeErr))
				continue // stale pooled connection; retry once against a fresh dial
			}
			return nil, newConnectionResetError(writeErr)
		}

		resp, readErr := http.ReadResponse(c.br, req)
		if readErr != nil {
			c.closeConn()
			if isTimeoutErr(readErr) {
				return nil, newTimeoutError(readErr)
			}
			return nil, newConnectionResetError(readErr)
		}

		return resp, nil
	}
}

// finishResponse applies the keep-alive negotiation rule: the connection
// is reused only if both local configuration and the server's response
// indicate keep-alive; otherwise it is closed now that the response has
// been fully drained.
func (c *runtimeClient) finishResponse(resp *http.Response) {
	if !c.keepAlive || resp.Close {
		c.closeConn()
	}
}

// next blocks until the control plane delivers an invocation. It must be
// called only when no other operation on this client is in flight.
func (c *runtimeClient) next() (*Invocation, error) {
	req, err := http.NewRequest(http.MethodGet, c.url(nextPath), nil)
	if err != nil {
		return nil, errors.Wrap(err, "building next request")
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		c.finishResponse(resp)
		return nil, newBadStatusCodeError(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.closeConn()
		return nil, newConnectionResetError(err)
	}
	c.finishResponse(resp)

	if len(body) == 0 {
		return nil, newNoBodyError()
	}

	requestID := resp.Header.Get(headerRequestID)
	if requestID == "" {
		return nil, newNoContextError()
	}

	// The deadline header's unit/epoch is documented by AWS as
	// "milliseconds since Unix epoch"; a malformed value is treated as an
	// already-past deadline rather than a hard failure, yielding an
	// immediately-expired context instead of an error (see DESIGN.md
	// Open Questions).
	deadlineMS, _ := strconv.ParseInt(resp.Header.Get(headerDeadlineMS), 10, 64)

	return &Invocation{
		RequestID:          requestID,
		TraceID:            resp.Header.Get(headerTraceID),
		InvokedFunctionArn: resp.Header.Get(headerFunctionARN),
		DeadlineWallClock:  time.UnixMilli(deadlineMS),
		CognitoIdentity:    resp.Header.Get(headerCognitoIdentity),
		ClientContext:      resp.Header.Get(headerClientContext),
		Payload:            body,
	}, nil
}

func (c *runtimeClient) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "building post request")
	}
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	status := resp.StatusCode
	c.finishResponse(resp)

	if status != http.StatusAccepted {
		return newBadStatusCodeError(status)
	}
	return nil
}

// reportResponse posts a successful invocation result.
func (c *runtimeClient) reportResponse(requestID string, body []byte) error {
	return c.post(c.url(invocationPath+requestID+"/response"), body)
}

// reportInvocationError posts a per-invocation failure.
func (c *runtimeClient) reportInvocationError(requestID string, report *ErrorReport) error {
	return c.postErrorReport(c.url(invocationPath+requestID+"/error"), report)
}

// reportBootstrapError posts a bootstrap failure. Used only before the
// first invocation is served.
func (c *runtimeClient) reportBootstrapError(report *ErrorReport) error {
	return c.postErrorReport(c.url(initErrorPath), report)
}

// postErrorReport marshals report to JSON and posts it, falling back to
// the literal jsonEncodingFallback body (and surfacing jsonEncoding) if
// marshaling itself fails
func (c *runtimeClient) postErrorReport(url string, report *ErrorReport) error {
	body, marshalErr := json.Marshal(report)
	if marshalErr != nil {
		body = []byte(jsonEncodingFallback)
	}

	postErr := c.post(url, body)
	if marshalErr != nil {
		if postErr != nil {
			return postErr
		}
		return newJSONEncodingError(marshalErr)
	}
	return postErr
}
