package relay

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Invocation is produced by decoding a GET /next response. The
// Cognito identity and client context headers are carried as opaque JSON
// strings, exactly as the wire protocol sends them; ParseCognitoIdentity
// and ParseClientContext decode them on demand for handlers that need the
// structured form.
type Invocation struct {
	RequestID          string
	TraceID            string
	InvokedFunctionArn string
	DeadlineWallClock  time.Time
	CognitoIdentity    string
	ClientContext      string
	Payload            []byte
}

// ClientApplication describes the client application in a parsed
// ClientContext, for invocations originating from the AWS Mobile SDK.
type ClientApplication struct {
	InstallationID string `json:"installation_id"`
	AppTitle       string `json:"app_title"`
	AppVersionCode string `json:"app_version_code"`
	AppPackageName string `json:"app_package_name"`
}

// ClientContextData is the structured form of Context.ClientContext.
type ClientContextData struct {
	Client ClientApplication `json:"client"`
	Env    map[string]string `json:"env"`
	Custom map[string]string `json:"custom"`
}

// CognitoIdentityData is the structured form of Context.CognitoIdentity.
type CognitoIdentityData struct {
	CognitoIdentityID     string `json:"cognito_identity_id"`
	CognitoIdentityPoolID string `json:"cognito_identity_pool_id"`
}

// ParseClientContext decodes the opaque ClientContext header value, if any.
func ParseClientContext(raw string) (ClientContextData, error) {
	var data ClientContextData
	if raw == "" {
		return data, nil
	}
	err := json.Unmarshal([]byte(raw), &data)
	return data, err
}

// ParseCognitoIdentity decodes the opaque CognitoIdentity header value, if any.
func ParseCognitoIdentity(raw string) (CognitoIdentityData, error) {
	var data CognitoIdentityData
	if raw == "" {
		return data, nil
	}
	err := json.Unmarshal([]byte(raw), &data)
	return data, err
}

// Context is the immutable per-invocation record handed to a handler. It
// has the same fields as Invocation minus the payload, plus RemainingTime
// and a Logger pre-bound with requestId/traceId metadata. Its
// lifetime is one invocation: created after a successful /next, discarded
// once the response or error has been reported.
type Context struct {
	RequestID          string
	TraceID            string
	InvokedFunctionArn string
	DeadlineWallClock  time.Time
	CognitoIdentity    string
	ClientContext      string
	Logger             *zap.Logger
}

// RemainingTime returns the signed duration between the invocation
// deadline and now. A negative value means the deadline has already
// passed; relay does not enforce this, it only reports it, so a late
// deadline yields an immediately-expired context rather than an error.
func (c *Context) RemainingTime() time.Duration {
	return time.Until(c.DeadlineWallClock)
}

func newContext(inv *Invocation, logger *zap.Logger, iteration int) *Context {
	return &Context{
		RequestID:          inv.RequestID,
		TraceID:            inv.TraceID,
		InvokedFunctionArn: inv.InvokedFunctionArn,
		DeadlineWallClock:  inv.DeadlineWallClock,
		CognitoIdentity:    inv.CognitoIdentity,
		ClientContext:      inv.ClientContext,
		Logger: logger.With(
			zap.String("awsRequestId", inv.RequestID),
			zap.String("awsTraceId", inv.TraceID),
			zap.Int("lifecycleIteration", iteration),
		),
	}
}

type contextKey struct{}

var relayContextKey = &contextKey{}

// NewContext returns a copy of parent carrying rc, retrievable with
// FromContext. Handlers that only accept a stdlib context.Context (the
// typed-callback shape) reach relay metadata this way.
func NewContext(parent context.Context, rc *Context) context.Context {
	return context.WithValue(parent, relayContextKey, rc)
}

// FromContext extracts the Context relay attached to ctx, if any.
func FromContext(ctx context.Context) (*Context, bool) {
	rc, ok := ctx.Value(relayContextKey).(*Context)
	return rc, ok
}
