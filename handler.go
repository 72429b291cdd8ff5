package relay

import "context"

// Void marks a typed handler's output (or input) as having no body. A
// TypedHandlerFunc[In, Void] encodes to a nil buffer, which the Runner
// reports as an empty response body.
type Void struct{}

// ExecutionEnvironment is passed to a handler's optional Bootstrap hook.
// It is a distinct type (rather than passing Configuration directly) so
// bootstrap signatures stay stable if relay grows additional
// startup-time context later.
type ExecutionEnvironment struct {
	RuntimeEndpoint string
}

// Handler is relay's single internal contract. The three public surface
// shapes (raw bytes, typed callback through a codec, and the optional
// bootstrap hook) are reduced to this one shape via thin adapters — the
// poll loop only ever calls Handle and, once, Bootstrap.
type Handler interface {
	// Handle decodes rc's payload, runs the handler body and encodes the
	// result. A nil byte slice with a nil error means "no response body".
	Handle(ctx context.Context, rc *Context, payload []byte) ([]byte, error)
	// Offload reports whether Handle should run on the worker goroutine
	// rather than inline on the poll loop.
	Offload() bool
}

// Bootstrapper is implemented by handlers needing one-time construction
// before the first invocation. Its failure is reported to /init/error and
// the process exits non-zero.
type Bootstrapper interface {
	Bootstrap(ctx context.Context, env ExecutionEnvironment) error
}

// HandlerFunc adapts a raw bytes-in/bytes-out function to Handler.
type HandlerFunc func(ctx context.Context, rc *Context, payload []byte) ([]byte, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, rc *Context, payload []byte) ([]byte, error) {
	out, err := f(ctx, rc, payload)
	if err != nil {
		return nil, newHandlerError(err)
	}
	return out, nil
}

// Offload implements Handler; raw handlers default to running on the
// worker so a slow handler body cannot stall the next long-poll.
func (HandlerFunc) Offload() bool { return true }

// BootstrapFunc adapts a plain function to Bootstrapper.
type BootstrapFunc func(ctx context.Context, env ExecutionEnvironment) error

// Bootstrap implements Bootstrapper.
func (f BootstrapFunc) Bootstrap(ctx context.Context, env ExecutionEnvironment) error {
	return f(ctx, env)
}

type bootstrappedHandler struct {
	Handler
	boot Bootstrapper
}

// WithBootstrap pairs a Bootstrapper with a Handler, producing a Handler
// that also implements Bootstrapper so the Runner can invoke it once
// before serving invocations.
func WithBootstrap(h Handler, boot Bootstrapper) Handler {
	return &bootstrappedHandler{Handler: h, boot: boot}
}

func (b *bootstrappedHandler) Bootstrap(ctx context.Context, env ExecutionEnvironment) error {
	return b.boot.Bootstrap(ctx, env)
}

// TypedHandlerFunc is the function signature most relay programs
// implement: typed input, typed output, plain error return.
type TypedHandlerFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

type typedHandler[In, Out any] struct {
	fn    TypedHandlerFunc[In, Out]
	codec Codec[In, Out]
}

// NewTypedHandler builds a Handler from a typed callback and a codec,
// defaulting to JSONCodec when codec is nil. This is the offload=true
// adapter for the typed-callback shape.
func NewTypedHandler[In, Out any](fn TypedHandlerFunc[In, Out], codec Codec[In, Out]) Handler {
	if codec == nil {
		codec = JSONCodec[In, Out]()
	}
	return typedHandler[In, Out]{fn: fn, codec: codec}
}

func (h typedHandler[In, Out]) Handle(ctx context.Context, rc *Context, payload []byte) ([]byte, error) {
	in, err := decodePayload[In, Out](h.codec, payload)
	if err != nil {
		return nil, err
	}

	out, err := h.fn(ctx, in)
	if err != nil {
		return nil, newHandlerError(err)
	}

	return encodeResult[In, Out](h.codec, out)
}

func (typedHandler[In, Out]) Offload() bool { return true }
