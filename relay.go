package relay

import (
	"context"
	"syscall"

	"go.uber.org/zap"
)

// options holds the effect of every Option applied to a Run call.
type options struct {
	config   *Configuration
	logger   *zap.Logger
	hooks    ExtensionHooks
	traceEnv bool
}

// Option configures a Run (or Start) call. The zero value of every option
// is "use the default".
type Option func(*options)

// WithConfig overrides the Configuration that would otherwise be parsed
// from the environment by NewConfig. Primarily for tests that need
// several independent runtimeClients pointed at different httptest
// servers in one process.
func WithConfig(cfg *Configuration) Option {
	return func(o *options) { o.config = cfg }
}

// WithLogger overrides the *zap.Logger that would otherwise be built from
// Configuration.LogLevel.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithExtensionHooks subscribes hooks to per-invocation and shutdown
// notifications.
func WithExtensionHooks(hooks ExtensionHooks) Option {
	return func(o *options) { o.hooks = hooks }
}

// WithTraceEnv opts into setting the _X_AMZN_TRACE_ID environment
// variable before each invocation, for compatibility with X-Ray SDKs
// that read it rather than accepting a trace ID as a parameter. Off by
// default because mutating process environment as a side effect of
// polling is surprising unless asked for.
func WithTraceEnv(enabled bool) Option {
	return func(o *options) { o.traceEnv = enabled }
}

// Run serves invocations with handler until the lifecycle ends: either
// Configuration.MaxInvocations is reached, the configured stop signal is
// received, or a transport-level error forces a shutdown (in which case
// Run returns that error). It blocks for the life of the process and is
// meant to be the last call in a program's main function.
func Run(handler Handler, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg := o.config
	if cfg == nil {
		var err error
		cfg, err = NewConfig()
		if err != nil {
			return err
		}
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = newLogger(cfg)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
	}

	client := newRuntimeClient(cfg, logger)
	lc := newLifecycle(client, logger, cfg.MaxInvocations)
	if o.hooks != nil {
		lc.subscribe(o.hooks)
	}

	r := newRunner(client, handler, logger, o.hooks, o.traceEnv)

	cancelTrap := newSignalTrap(syscall.Signal(cfg.StopSignal), lc, logger)
	defer cancelTrap()

	env := ExecutionEnvironment{RuntimeEndpoint: cfg.RuntimeEndpoint}
	return lc.run(context.Background(), r, env)
}

// Start is the typed convenience entry point: fn is wrapped in a Handler
// using JSONCodec, then run exactly as Run would. Most relay programs
// call this rather than building a Handler by hand.
func Start[In, Out any](fn TypedHandlerFunc[In, Out], opts ...Option) error {
	return Run(NewTypedHandler(fn, nil), opts...)
}

// StartWithCodec is Start with an explicit, non-default Codec — for
// handlers that exchange something other than JSON.
func StartWithCodec[In, Out any](fn TypedHandlerFunc[In, Out], codec Codec[In, Out], opts ...Option) error {
	return Run(NewTypedHandler(fn, codec), opts...)
}
