package relay

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// runner drives one iteration of the poll loop: fetch an invocation,
// decode/invoke/encode it through the handler, and report the outcome,
// recovering from a handler panic along the way.
type runner struct {
	client   *runtimeClient
	handler  Handler
	logger   *zap.Logger
	hooks    ExtensionHooks
	traceEnv bool
}

func newRunner(client *runtimeClient, handler Handler, logger *zap.Logger, hooks ExtensionHooks, traceEnv bool) *runner {
	if hooks == nil {
		hooks = noopHooks{}
	}
	return &runner{client: client, handler: handler, logger: logger, hooks: hooks, traceEnv: traceEnv}
}

// bootstrap runs the handler's Bootstrap hook, if any, before the first
// invocation is served, on a worker goroutine when the handler's Offload
// capability is set. A failure here is reported to /init/error and is
// always terminal: there is no invocation in flight to attribute it to.
func (r *runner) bootstrap(ctx context.Context, env ExecutionEnvironment) error {
	boot, ok := r.handler.(Bootstrapper)
	if !ok {
		return nil
	}

	var err error
	if r.handler.Offload() {
		done := make(chan error, 1)
		go func() { done <- boot.Bootstrap(ctx, env) }()
		err = <-done
	} else {
		err = boot.Bootstrap(ctx, env)
	}
	if err != nil {
		bootErr := newBootstrapError(err)
		if postErr := r.client.reportBootstrapError(newInvocationErrorReport(bootErr)); postErr != nil {
			r.logger.Error("failed to report bootstrap error", zap.Error(postErr))
		}
		return bootErr
	}
	return nil
}

// step runs one fetch/invoke/report cycle. iteration is this lifecycle's
// 1-based count of invocations served, attached to the per-invocation
// logger. The returned error is non-nil only when the failure is
// Terminal (transport-level) and the lifecycle must stop; per-invocation
// failures (decode, encode, handler, panic) are reported to the control
// plane and step returns nil so the loop continues.
func (r *runner) step(ctx context.Context, iteration int) error {
	inv, err := r.client.next()
	if err != nil {
		return err
	}

	if r.traceEnv {
		// The X-Ray SDK reads this process-wide env var rather than
		// accepting a trace ID as a parameter, so propagating it is an
		// opt-in side effect rather than part of Context.
		os.Setenv("_X_AMZN_TRACE_ID", inv.TraceID)
	}

	invCtx, cancel := context.WithDeadline(ctx, inv.DeadlineWallClock)
	defer cancel()

	rc := newContext(inv, r.logger, iteration)
	invCtx = NewContext(invCtx, rc)

	result, handlerErr := r.invoke(invCtx, rc, inv.Payload)

	var reportErr error
	if handlerErr != nil {
		rc.Logger.Warn("invocation failed", zap.Error(handlerErr))
		reportErr = r.client.reportInvocationError(inv.RequestID, newInvocationErrorReport(handlerErr))
	} else {
		rc.Logger.Debug("invocation completed")
		reportErr = r.client.reportResponse(inv.RequestID, result)
	}
	if reportErr != nil {
		return reportErr
	}

	r.hooks.OnInvoke(invCtx, rc)
	return nil
}

// invoke runs the handler according to its Offload capability: offloaded
// handlers run on a separate goroutine so a handler that ignores ctx and
// blocks past its deadline cannot stall the poll loop; non-offloaded
// handlers run directly on the calling goroutine.
func (r *runner) invoke(ctx context.Context, rc *Context, payload []byte) ([]byte, error) {
	if !r.handler.Offload() {
		return r.invokeInline(ctx, rc, payload)
	}
	return r.invokeOffloaded(ctx, rc, payload)
}

// invokeInline calls the handler on the current goroutine, recovering a
// panic into a *panicError rather than letting it cross back into the
// poll loop.
func (r *runner) invokeInline(ctx context.Context, rc *Context, payload []byte) (result []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			rc.Logger.Error("recovered panic in handler", zap.Any("panic", p))
			err = &panicError{report: newPanicReport(p)}
		}
	}()

	return r.handler.Handle(ctx, rc, payload)
}

type handlerResult struct {
	body []byte
	err  error
}

// invokeOffloaded dispatches the handler body to a worker goroutine and
// waits for either it to finish or ctx's deadline to pass. On deadline,
// step returns a handlerError immediately and the worker is abandoned to
// finish (or never finish) on its own — the poll loop proceeds to the
// next invocation rather than waiting out a handler that ignores ctx.
func (r *runner) invokeOffloaded(ctx context.Context, rc *Context, payload []byte) ([]byte, error) {
	done := make(chan handlerResult, 1)

	go func() {
		body, err := r.invokeInline(ctx, rc, payload)
		done <- handlerResult{body: body, err: err}
	}()

	select {
	case res := <-done:
		return res.body, res.err
	case <-ctx.Done():
		rc.Logger.Warn("handler did not return before the invocation deadline", zap.Error(ctx.Err()))
		return nil, newHandlerError(errors.Wrap(ctx.Err(), "handler did not return before the invocation deadline"))
	}
}

// panicError carries a pre-built ErrorReport (with captured stack trace)
// through the ordinary error path so a recovered panic and a handler's
// returned error converge on one reporting codepath in
// newInvocationErrorReport.
type panicError struct{ report *ErrorReport }

func (p *panicError) Error() string { return p.report.Message }

var _ error = (*panicError)(nil)
