package relay

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// lifecycleState is the process-level state machine:
// idle -> initializing -> active -> stopping -> shutdown.
type lifecycleState int

const (
	lifecycleIdle lifecycleState = iota
	lifecycleInitializing
	lifecycleActive
	lifecycleStopping
	lifecycleShutdown
)

// lifecycle owns the process-wide run state: it runs bootstrap exactly
// once, drives the poll loop up to MaxInvocations iterations (0 means
// unbounded), and accepts a single cooperative stop request from the
// signal trap or a test harness. Its fields are guarded by mu so stop()
// may be called concurrently with run() from another goroutine.
type lifecycle struct {
	mu             sync.Mutex
	state          lifecycleState
	maxInvocations int
	served         int
	stopRequested  bool
	stopOnce       sync.Once

	client *runtimeClient
	logger *zap.Logger
	hooks  ExtensionHooks
}

func newLifecycle(client *runtimeClient, logger *zap.Logger, maxInvocations int) *lifecycle {
	return &lifecycle{
		state:          lifecycleIdle,
		maxInvocations: maxInvocations,
		client:         client,
		logger:         logger,
		hooks:          noopHooks{},
	}
}

// subscribe registers hooks to receive OnShutdown when this lifecycle
// enters its stopping->shutdown transition. It must be called before run.
func (l *lifecycle) subscribe(hooks ExtensionHooks) {
	l.mu.Lock()
	l.hooks = hooks
	l.mu.Unlock()
}

func (l *lifecycle) setState(s lifecycleState) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *lifecycle) isStopRequested() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopRequested
}

// stop requests a graceful shutdown. It is idempotent and safe to call
// from any goroutine, any number of times, before or after run exits; the
// first call interrupts a long-poll in flight so the loop does not wait
// out an indefinite next() before noticing.
func (l *lifecycle) stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.stopRequested = true
		l.mu.Unlock()
		l.client.interrupt()
	})
}

// run executes the full lifecycle: bootstrap, then the poll loop, until
// MaxInvocations is reached, stop is requested, or a transport-level
// error forces a terminating shutdown. It must be called at most once
// per lifecycle; a second call returns immediately with nil since the
// state machine has already left idle.
func (l *lifecycle) run(ctx context.Context, r *runner, env ExecutionEnvironment) error {
	l.mu.Lock()
	if l.state != lifecycleIdle {
		l.mu.Unlock()
		return nil
	}
	l.state = lifecycleInitializing
	l.mu.Unlock()

	if err := r.bootstrap(ctx, env); err != nil {
		l.setState(lifecycleShutdown)
		return err
	}

	l.setState(lifecycleActive)

	for {
		if l.isStopRequested() {
			return l.shutdown(nil)
		}

		if l.maxInvocations > 0 {
			l.mu.Lock()
			reached := l.served >= l.maxInvocations
			l.mu.Unlock()
			if reached {
				return l.shutdown(nil)
			}
		}

		l.mu.Lock()
		iteration := l.served + 1
		l.mu.Unlock()

		err := r.step(ctx, iteration)

		l.mu.Lock()
		l.served++
		l.mu.Unlock()

		if err != nil {
			if l.isStopRequested() {
				// The transport error is almost certainly our own
				// interrupt() tearing down a blocked long poll; a
				// requested stop always wins over reporting it as a
				// crash.
				return l.shutdown(nil)
			}

			l.logger.Error("transport error, ending lifecycle", zap.Error(err))
			return l.shutdown(err)
		}
	}
}

// shutdown transitions stopping->shutdown and fires OnShutdown exactly
// once, bounded by sigtermContextDeadline, then returns cause unchanged.
func (l *lifecycle) shutdown(cause error) error {
	l.setState(lifecycleStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), sigtermContextDeadline)
	defer cancel()
	l.hooks.OnShutdown(shutdownCtx)

	l.setState(lifecycleShutdown)
	return cause
}
