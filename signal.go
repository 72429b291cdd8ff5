package relay

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// signalTrap watches for a single configured OS signal and forwards it to
// a lifecycle's stop() exactly once, then stops listening. It is a
// distinct, stoppable type (rather than a package-level signal.Notify)
// so tests can run several lifecycles in one process without interfering
// with each other's signal handling.
type signalTrap struct {
	ch     chan os.Signal
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

// newSignalTrap starts listening for sig immediately. Call cancel (the
// returned function) to stop listening without having fired, e.g. when a
// lifecycle ends on its own (MaxInvocations reached) before any signal
// arrives.
func newSignalTrap(sig syscall.Signal, l *lifecycle, logger *zap.Logger) (cancel func()) {
	t := &signalTrap{
		ch:     make(chan os.Signal, 1),
		done:   make(chan struct{}),
		logger: logger,
	}

	signal.Notify(t.ch, sig)

	go func() {
		select {
		case s := <-t.ch:
			t.logger.Info("received stop signal", zap.String("signal", s.String()))
			l.stop()
		case <-t.done:
		}
	}()

	return func() {
		t.once.Do(func() { close(t.done) })
		signal.Stop(t.ch)
	}
}
