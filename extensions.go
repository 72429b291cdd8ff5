package relay

import (
	"context"
	"time"
)

// sigtermContextDeadline bounds how long OnShutdown may run once the
// lifecycle enters stopping. A Lambda container gets only a short grace
// period between SIGTERM and SIGKILL, so a shutdown hook is given a
// deliberately short, fixed budget rather than whatever remains of the
// last invocation's deadline (kept from the original InternalExtension's
// shutdown handling).
const sigtermContextDeadline = 2 * time.Second

// ExtensionHooks lets an embedding program observe invocation completion
// and process shutdown. This replaces the Extensions API's
// own register/event-next round trip with a synchronous in-process call:
// OnInvoke fires once per completed Runner iteration, after the response
// or error has already been reported to the control plane, rather than
// racing it from a second goroutine polling /extension/event/next.
// OnShutdown fires once, during the lifecycle's stopping->shutdown
// transition, with a context bounded by sigtermContextDeadline.
type ExtensionHooks interface {
	OnInvoke(ctx context.Context, rc *Context)
	OnShutdown(ctx context.Context)
}

// noopHooks is installed when a program does not subscribe any hooks, so
// runner and lifecycle never have to nil-check.
type noopHooks struct{}

func (noopHooks) OnInvoke(context.Context, *Context) {}
func (noopHooks) OnShutdown(context.Context)          {}
