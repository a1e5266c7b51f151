package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// nextGuard wraps a NextFunc so it may be invoked at most once, per spec
// §4.1. A second invocation fails with MiddlewareViolationError
// (ViolationNextCalledTwice) instead of forwarding. If the guarded
// middleware returns without ever calling the wrapped function and is not
// annotated short-circuiting, finish logs a diagnostic warning unless
// suppressed.
type nextGuard struct {
	inner      NextFunc
	identifier string
	called     int32
	logger     zerolog.Logger
	suppress   bool
	shortCirc  bool
}

func newNextGuard(inner NextFunc, identifier string, logger zerolog.Logger, suppress, shortCirc bool) *nextGuard {
	return &nextGuard{
		inner:      inner,
		identifier: identifier,
		logger:     logger,
		suppress:   suppress,
		shortCirc:  shortCirc,
	}
}

// call is exposed to the wrapped middleware as its NextFunc.
func (g *nextGuard) call(ctx context.Context, cmd any, cctx *CommandContext) (any, error) {
	if !atomic.CompareAndSwapInt32(&g.called, 0, 1) {
		return nil, &MiddlewareViolationError{
			Kind:       ViolationNextCalledTwice,
			Identifier: g.identifier,
		}
	}
	return g.inner(ctx, cmd, cctx)
}

// finish is invoked by the chain builder after the middleware returns. It
// emits the diagnostic-only "next never called" warning when applicable.
func (g *nextGuard) finish(middlewareErr error) {
	if atomic.LoadInt32(&g.called) == 1 {
		return
	}
	if middlewareErr != nil {
		// An error already explains why next wasn't called.
		return
	}
	if g.shortCirc || g.suppress {
		return
	}
	g.logger.Warn().
		Str("middleware", g.identifier).
		Msg("middleware returned without invoking next()")
}

// wasCalled reports whether the guarded continuation was invoked.
func (g *nextGuard) wasCalled() bool {
	return atomic.LoadInt32(&g.called) == 1
}
