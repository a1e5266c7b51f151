package pipeline

import (
	"context"

	"github.com/rs/zerolog"
)

// chainOptions configures chain construction.
type chainOptions struct {
	cancelEnabled bool
	checker       CancelChecker
	logger        zerolog.Logger
}

// buildChain composes an ordered (already priority-sorted) middleware
// sequence and a terminal handler into one callable.
//
// For each middleware, in reverse order, the builder:
//  1. wraps the current continuation in a fresh NextGuard tagged with the
//     middleware's name, unless the middleware declares itself Unsafe;
//  2. checks cancellation before invoking the middleware, when enabled;
//  3. short-circuits transparently to the next link when the middleware is
//     Conditional and declines to activate.
func buildChain(mws []Middleware, handler Handler, opts chainOptions) NextFunc {
	next := func(ctx context.Context, cmd any, cctx *CommandContext) (any, error) {
		return handler.Handle(ctx, cmd, cctx)
	}

	for i := len(mws) - 1; i >= 0; i-- {
		m := mws[i]
		prevNext := next
		unsafe := isUnsafe(m)
		cond, isConditional := m.(Conditional)
		suppress := isSuppressed(m)
		shortCirc := isShortCircuiter(m)
		name := m.Name()

		if unsafe {
			// Raw continuation is handed through with no NextGuard
			// interposed.
			next = func(ctx context.Context, cmd any, cctx *CommandContext) (any, error) {
				if opts.cancelEnabled {
					if err := opts.checker(ctx, cctx, name); err != nil {
						return nil, err
					}
				}
				if isConditional && !cond.ShouldActivate(ctx, cmd, cctx) {
					return prevNext(ctx, cmd, cctx)
				}
				return m.Execute(ctx, cmd, cctx, prevNext)
			}
			continue
		}

		next = func(ctx context.Context, cmd any, cctx *CommandContext) (any, error) {
			if opts.cancelEnabled {
				if err := opts.checker(ctx, cctx, name); err != nil {
					return nil, err
				}
			}
			if isConditional && !cond.ShouldActivate(ctx, cmd, cctx) {
				return prevNext(ctx, cmd, cctx)
			}

			guard := newNextGuard(prevNext, name, opts.logger, suppress, shortCirc)
			result, err := m.Execute(ctx, cmd, cctx, guard.call)
			guard.finish(err)
			if err != nil {
				if _, ok := err.(*MiddlewareViolationError); ok {
					return nil, err
				}
				return nil, &MiddlewareError{Name: name, Message: err.Error(), Cause: err}
			}
			return result, nil
		}
	}

	return next
}

func isUnsafe(m Middleware) bool {
	if u, ok := m.(Unsafe); ok {
		return u.Unsafe()
	}
	return false
}

func isSuppressed(m Middleware) bool {
	if s, ok := m.(SuppressDropWarning); ok {
		return s.SuppressDropWarning()
	}
	return false
}

func isShortCircuiter(m Middleware) bool {
	if s, ok := m.(ShortCircuiter); ok {
		return s.ShortCircuits()
	}
	return false
}
