package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type recordingMiddleware struct {
	name     string
	priority int
	before   func()
	activate func(ctx context.Context, cmd any, cctx *CommandContext) bool
	callNext bool
}

func (m *recordingMiddleware) Priority() int { return m.priority }
func (m *recordingMiddleware) Name() string  { return m.name }
func (m *recordingMiddleware) Execute(ctx context.Context, cmd any, cctx *CommandContext, next NextFunc) (any, error) {
	if m.before != nil {
		m.before()
	}
	if !m.callNext {
		return "short-circuited", nil
	}
	return next(ctx, cmd, cctx)
}
func (m *recordingMiddleware) ShouldActivate(ctx context.Context, cmd any, cctx *CommandContext) bool {
	if m.activate == nil {
		return true
	}
	return m.activate(ctx, cmd, cctx)
}

type doubleCallMiddleware struct{}

func (doubleCallMiddleware) Priority() int { return 0 }
func (doubleCallMiddleware) Name() string  { return "double-call" }
func (doubleCallMiddleware) Execute(ctx context.Context, cmd any, cctx *CommandContext, next NextFunc) (any, error) {
	if _, err := next(ctx, cmd, cctx); err != nil {
		return nil, err
	}
	return next(ctx, cmd, cctx)
}

func echoHandler() Handler {
	return HandlerFunc(func(ctx context.Context, cmd any, cctx *CommandContext) (any, error) {
		return cmd, nil
	})
}

func TestBuildChainOrderingRespectsPriority(t *testing.T) {
	var order []string
	mk := func(name string, prio int) Middleware {
		return &recordingMiddleware{name: name, priority: prio, callNext: true, before: func() { order = append(order, name) }}
	}

	mws := []Middleware{mk("b", 10), mk("a", 5), mk("c", 10)}
	// caller must pre-sort; chain.go trusts the order it is given.
	ordered := []Middleware{mws[1], mws[0], mws[2]}

	chain := buildChain(ordered, echoHandler(), chainOptions{logger: zerolog.Nop()})
	_, err := chain(context.Background(), "cmd", NewCommandContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := order; len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestBuildChainConditionalSkipIsTransparent(t *testing.T) {
	skip := &recordingMiddleware{
		name: "skip", priority: 0, callNext: true,
		activate: func(ctx context.Context, cmd any, cctx *CommandContext) bool { return false },
	}
	chain := buildChain([]Middleware{skip}, echoHandler(), chainOptions{logger: zerolog.Nop()})
	result, err := chain(context.Background(), "payload", NewCommandContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "payload" {
		t.Fatalf("expected transparent passthrough, got %v", result)
	}
}

func TestBuildChainShortCircuitNoNextNoWarning(t *testing.T) {
	m := &shortCircuitingMiddleware{name: "cache-hit", priority: 0}
	chain := buildChain([]Middleware{m}, echoHandler(), chainOptions{logger: zerolog.Nop()})
	result, err := chain(context.Background(), "cmd", NewCommandContext())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "short-circuited" {
		t.Fatalf("expected short-circuit result, got %v", result)
	}
}

type shortCircuitingMiddleware struct {
	name     string
	priority int
}

func (m *shortCircuitingMiddleware) Priority() int       { return m.priority }
func (m *shortCircuitingMiddleware) Name() string         { return m.name }
func (m *shortCircuitingMiddleware) ShortCircuits() bool { return true }
func (m *shortCircuitingMiddleware) Execute(ctx context.Context, cmd any, cctx *CommandContext, next NextFunc) (any, error) {
	return "short-circuited", nil
}

func TestBuildChainDoubleNextCallIsViolation(t *testing.T) {
	chain := buildChain([]Middleware{doubleCallMiddleware{}}, echoHandler(), chainOptions{logger: zerolog.Nop()})
	_, err := chain(context.Background(), "cmd", NewCommandContext())
	if err == nil {
		t.Fatal("expected an error from calling next twice")
	}
	var violation *MiddlewareViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected MiddlewareViolationError, got %T: %v", err, err)
	}
	if violation.Kind != ViolationNextCalledTwice {
		t.Fatalf("unexpected violation kind: %s", violation.Kind)
	}
}

func TestBuildChainUnsafeBypassesGuard(t *testing.T) {
	m := &unsafeMiddleware{}
	chain := buildChain([]Middleware{m}, echoHandler(), chainOptions{logger: zerolog.Nop()})
	_, err := chain(context.Background(), "cmd", NewCommandContext())
	if err != nil {
		t.Fatalf("unsafe middleware calling next twice should not be guarded: %v", err)
	}
	if m.calls != 2 {
		t.Fatalf("expected 2 raw calls through, got %d", m.calls)
	}
}

type unsafeMiddleware struct{ calls int }

func (m *unsafeMiddleware) Priority() int { return 0 }
func (m *unsafeMiddleware) Name() string  { return "unsafe" }
func (m *unsafeMiddleware) Unsafe() bool  { return true }
func (m *unsafeMiddleware) Execute(ctx context.Context, cmd any, cctx *CommandContext, next NextFunc) (any, error) {
	if _, err := next(ctx, cmd, cctx); err != nil {
		return nil, err
	}
	m.calls++
	_, err := next(ctx, cmd, cctx)
	m.calls++
	return "done", err
}

func TestBuildChainCancellationBeforeEachLink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := &recordingMiddleware{name: "m", priority: 0, callNext: true}
	chain := buildChain([]Middleware{m}, echoHandler(), chainOptions{
		cancelEnabled: true,
		checker:       DefaultCancelChecker,
		logger:        zerolog.Nop(),
	})
	_, err := chain(ctx, "cmd", NewCommandContext())
	if !IsCancelled(err) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}
