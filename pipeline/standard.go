package pipeline

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/pipelinecore/admission"
)

// StandardPipeline routes every command to one fixed terminal Handler
// through a shared, priority-ordered middleware chain. Use DynamicPipeline
// instead when handlers must be resolved per command type at runtime.
type StandardPipeline struct {
	mu           sync.RWMutex
	middlewares  *middlewareList
	interceptors []Interceptor
	handler      Handler
	sem          *admission.Semaphore
	checker      CancelChecker
	cancelOn     bool
	logger       zerolog.Logger

	chainMu    sync.Mutex
	chainCache NextFunc
	chainBuilt bool
}

// StandardOption configures a StandardPipeline at construction time.
type StandardOption func(*StandardPipeline)

// WithMaxDepth bounds the number of middlewares the pipeline will accept.
func WithMaxDepth(max int) StandardOption {
	return func(p *StandardPipeline) { p.middlewares = newMiddlewareList(max) }
}

// WithAdmission attaches a concurrency admission gate. Execute acquires a
// token before running the chain and releases it once Execute returns.
func WithAdmission(sem *admission.Semaphore) StandardOption {
	return func(p *StandardPipeline) { p.sem = sem }
}

// WithCancelChecker overrides the default cancellation checker.
func WithCancelChecker(checker CancelChecker) StandardOption {
	return func(p *StandardPipeline) { p.checker = checker; p.cancelOn = true }
}

// WithLogger overrides the NextGuard diagnostic logger.
func WithLogger(logger zerolog.Logger) StandardOption {
	return func(p *StandardPipeline) { p.logger = logger }
}

// NewStandardPipeline builds a StandardPipeline terminating in handler.
func NewStandardPipeline(handler Handler, opts ...StandardOption) *StandardPipeline {
	p := &StandardPipeline{
		handler:  handler,
		checker:  DefaultCancelChecker,
		cancelOn: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.middlewares == nil {
		p.middlewares = newMiddlewareList(0)
	}
	return p
}

// AddMiddleware appends m to the chain. Fails with MaxDepthExceededError if
// the configured max_depth would be exceeded.
func (p *StandardPipeline) AddMiddleware(m Middleware) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.middlewares.add(m); err != nil {
		return err
	}
	p.invalidateChainLocked()
	return nil
}

// AddMiddlewares appends ms atomically: either all are added, or none are.
func (p *StandardPipeline) AddMiddlewares(ms ...Middleware) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.middlewares.addAll(ms); err != nil {
		return err
	}
	p.invalidateChainLocked()
	return nil
}

// RemoveMiddleware drops every middleware named typeName and returns the
// count removed.
func (p *StandardPipeline) RemoveMiddleware(typeName string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.middlewares.remove(typeName)
	if n > 0 {
		p.invalidateChainLocked()
	}
	return n
}

// ClearMiddlewares removes every middleware.
func (p *StandardPipeline) ClearMiddlewares() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.middlewares.clear()
	p.invalidateChainLocked()
}

// AddInterceptor appends an interceptor, run in insertion order ahead of
// the middleware chain.
func (p *StandardPipeline) AddInterceptor(i Interceptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interceptors = append(p.interceptors, i)
}

// ClearInterceptors removes every interceptor.
func (p *StandardPipeline) ClearInterceptors() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.interceptors = nil
}

// InterceptorCount reports how many interceptors are registered.
func (p *StandardPipeline) InterceptorCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.interceptors)
}

// MiddlewareCount reports how many middlewares are registered.
func (p *StandardPipeline) MiddlewareCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.middlewares.count()
}

func (p *StandardPipeline) invalidateChainLocked() {
	p.chainMu.Lock()
	p.chainBuilt = false
	p.chainCache = nil
	p.chainMu.Unlock()
}

func (p *StandardPipeline) builtChain() NextFunc {
	p.chainMu.Lock()
	defer p.chainMu.Unlock()
	if p.chainBuilt {
		return p.chainCache
	}
	p.mu.RLock()
	ordered := p.middlewares.ordered()
	p.mu.RUnlock()
	chain := buildChain(ordered, p.handler, chainOptions{
		cancelEnabled: p.cancelOn,
		checker:       p.checker,
		logger:        p.logger,
	})
	p.chainCache = chain
	p.chainBuilt = true
	return chain
}

// Execute runs cmd through the interceptor chain, the priority-ordered
// middleware chain, and the terminal handler, following a mandatory
// execution path:
//  1. cancellation check at the "before_start" checkpoint;
//  2. optional admission token acquire, released via defer;
//  3. interceptors applied in insertion order;
//  4. request id / start time populated on the CommandContext;
//  5. the middleware chain (or the bare handler, if empty) invoked;
//  6. the result returned to the caller as-is (type-erased — callers that
//     need a concrete type assert it themselves).
func (p *StandardPipeline) Execute(ctx context.Context, cmd any, cctx *CommandContext) (any, error) {
	if cctx == nil {
		cctx = NewCommandContext()
	}

	if p.cancelOn {
		if err := p.checker(ctx, cctx, "before_start"); err != nil {
			return nil, err
		}
	}

	if p.sem != nil {
		token, err := p.sem.Acquire(ctx, 0)
		if err != nil {
			return nil, err
		}
		defer token.Release()
	}

	for _, ic := range p.snapshotInterceptors() {
		out, err := ic.Intercept(ctx, cmd, cctx)
		if err != nil {
			return nil, err
		}
		if out != nil {
			cmd = out
		}
	}

	cctx.RequestID()
	cctx.StartTime()

	chain := p.builtChain()
	return chain(ctx, cmd, cctx)
}

func (p *StandardPipeline) snapshotInterceptors() []Interceptor {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Interceptor, len(p.interceptors))
	copy(out, p.interceptors)
	return out
}
