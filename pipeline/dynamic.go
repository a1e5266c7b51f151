package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/AlfredDev/pipelinecore/admission"
	"github.com/AlfredDev/pipelinecore/retry"
)

// commandTypeName derives the routing key DynamicPipeline uses to resolve
// a handler for a type-erased command.
func commandTypeName(cmd any) string {
	return TypeName(cmd)
}

// DynamicPipeline routes each command to a handler resolved at runtime from
// a type→handler registry, sharing one priority-ordered middleware chain
// across every command type, and optionally retries a failed dispatch.
type DynamicPipeline struct {
	mu          sync.RWMutex
	handlers    map[string]Handler
	middlewares *middlewareList
	checker     CancelChecker
	cancelOn    bool
	logger      zerolog.Logger
	sem         *admission.Semaphore
	retryPolicy *retry.Policy

	chainMu    sync.Mutex
	chainCache NextFunc
	chainBuilt bool
}

// DynamicOption configures a DynamicPipeline at construction time.
type DynamicOption func(*DynamicPipeline)

// WithDynamicMaxDepth bounds the number of middlewares the pipeline will
// accept.
func WithDynamicMaxDepth(max int) DynamicOption {
	return func(p *DynamicPipeline) { p.middlewares = newMiddlewareList(max) }
}

// WithDynamicAdmission attaches a concurrency admission gate.
func WithDynamicAdmission(sem *admission.Semaphore) DynamicOption {
	return func(p *DynamicPipeline) { p.sem = sem }
}

// WithDynamicCancelChecker overrides the default cancellation checker.
func WithDynamicCancelChecker(checker CancelChecker) DynamicOption {
	return func(p *DynamicPipeline) { p.checker = checker; p.cancelOn = true }
}

// WithDynamicLogger overrides the NextGuard diagnostic logger.
func WithDynamicLogger(logger zerolog.Logger) DynamicOption {
	return func(p *DynamicPipeline) { p.logger = logger }
}

// WithRetry attaches a retry policy applied around each dispatch. A nil
// policy (the default) disables retry entirely.
func WithRetry(policy retry.Policy) DynamicOption {
	return func(p *DynamicPipeline) { p.retryPolicy = &policy }
}

// NewDynamicPipeline builds an empty DynamicPipeline.
func NewDynamicPipeline(opts ...DynamicOption) *DynamicPipeline {
	p := &DynamicPipeline{
		handlers: make(map[string]Handler),
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

// Register binds handler to typeName, overwriting any existing binding.
func (p *DynamicPipeline) Register(typeName string, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[typeName] = handler
}

// RegisterOnce binds handler to typeName, failing with
// PipelineNotConfiguredError if a handler is already bound there.
func (p *DynamicPipeline) RegisterOnce(typeName string, handler Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.handlers[typeName]; exists {
		return &PipelineNotConfiguredError{Reason: fmt.Sprintf("handler already registered for %q", typeName)}
	}
	p.handlers[typeName] = handler
	return nil
}

// Replace binds handler to typeName, returning whether a prior binding was
// overwritten.
func (p *DynamicPipeline) Replace(typeName string, handler Handler) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, existed := p.handlers[typeName]
	p.handlers[typeName] = handler
	return existed
}

// Unregister removes the handler bound to typeName, if any, and reports
// whether one was removed.
func (p *DynamicPipeline) Unregister(typeName string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, existed := p.handlers[typeName]
	delete(p.handlers, typeName)
	return existed
}

// HasHandler reports whether a handler is bound to typeName.
func (p *DynamicPipeline) HasHandler(typeName string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.handlers[typeName]
	return ok
}

// RegisteredCommandTypes lists every type name with a bound handler, in no
// particular order.
func (p *DynamicPipeline) RegisteredCommandTypes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.handlers))
	for t := range p.handlers {
		out = append(out, t)
	}
	return out
}

// AddMiddleware appends m to the shared chain.
func (p *DynamicPipeline) AddMiddleware(m Middleware) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.middlewares.add(m); err != nil {
		return err
	}
	p.invalidateChainLocked()
	return nil
}

// AddMiddlewares appends ms atomically.
func (p *DynamicPipeline) AddMiddlewares(ms ...Middleware) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.middlewares.addAll(ms); err != nil {
		return err
	}
	p.invalidateChainLocked()
	return nil
}

// RemoveMiddleware drops every middleware named typeName.
func (p *DynamicPipeline) RemoveMiddleware(typeName string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.middlewares.remove(typeName)
	if n > 0 {
		p.invalidateChainLocked()
	}
	return n
}

// ClearMiddlewares removes every middleware.
func (p *DynamicPipeline) ClearMiddlewares() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.middlewares.clear()
	p.invalidateChainLocked()
}

func (p *DynamicPipeline) invalidateChainLocked() {
	p.chainMu.Lock()
	p.chainBuilt = false
	p.chainCache = nil
	p.chainMu.Unlock()
}

// resolvingHandler is the terminal link of the shared chain: it looks up
// the command's registered handler at dispatch time, so the chain itself
// can be cached independent of which handler ultimately runs.
func (p *DynamicPipeline) resolvingHandler() Handler {
	return HandlerFunc(func(ctx context.Context, cmd any, cctx *CommandContext) (any, error) {
		typeName := commandTypeName(cmd)
		p.mu.RLock()
		h, ok := p.handlers[typeName]
		p.mu.RUnlock()
		if !ok {
			return nil, &HandlerNotFoundError{TypeName: typeName}
		}
		return h.Handle(ctx, cmd, cctx)
	})
}

func (p *DynamicPipeline) builtChain() NextFunc {
	p.chainMu.Lock()
	defer p.chainMu.Unlock()
	if p.chainBuilt {
		return p.chainCache
	}
	p.mu.RLock()
	ordered := p.middlewares.ordered()
	p.mu.RUnlock()
	chain := buildChain(ordered, p.resolvingHandler(), chainOptions{
		cancelEnabled: p.cancelOn,
		checker:       p.checker,
		logger:        p.logger,
	})
	p.chainCache = chain
	p.chainBuilt = true
	return chain
}

// Send is an alias for Execute, named to match common command-bus
// vocabulary.
func (p *DynamicPipeline) Send(ctx context.Context, cmd any, cctx *CommandContext) (any, error) {
	return p.Execute(ctx, cmd, cctx)
}

// Execute resolves cmd's handler at dispatch time and runs it through the
// shared middleware chain, retrying per the configured RetryPolicy if one
// is set. Cancellation observed before dispatch, mid-chain, or while
// backing off between attempts aborts immediately and is never retried.
func (p *DynamicPipeline) Execute(ctx context.Context, cmd any, cctx *CommandContext) (any, error) {
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

	cctx.RequestID()
	cctx.StartTime()

	chain := p.builtChain()

	if p.retryPolicy == nil {
		return chain(ctx, cmd, cctx)
	}

	controller := retry.NewController(*p.retryPolicy)
	result, err := controller.Run(ctx, func(ctx context.Context, attempt int) (any, error) {
		return chain(ctx, cmd, cctx)
	})
	if err != nil {
		if exhausted, ok := err.(*retry.ExhaustedError); ok {
			return nil, &RetryExhaustedError{Attempts: exhausted.Attempts, Last: exhausted.Last}
		}
		return nil, err
	}
	return result, nil
}
