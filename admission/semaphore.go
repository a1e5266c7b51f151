// Package admission implements concurrency admission control: a counted
// semaphore with configurable back-pressure behaviour for callers that
// arrive once the limit is saturated.
package admission

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Strategy selects what happens to an admission request that arrives while
// the semaphore is at capacity.
type Strategy int

const (
	// StrategySuspend blocks the caller until a slot frees or its context
	// is cancelled. This is the default.
	StrategySuspend Strategy = iota
	// StrategyDropOldest evicts the longest-waiting queued request (not
	// one already admitted) to make room for the new arrival.
	StrategyDropOldest
	// StrategyDropNewest rejects the new arrival outright, leaving the
	// existing queue untouched.
	StrategyDropNewest
	// StrategyReject fails immediately whenever the semaphore is
	// saturated, never queuing at all.
	StrategyReject
)

// Config configures a Semaphore.
type Config struct {
	// MaxOutstanding is the concurrency limit. Zero means unlimited.
	MaxOutstanding int
	// MaxQueueMemory bounds the sum of MemEstimate across queued (not yet
	// admitted) waiters. Zero means unbounded.
	MaxQueueMemory int64
	// Strategy selects back-pressure behaviour once MaxOutstanding is
	// reached.
	Strategy Strategy
}

// Token represents one admitted slot. Release must be called exactly once
// to hand the slot back; it is idempotent and safe to call from a defer
// alongside an explicit call.
type Token struct {
	sem      *Semaphore
	released int32
}

// Release returns the slot to the semaphore. Safe to call more than once;
// only the first call has effect.
func (t *Token) Release() {
	if !atomic.CompareAndSwapInt32(&t.released, 0, 1) {
		return
	}
	t.sem.release()
}

type waiter struct {
	ticket    uint64
	memEst    int64
	ready     chan struct{}
	evicted   int32
	delivered int32
}

// Semaphore is a counted, queue-backed admission gate. All methods are
// safe for concurrent use.
type Semaphore struct {
	mu             sync.Mutex
	limit          int
	outstanding    int
	queueMem       int64
	maxQueueMem    int64
	strategy       Strategy
	queue          []*waiter
	nextTicket     uint64
	queueRejects   int64
	queueEvictions int64
}

// New creates a Semaphore from cfg.
func New(cfg Config) *Semaphore {
	return &Semaphore{
		limit:       cfg.MaxOutstanding,
		maxQueueMem: cfg.MaxQueueMemory,
		strategy:    cfg.Strategy,
	}
}

// RejectedError is returned by Acquire/AcquireWithTimeout when the request is
// turned away immediately under StrategyReject or StrategyDropNewest, or
// evicted from the queue under StrategyDropOldest.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "admission: rejected: " + e.Reason }

// QueueMemoryExceededError is returned when admitting would push cumulative
// queued memory past MaxQueueMemory.
type QueueMemoryExceededError struct {
	Requested int64
	Used      int64
	Max       int64
}

func (e *QueueMemoryExceededError) Error() string {
	return "admission: queue memory limit exceeded"
}

// Acquire blocks (per Strategy) until a slot is available or ctx is
// cancelled, then returns a Token. memEstimate is an optional cost hint
// used against MaxQueueMemory; pass 0 if unused.
func (s *Semaphore) Acquire(ctx context.Context, memEstimate int64) (*Token, error) {
	return s.acquire(ctx, memEstimate, nil)
}

// AcquireWithTimeout is Acquire bounded by an additional timeout, using a
// uniquely-ticketed waiter so that a timed-out or cancelled caller removes
// exactly its own queue entry regardless of how many other waiters are
// ahead of or behind it.
func (s *Semaphore) AcquireWithTimeout(ctx context.Context, timeout time.Duration, memEstimate int64) (*Token, error) {
	if timeout <= 0 {
		return s.Acquire(ctx, memEstimate)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	return s.acquire(ctx, memEstimate, timer.C)
}

func (s *Semaphore) acquire(ctx context.Context, memEstimate int64, timeout <-chan time.Time) (*Token, error) {
	if s.limit <= 0 {
		return &Token{sem: s}, nil
	}

	s.mu.Lock()
	if s.outstanding < s.limit {
		s.outstanding++
		s.mu.Unlock()
		return &Token{sem: s}, nil
	}

	switch s.strategy {
	case StrategyReject:
		s.mu.Unlock()
		return nil, &RejectedError{Reason: "semaphore saturated"}
	case StrategyDropNewest:
		s.mu.Unlock()
		return nil, &RejectedError{Reason: "semaphore saturated, drop-newest"}
	case StrategyDropOldest:
		if s.maxQueueMem > 0 && s.queueMem+memEstimate > s.maxQueueMem {
			s.mu.Unlock()
			return nil, &QueueMemoryExceededError{Requested: memEstimate, Used: s.queueMem, Max: s.maxQueueMem}
		}
		var evictedWaiter *waiter
		if len(s.queue) > 0 {
			evictedWaiter = s.queue[0]
			s.queue = s.queue[1:]
			s.queueMem -= evictedWaiter.memEst
		}
		w := s.enqueueLocked(memEstimate)
		s.mu.Unlock()
		if evictedWaiter != nil && atomic.CompareAndSwapInt32(&evictedWaiter.evicted, 0, 1) {
			close(evictedWaiter.ready)
		}
		return s.waitFor(ctx, w, timeout)
	default: // StrategySuspend
		if s.maxQueueMem > 0 && s.queueMem+memEstimate > s.maxQueueMem {
			s.mu.Unlock()
			return nil, &QueueMemoryExceededError{Requested: memEstimate, Used: s.queueMem, Max: s.maxQueueMem}
		}
		w := s.enqueueLocked(memEstimate)
		s.mu.Unlock()
		return s.waitFor(ctx, w, timeout)
	}
}

func (s *Semaphore) enqueueLocked(memEstimate int64) *waiter {
	s.nextTicket++
	w := &waiter{ticket: s.nextTicket, memEst: memEstimate, ready: make(chan struct{})}
	s.queue = append(s.queue, w)
	s.queueMem += memEstimate
	return w
}

func (s *Semaphore) waitFor(ctx context.Context, w *waiter, timeout <-chan time.Time) (*Token, error) {
	select {
	case <-w.ready:
		if atomic.LoadInt32(&w.delivered) == 1 {
			return &Token{sem: s}, nil
		}
		return nil, &RejectedError{Reason: "evicted from queue, drop-oldest"}
	case <-ctx.Done():
		s.removeWaiter(w)
		return nil, ctx.Err()
	case <-timeout:
		s.removeWaiter(w)
		return nil, &TimeoutError{}
	}
}

// removeWaiter drops w from the queue by ticket identity, regardless of its
// current position, and is a no-op if w was already handed a slot or
// already evicted by the time the caller gives up.
func (s *Semaphore) removeWaiter(w *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !atomic.CompareAndSwapInt32(&w.evicted, 0, 1) {
		return
	}
	for i, q := range s.queue {
		if q.ticket == w.ticket {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.queueMem -= w.memEst
			return
		}
	}
}

// release hands the slot back, admitting the next queued waiter (lowest
// ticket, i.e. FIFO) if one exists.
func (s *Semaphore) release() {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.outstanding--
		s.mu.Unlock()
		return
	}
	next := s.queue[0]
	s.queue = s.queue[1:]
	s.queueMem -= next.memEst
	s.mu.Unlock()

	atomic.StoreInt32(&next.delivered, 1)
	if atomic.CompareAndSwapInt32(&next.evicted, 0, 1) {
		close(next.ready)
	}
}

// TimeoutError is returned by AcquireWithTimeout when the timeout elapses
// before a slot becomes available.
type TimeoutError struct{}

func (e *TimeoutError) Error() string { return "admission: acquire timed out" }

// Outstanding reports the current number of admitted (not yet released)
// tokens.
func (s *Semaphore) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outstanding
}

// QueueDepth reports the number of callers currently queued under
// StrategySuspend or StrategyDropOldest.
func (s *Semaphore) QueueDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
