package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TypedKey identifies a value of type T in a CommandContext. Two keys with
// the same name but different T are distinct slots — the type parameter is
// folded into the lookup key so collisions across types are impossible.
type TypedKey[T any] struct {
	name string
}

// NewTypedKey creates a typed key with the given diagnostic name.
func NewTypedKey[T any](name string) TypedKey[T] {
	return TypedKey[T]{name: name}
}

// slotKey is the map key for k: T's type name joined with k's name.
func (k TypedKey[T]) slotKey() string {
	return fmt.Sprintf("%T|%s", (*T)(nil), k.name)
}

type typedSlot struct {
	typeName string
	value    any
}

// CommandContext is a concurrent map from TypedKey[T] to T, plus a
// non-typed string metadata bag, a stable per-execution request id, and a
// start time populated on first use. Reads/writes are serialised behind a
// single mutex (single-writer-at-a-time; readers observe any committed
// value).
//
// A CommandContext's lifetime is one pipeline execution unless the caller
// explicitly reuses it; a context passed into a pipeline call is borrowed
// for the duration of that call and not retained past it.
type CommandContext struct {
	mu        sync.Mutex
	values    map[string]typedSlot
	metadata  map[string]string
	requestID string
	startTime time.Time
	cancelled bool
	cancelCtx string
}

// NewCommandContext creates an empty context. RequestID and StartTime are
// populated lazily on first access.
func NewCommandContext() *CommandContext {
	return &CommandContext{
		values:   make(map[string]typedSlot),
		metadata: make(map[string]string),
	}
}

// Get returns the value stored under key, if any.
func Get[T any](c *CommandContext, key TypedKey[T]) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	slot, ok := c.values[key.slotKey()]
	if !ok {
		return zero, false
	}
	v, ok := slot.value.(T)
	if !ok {
		return zero, false
	}
	return v, true
}

// Set stores value under key. Concurrent writes to different keys never
// interfere; last-writer-wins on the same key.
func Set[T any](c *CommandContext, key TypedKey[T], value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key.slotKey()] = typedSlot{typeName: key.name, value: value}
}

// Metadata returns the value of a metadata key and whether it was present.
func (c *CommandContext) Metadata(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.metadata[key]
	return v, ok
}

// SetMetadata sets a metadata key to value.
func (c *CommandContext) SetMetadata(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

// RequestID returns the context's request id, generating one via
// google/uuid and recording StartTime if this is the first access.
func (c *CommandContext) RequestID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureInitLocked()
	return c.requestID
}

// StartTime returns the time this context was first touched.
func (c *CommandContext) StartTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureInitLocked()
	return c.startTime
}

// ensureInitLocked populates RequestID/StartTime on first use. Caller must
// hold c.mu.
func (c *CommandContext) ensureInitLocked() {
	if c.requestID == "" {
		c.requestID = uuid.NewString()
	}
	if c.startTime.IsZero() {
		c.startTime = time.Now()
	}
}

// Cancel marks the context cancelled with a diagnostic reason. Subsequent
// CancelChecker calls against this context will observe it.
func (c *CommandContext) Cancel(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	c.cancelCtx = reason
}

// Cancelled reports whether Cancel was called, and the reason if so.
func (c *CommandContext) Cancelled() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled, c.cancelCtx
}

// ContextCancelChecker is a CancelChecker that additionally honours
// CommandContext.Cancel, independent of ctx.Err(). Use this when callers
// signal cancellation through the CommandContext rather than (or in
// addition to) a cancelled context.Context.
func ContextCancelChecker(ctx context.Context, cctx *CommandContext, checkpoint string) error {
	if cancelled, reason := cctx.Cancelled(); cancelled {
		if reason == "" {
			reason = checkpoint
		}
		return &CancelledError{Checkpoint: reason}
	}
	if err := ctx.Err(); err != nil {
		return &CancelledError{Checkpoint: checkpoint}
	}
	return nil
}
