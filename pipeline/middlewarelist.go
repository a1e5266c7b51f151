package pipeline

import "sort"

// middlewareEntry pairs a Middleware with its insertion index so that a
// stable sort by priority always breaks ties by insertion order, even
// after repeated add/remove/re-sort cycles.
type middlewareEntry struct {
	m     Middleware
	index int
}

// middlewareList is an ordered sequence of middleware with a bound on
// length (max_depth) and a priority-stable sort, cached until the next
// structural mutation rather than recomputed on every dispatch.
type middlewareList struct {
	entries []middlewareEntry
	nextIdx int
	maxDepth int
	sorted   bool
}

func newMiddlewareList(maxDepth int) *middlewareList {
	return &middlewareList{maxDepth: maxDepth, sorted: true}
}

// add appends m, failing MaxDepthExceededError if this would exceed
// maxDepth. The list is left unchanged on failure.
func (l *middlewareList) add(m Middleware) error {
	if l.maxDepth > 0 && len(l.entries) >= l.maxDepth {
		return &MaxDepthExceededError{Len: len(l.entries) + 1, Max: l.maxDepth}
	}
	l.entries = append(l.entries, middlewareEntry{m: m, index: l.nextIdx})
	l.nextIdx++
	l.sorted = false
	return nil
}

// addAll appends a batch atomically: if the total would exceed maxDepth,
// nothing is appended.
func (l *middlewareList) addAll(ms []Middleware) error {
	if l.maxDepth > 0 && len(l.entries)+len(ms) > l.maxDepth {
		return &MaxDepthExceededError{Len: len(l.entries) + len(ms), Max: l.maxDepth}
	}
	for _, m := range ms {
		l.entries = append(l.entries, middlewareEntry{m: m, index: l.nextIdx})
		l.nextIdx++
	}
	l.sorted = false
	return nil
}

// remove drops every middleware whose Name matches typeName, preserving
// the relative order of what remains, and returns the count removed.
func (l *middlewareList) remove(typeName string) int {
	kept := l.entries[:0:0]
	removed := 0
	for _, e := range l.entries {
		if e.m.Name() == typeName {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	return removed
}

// clear empties the list but preserves the insertion-index counter, so a
// later add continues the monotonic sequence rather than re-using indices.
func (l *middlewareList) clear() {
	l.entries = nil
	l.sorted = true
}

// ordered returns the priority-sorted (ties by insertion index) middleware,
// sorting once and caching until the next structural mutation.
func (l *middlewareList) ordered() []Middleware {
	if !l.sorted {
		sort.SliceStable(l.entries, func(i, j int) bool {
			pi, pj := l.entries[i].m.Priority(), l.entries[j].m.Priority()
			if pi != pj {
				return pi < pj
			}
			return l.entries[i].index < l.entries[j].index
		})
		l.sorted = true
	}
	out := make([]Middleware, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.m
	}
	return out
}

func (l *middlewareList) count() int {
	return len(l.entries)
}

func (l *middlewareList) has(typeName string) bool {
	for _, e := range l.entries {
		if e.m.Name() == typeName {
			return true
		}
	}
	return false
}

func (l *middlewareList) types() []string {
	names := make([]string, len(l.entries))
	for i, e := range l.entries {
		names[i] = e.m.Name()
	}
	return names
}
