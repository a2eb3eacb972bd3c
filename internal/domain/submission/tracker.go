// Package submission tracks client submission ids so a retried request or a
// redelivered message is ingested at most once per process.
package submission

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

// DefaultMaxSize bounds the number of ids remembered by default.
const DefaultMaxSize = 50000

// Tracker records seen submission ids.
type Tracker interface {
	// SeenAndRecord reports whether id was already recorded and records it
	// if not. Empty ids are never tracked.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a failed submission can be retried.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// memoryTracker keeps ids in insertion order. In bounded mode the oldest id is
// evicted first once maxSize is reached.
type memoryTracker struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	maxSize int
	size    atomic.Int64
}

// NewMemoryTracker returns an in-process Tracker. maxSize <= 0 disables
// eviction.
func NewMemoryTracker(opts ...Option) Tracker {
	t := &memoryTracker{maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(t)
	}
	t.seen = make(map[string]*list.Element)
	t.order = list.New()
	return t
}

func (t *memoryTracker) SeenAndRecord(_ context.Context, id string) bool {
	if id == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.seen[id]; ok {
		return true
	}
	if t.maxSize > 0 && len(t.seen) >= t.maxSize {
		t.evictOldest()
	}
	t.seen[id] = t.order.PushFront(id)
	t.size.Add(1)
	return false
}

func (t *memoryTracker) Unrecord(_ context.Context, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.seen[id]; ok {
		t.order.Remove(el)
		delete(t.seen, id)
		t.size.Add(-1)
	}
}

// evictOldest drops the least recently recorded id. Caller holds t.mu.
func (t *memoryTracker) evictOldest() {
	back := t.order.Back()
	if back == nil {
		return
	}
	t.order.Remove(back)
	delete(t.seen, back.Value.(string))
	t.size.Add(-1)
}

func (t *memoryTracker) Size() int64 {
	return t.size.Load()
}
