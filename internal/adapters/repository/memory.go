package repository

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/recon/internal/domain/model"
	"github.com/okian/recon/pkg/metrics"
)

// In-memory Store implementation.
//
// Records live in a map keyed by id. Each owner additionally keeps its record
// ids ordered by (start, id) so window lookups and scans are binary searches.
// Write transactions hold the exclusive lock and keep an undo log that is
// replayed in reverse on rollback.

const driverMemory = "memory"

// MemoryStore is a transactional, in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	seq     model.RecordID
	byID    map[model.RecordID]model.ActivityRecord
	byOwner map[model.OwnerID][]model.RecordID
	owners  []model.OwnerID // sorted

	now                   func() time.Time
	metricsUpdateInterval time.Duration

	closed   atomic.Bool
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore constructs an empty store. The background metrics updater
// runs until ctx is done or Close is called.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	s := &MemoryStore{
		byID:                  make(map[model.RecordID]model.ActivityRecord),
		byOwner:               make(map[model.OwnerID][]model.RecordID),
		now:                   time.Now,
		metricsUpdateInterval: 5 * time.Second,
		stopChan:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startMetricsUpdater(ctx)
	return s
}

// Close stops the metrics updater. Later calls fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	s.closed.Store(true)
	return nil
}

// Get implements Reader.
func (s *MemoryStore) Get(ctx context.Context, id model.RecordID) (model.ActivityRecord, error) {
	defer observe("get", time.Now())
	if err := s.usable(ctx); err != nil {
		return model.ActivityRecord{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memView{s: s}.Get(ctx, id)
}

// ListOriginals implements Reader.
func (s *MemoryStore) ListOriginals(ctx context.Context, owner model.OwnerID, from, to time.Time) ([]model.ActivityRecord, error) {
	defer observe("list_originals", time.Now())
	if err := s.usable(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memView{s: s}.ListOriginals(ctx, owner, from, to)
}

// ScanOriginals implements Reader.
func (s *MemoryStore) ScanOriginals(ctx context.Context, after *Cursor, limit int) ([]model.ActivityRecord, *Cursor, error) {
	defer observe("scan_originals", time.Now())
	if err := s.usable(ctx); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memView{s: s}.ScanOriginals(ctx, after, limit)
}

// Count implements Reader.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	if err := s.usable(ctx); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

// View runs fn under the read lock.
func (s *MemoryStore) View(ctx context.Context, fn func(Reader) error) error {
	defer observe("view", time.Now())
	if err := s.usable(ctx); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(memView{s: s})
}

// Update runs fn under the write lock and undoes its writes when fn fails or
// panics.
func (s *MemoryStore) Update(ctx context.Context, fn func(Writer) error) error {
	defer observe("update", time.Now())
	if err := s.usable(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	tx := &memTx{memView: memView{s: s}}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
		s.mu.Unlock()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *MemoryStore) usable(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// startMetricsUpdater publishes the record count at the configured interval.
func (s *MemoryStore) startMetricsUpdater(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.metricsUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.mu.RLock()
				n := len(s.byID)
				s.mu.RUnlock()
				metrics.UpdateStoreRecordsTotal(driverMemory, n)
			}
		}
	}()
}

func observe(op string, start time.Time) {
	metrics.RecordStoreOperation(driverMemory, op, float64(time.Since(start).Microseconds())/1000)
}

// memView reads the store state. The caller holds at least the read lock.
type memView struct {
	s *MemoryStore
}

func (v memView) Get(ctx context.Context, id model.RecordID) (model.ActivityRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.ActivityRecord{}, err
	}
	rec, ok := v.s.byID[id]
	if !ok {
		metrics.RecordErrorByComponent("repository", "not_found")
		return model.ActivityRecord{}, ErrNotFound
	}
	return rec.Clone(), nil
}

func (v memView) ListOriginals(ctx context.Context, owner model.OwnerID, from, to time.Time) ([]model.ActivityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids := v.s.byOwner[owner]
	i := sort.Search(len(ids), func(i int) bool {
		return !v.s.byID[ids[i]].Start.Before(from)
	})
	var out []model.ActivityRecord
	for ; i < len(ids); i++ {
		rec := v.s.byID[ids[i]]
		if rec.Start.After(to) {
			break
		}
		if !rec.Disposition.IsDuplicate() {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (v memView) ScanOriginals(ctx context.Context, after *Cursor, limit int) ([]model.ActivityRecord, *Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if limit < 1 {
		return nil, nil, ErrInvalidLimit
	}
	owners := v.s.owners
	oi := 0
	if after != nil {
		oi = sort.Search(len(owners), func(i int) bool { return owners[i] >= after.OwnerID })
	}

	out := make([]model.ActivityRecord, 0, limit)
	for ; oi < len(owners) && len(out) < limit; oi++ {
		ids := v.s.byOwner[owners[oi]]
		pos := 0
		if after != nil && owners[oi] == after.OwnerID {
			pos = sort.Search(len(ids), func(i int) bool { return after.After(v.s.byID[ids[i]]) })
		}
		for ; pos < len(ids) && len(out) < limit; pos++ {
			rec := v.s.byID[ids[pos]]
			if !rec.Disposition.IsDuplicate() {
				out = append(out, rec.Clone())
			}
		}
	}
	if len(out) < limit {
		return out, nil, nil
	}
	next := CursorOf(out[len(out)-1])
	return out, &next, nil
}

func (v memView) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(v.s.byID), nil
}

// memTx is a write transaction. The caller holds the write lock.
type memTx struct {
	memView
	undo []func()
}

func (tx *memTx) Insert(ctx context.Context, rec model.ActivityRecord) (model.ActivityRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.ActivityRecord{}, err
	}
	s := tx.s
	if canonical, ok := rec.Disposition.CanonicalID(); ok {
		target, found := s.byID[canonical]
		if !found || target.Disposition.IsDuplicate() || target.OwnerID != rec.OwnerID {
			return model.ActivityRecord{}, ErrConflict
		}
	}

	s.seq++
	rec = rec.Clone()
	rec.ID = s.seq
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	s.byID[rec.ID] = rec
	s.indexInsert(rec)

	id, owner := rec.ID, rec.OwnerID
	tx.undo = append(tx.undo, func() {
		s.indexRemove(owner, id)
		delete(s.byID, id)
		s.seq--
	})
	return rec.Clone(), nil
}

func (tx *memTx) MarkDuplicate(ctx context.Context, id, canonical model.RecordID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if id == canonical {
		return false, ErrConflict
	}
	s := tx.s
	rec, ok := s.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	target, ok := s.byID[canonical]
	if !ok {
		return false, ErrNotFound
	}
	if rec.OwnerID != target.OwnerID {
		return false, ErrConflict
	}
	if rec.Disposition.IsDuplicate() || target.Disposition.IsDuplicate() {
		return false, nil
	}

	tx.set(rec.ID, model.DuplicateOf(canonical))
	for _, child := range s.byOwner[rec.OwnerID] {
		if c, ok := s.byID[child].Disposition.CanonicalID(); ok && c == id {
			tx.set(child, model.DuplicateOf(canonical))
		}
	}
	return true, nil
}

// set changes the disposition of id and records the undo step.
func (tx *memTx) set(id model.RecordID, d model.Disposition) {
	s := tx.s
	prev := s.byID[id]
	next := prev
	next.Disposition = d
	s.byID[id] = next
	tx.undo = append(tx.undo, func() { s.byID[id] = prev })
}

func (tx *memTx) UpdateMergeable(ctx context.Context, rec model.ActivityRecord) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s := tx.s
	cur, ok := s.byID[rec.ID]
	if !ok {
		return false, ErrNotFound
	}
	if cur.Disposition.IsDuplicate() {
		return false, nil
	}

	prev := cur
	upd := rec.Clone()
	cur.End = upd.End
	cur.Duration = upd.Duration
	cur.Description = upd.Description
	cur.Reference = upd.Reference
	cur.Category = upd.Category
	cur.Fingerprint = upd.Fingerprint
	s.byID[rec.ID] = cur
	tx.undo = append(tx.undo, func() { s.byID[prev.ID] = prev })
	return true, nil
}

func (tx *memTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (s *MemoryStore) indexInsert(rec model.ActivityRecord) {
	ids, known := s.byOwner[rec.OwnerID]
	if !known {
		i := sort.Search(len(s.owners), func(i int) bool { return s.owners[i] >= rec.OwnerID })
		s.owners = append(s.owners, 0)
		copy(s.owners[i+1:], s.owners[i:])
		s.owners[i] = rec.OwnerID
	}
	pos := sort.Search(len(ids), func(i int) bool {
		other := s.byID[ids[i]]
		if !other.Start.Equal(rec.Start) {
			return other.Start.After(rec.Start)
		}
		return other.ID > rec.ID
	})
	ids = append(ids, 0)
	copy(ids[pos+1:], ids[pos:])
	ids[pos] = rec.ID
	s.byOwner[rec.OwnerID] = ids
}

func (s *MemoryStore) indexRemove(owner model.OwnerID, id model.RecordID) {
	ids := s.byOwner[owner]
	for i, other := range ids {
		if other == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) > 0 {
		s.byOwner[owner] = ids
		return
	}
	delete(s.byOwner, owner)
	i := sort.Search(len(s.owners), func(i int) bool { return s.owners[i] >= owner })
	if i < len(s.owners) && s.owners[i] == owner {
		s.owners = append(s.owners[:i], s.owners[i+1:]...)
	}
}
