package dedupe_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/recon/internal/adapters/repository"
	"github.com/okian/recon/internal/domain/model"
)

var errUnreachable = errors.New("connection refused")

var base = time.Date(2025, 6, 27, 9, 0, 0, 0, time.UTC)

func activity(owner model.OwnerID, start time.Time, hours float64, desc string) model.ActivityRecord {
	return model.ActivityRecord{
		OwnerID:     owner,
		Start:       start,
		Duration:    model.Hours(hours),
		Description: desc,
		Source:      model.SourceManual,
	}
}

func newStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	s := repository.NewMemoryStore(context.Background())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seed stores recs as originals without consulting the engine, the way
// records imported by other paths reach the store.
func seed(t *testing.T, s repository.Store, recs ...model.ActivityRecord) []model.ActivityRecord {
	t.Helper()
	out := make([]model.ActivityRecord, 0, len(recs))
	err := s.Update(context.Background(), func(w repository.Writer) error {
		for _, r := range recs {
			stored, err := w.Insert(context.Background(), r)
			if err != nil {
				return err
			}
			out = append(out, stored)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return out
}

// messyDataset returns, for each of three owners, four events recorded three
// times each (original, exact re-entry, reworded copy a minute later with a
// ticket reference) plus one unrelated activity. That is 12 clusters with
// one exact and one fuzzy member each.
func messyDataset() []model.ActivityRecord {
	var out []model.ActivityRecord
	for owner := model.OwnerID(1); owner <= 3; owner++ {
		for k := 0; k < 4; k++ {
			start := base.Add(time.Duration(k) * 3 * time.Hour)
			desc := fmt.Sprintf("Ticket %d fix bug", int(owner)*10+k)

			reworded := activity(owner, start.Add(time.Minute), 2, strings.Replace(desc, "Ticket ", "Ticket #", 1))
			reworded.Reference = fmt.Sprintf("INC-%d", int(owner)*10+k)
			reworded.Source = model.SourceRemoteSession

			out = append(out,
				activity(owner, start, 2, desc),
				activity(owner, start.Add(20*time.Second), 2, "  "+strings.ToUpper(desc)+" "),
				reworded,
			)
		}
		out = append(out, activity(owner, base.Add(23*time.Hour), 1, "Unrelated standup"))
	}
	return out
}

func duplicates(t *testing.T, s repository.Store) map[model.RecordID]model.RecordID {
	t.Helper()
	out := make(map[model.RecordID]model.RecordID)
	n, err := s.Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	for id := model.RecordID(1); id <= model.RecordID(n); id++ {
		rec, err := s.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get %d: %v", id, err)
		}
		if c, ok := rec.Disposition.CanonicalID(); ok {
			out[id] = c
		}
	}
	return out
}

// faultyStore decorates a store with injected failures.
type faultyStore struct {
	repository.Store

	down       atomic.Bool
	failMarkOn map[model.RecordID]error
	panicOn    map[model.RecordID]bool
	onUpdate   func(n int64)
	updates    atomic.Int64
}

func newFaultyStore(s repository.Store) *faultyStore {
	return &faultyStore{
		Store:      s,
		failMarkOn: make(map[model.RecordID]error),
		panicOn:    make(map[model.RecordID]bool),
	}
}

func (f *faultyStore) View(ctx context.Context, fn func(repository.Reader) error) error {
	if f.down.Load() {
		return errUnreachable
	}
	return f.Store.View(ctx, fn)
}

func (f *faultyStore) Update(ctx context.Context, fn func(repository.Writer) error) error {
	if f.down.Load() {
		return errUnreachable
	}
	err := f.Store.Update(ctx, func(w repository.Writer) error {
		return fn(faultyWriter{Writer: w, f: f})
	})
	n := f.updates.Add(1)
	if f.onUpdate != nil {
		f.onUpdate(n)
	}
	return err
}

type faultyWriter struct {
	repository.Writer
	f *faultyStore
}

func (w faultyWriter) MarkDuplicate(ctx context.Context, id, canonical model.RecordID) (bool, error) {
	if w.f.panicOn[id] {
		panic(fmt.Sprintf("corrupt row %d", id))
	}
	if err, ok := w.f.failMarkOn[id]; ok {
		return false, err
	}
	return w.Writer.MarkDuplicate(ctx, id, canonical)
}
