// Package storetest holds the behavioural suite every repository.Store
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/okian/recon/internal/adapters/repository"
	"github.com/okian/recon/internal/domain/model"
)

// Opener returns an empty store. The suite closes it.
type Opener func(t *testing.T) repository.Store

var base = time.Date(2025, 6, 27, 9, 0, 0, 0, time.UTC)

func activity(owner model.OwnerID, offset time.Duration, fp, desc string) model.ActivityRecord {
	return model.ActivityRecord{
		OwnerID:     owner,
		Start:       base.Add(offset),
		Duration:    model.Hours(1),
		Description: desc,
		Source:      model.SourceManual,
		Fingerprint: fp,
	}
}

func insert(t *testing.T, s repository.Store, recs ...model.ActivityRecord) []model.ActivityRecord {
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
		t.Fatalf("insert: %v", err)
	}
	return out
}

func mark(t *testing.T, s repository.Store, id, canonical model.RecordID) (bool, error) {
	t.Helper()
	var ok bool
	err := s.Update(context.Background(), func(w repository.Writer) error {
		var err error
		ok, err = w.MarkDuplicate(context.Background(), id, canonical)
		return err
	})
	return ok, err
}

// Run executes the suite against stores produced by open.
func Run(t *testing.T, open Opener) {
	ctx := context.Background()

	fresh := func(t *testing.T) repository.Store {
		t.Helper()
		s := open(t)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	t.Run("InsertAndGet", func(t *testing.T) {
		s := fresh(t)
		recs := insert(t, s, activity(1, 0, "fp-a", "first"), activity(1, time.Hour, "fp-b", "second"))

		if recs[0].ID == 0 || recs[1].ID <= recs[0].ID {
			t.Fatalf("expected increasing ids, got %d and %d", recs[0].ID, recs[1].ID)
		}
		if recs[0].CreatedAt.IsZero() {
			t.Error("expected CreatedAt to be assigned")
		}

		got, err := s.Get(ctx, recs[1].ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Description != "second" || !got.Start.Equal(base.Add(time.Hour)) {
			t.Errorf("unexpected record %+v", got)
		}
		if got.Duration == nil || *got.Duration != 1 {
			t.Errorf("expected duration 1, got %v", got.Duration)
		}
		if got.Disposition.IsDuplicate() {
			t.Error("expected an original")
		}

		if _, err := s.Get(ctx, 9999); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		n, err := s.Count(ctx)
		if err != nil || n != 2 {
			t.Errorf("expected count 2, got %d (%v)", n, err)
		}
	})

	t.Run("ListOriginalsWindow", func(t *testing.T) {
		s := fresh(t)
		recs := insert(t, s,
			activity(1, 10*time.Minute, "a", "late"),
			activity(1, 0, "b", "at from"),
			activity(1, 5*time.Minute, "c", "at to"),
			activity(1, -time.Minute, "d", "before"),
			activity(2, time.Minute, "e", "other owner"),
			activity(1, 2*time.Minute, "f", "marked"),
		)
		if ok, err := mark(t, s, recs[5].ID, recs[1].ID); err != nil || !ok {
			t.Fatalf("mark failed: %v %v", ok, err)
		}

		got, err := s.ListOriginals(ctx, 1, base, base.Add(5*time.Minute))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 2 || got[0].ID != recs[1].ID || got[1].ID != recs[2].ID {
			t.Errorf("expected inclusive window [%d %d], got %+v", recs[1].ID, recs[2].ID, ids(got))
		}
	})

	t.Run("ScanOriginalsPaging", func(t *testing.T) {
		s := fresh(t)
		recs := insert(t, s,
			activity(2, 0, "a", ""),
			activity(1, time.Hour, "b", ""),
			activity(1, 0, "c", ""),
			activity(1, 0, "d", ""),
			activity(3, 0, "e", ""),
		)

		var all []model.ActivityRecord
		var cur *repository.Cursor
		for pages := 0; ; pages++ {
			if pages > 10 {
				t.Fatal("scan did not terminate")
			}
			page, next, err := s.ScanOriginals(ctx, cur, 2)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			all = append(all, page...)
			if next == nil {
				break
			}
			cur = next
		}

		want := []model.RecordID{recs[2].ID, recs[3].ID, recs[1].ID, recs[0].ID, recs[4].ID}
		if len(all) != len(want) {
			t.Fatalf("expected %d records, got %v", len(want), ids(all))
		}
		for i := range want {
			if all[i].ID != want[i] {
				t.Errorf("position %d: expected %d, got %d", i, want[i], all[i].ID)
			}
		}

		if _, _, err := s.ScanOriginals(ctx, nil, 0); !errors.Is(err, repository.ErrInvalidLimit) {
			t.Errorf("expected ErrInvalidLimit, got %v", err)
		}
	})

	t.Run("MarkDuplicateConditions", func(t *testing.T) {
		s := fresh(t)
		recs := insert(t, s,
			activity(1, 0, "a", ""),
			activity(1, 0, "a", ""),
			activity(1, 0, "a", ""),
		)
		a, b, c := recs[0].ID, recs[1].ID, recs[2].ID

		if ok, err := mark(t, s, b, a); err != nil || !ok {
			t.Fatalf("expected first mark to apply, got %v (%v)", ok, err)
		}
		if ok, err := mark(t, s, b, a); err != nil || ok {
			t.Errorf("expected repeated mark to be a no-op, got %v (%v)", ok, err)
		}
		if ok, err := mark(t, s, c, b); err != nil || ok {
			t.Errorf("expected mark onto a duplicate to be refused, got %v (%v)", ok, err)
		}
		if _, err := mark(t, s, 9999, a); !errors.Is(err, repository.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}

		got, err := s.Get(ctx, b)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if canonical, ok := got.Disposition.CanonicalID(); !ok || canonical != a {
			t.Errorf("expected %d to point at %d, got %+v", b, a, got.Disposition)
		}

		// Marking a canonical moves its duplicates along.
		if ok, err := mark(t, s, a, c); err != nil || !ok {
			t.Fatalf("expected mark of a canonical to apply, got %v (%v)", ok, err)
		}
		for _, id := range []model.RecordID{a, b} {
			got, err := s.Get(ctx, id)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if canonical, ok := got.Disposition.CanonicalID(); !ok || canonical != c {
				t.Errorf("expected %d to point at %d, got %+v", id, c, got.Disposition)
			}
		}
	})

	t.Run("MarkDuplicateAcrossOwners", func(t *testing.T) {
		s := fresh(t)
		recs := insert(t, s, activity(1, 0, "a", ""), activity(2, 0, "a", ""))
		if _, err := mark(t, s, recs[1].ID, recs[0].ID); !errors.Is(err, repository.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("InsertDuplicateRequiresOriginalCanonical", func(t *testing.T) {
		s := fresh(t)
		recs := insert(t, s, activity(1, 0, "a", ""), activity(1, 0, "a", ""))
		if ok, err := mark(t, s, recs[1].ID, recs[0].ID); err != nil || !ok {
			t.Fatalf("mark failed: %v %v", ok, err)
		}

		dup := activity(1, 0, "a", "")
		dup.Disposition = model.DuplicateOf(recs[1].ID)
		err := s.Update(ctx, func(w repository.Writer) error {
			_, err := w.Insert(ctx, dup)
			return err
		})
		if !errors.Is(err, repository.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}

		dup.Disposition = model.DuplicateOf(recs[0].ID)
		stored := insert(t, s, dup)
		if c, ok := stored[0].Disposition.CanonicalID(); !ok || c != recs[0].ID {
			t.Errorf("expected duplicate of %d, got %+v", recs[0].ID, stored[0].Disposition)
		}
	})

	t.Run("UpdateMergeable", func(t *testing.T) {
		s := fresh(t)
		recs := insert(t, s, activity(1, 0, "a", ""), activity(1, 0, "a", ""))

		upd := recs[0]
		upd.Description = "filled"
		upd.Reference = "INC-7"
		upd.Category = "support"
		upd.End = model.At(base.Add(time.Hour))
		upd.Fingerprint = "a2"
		upd.OwnerID = 42
		var ok bool
		err := s.Update(ctx, func(w repository.Writer) error {
			var err error
			ok, err = w.UpdateMergeable(ctx, upd)
			return err
		})
		if err != nil || !ok {
			t.Fatalf("expected update to apply, got %v (%v)", ok, err)
		}

		got, _ := s.Get(ctx, recs[0].ID)
		if got.Description != "filled" || got.Reference != "INC-7" || got.Category != "support" || got.Fingerprint != "a2" {
			t.Errorf("mergeable fields not updated: %+v", got)
		}
		if got.End == nil || !got.End.Equal(base.Add(time.Hour)) {
			t.Errorf("expected end to be set, got %v", got.End)
		}
		if got.OwnerID != 1 {
			t.Errorf("owner must not change, got %d", got.OwnerID)
		}

		if ok, err := mark(t, s, recs[1].ID, recs[0].ID); err != nil || !ok {
			t.Fatalf("mark failed: %v %v", ok, err)
		}
		dup := recs[1]
		dup.Description = "ignored"
		err = s.Update(ctx, func(w repository.Writer) error {
			var err error
			ok, err = w.UpdateMergeable(ctx, dup)
			return err
		})
		if err != nil || ok {
			t.Errorf("expected update of a duplicate to be refused, got %v (%v)", ok, err)
		}
	})

	t.Run("UpdateRollsBackOnError", func(t *testing.T) {
		s := fresh(t)
		recs := insert(t, s, activity(1, 0, "a", ""), activity(1, 0, "a", ""))
		boom := errors.New("boom")

		err := s.Update(ctx, func(w repository.Writer) error {
			if _, err := w.Insert(ctx, activity(1, time.Hour, "b", "")); err != nil {
				return err
			}
			if _, err := w.MarkDuplicate(ctx, recs[1].ID, recs[0].ID); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}

		if n, _ := s.Count(ctx); n != 2 {
			t.Errorf("expected rolled back insert, count %d", n)
		}
		got, _ := s.Get(ctx, recs[1].ID)
		if got.Disposition.IsDuplicate() {
			t.Error("expected rolled back mark")
		}
	})

	t.Run("ViewReads", func(t *testing.T) {
		s := fresh(t)
		recs := insert(t, s, activity(1, 0, "a", "x"))
		err := s.View(ctx, func(r repository.Reader) error {
			got, err := r.Get(ctx, recs[0].ID)
			if err != nil {
				return err
			}
			if got.Description != "x" {
				t.Errorf("unexpected record %+v", got)
			}
			list, err := r.ListOriginals(ctx, 1, base, base)
			if err != nil {
				return err
			}
			if len(list) != 1 {
				t.Errorf("expected one original, got %d", len(list))
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func ids(recs []model.ActivityRecord) []model.RecordID {
	out := make([]model.RecordID, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
