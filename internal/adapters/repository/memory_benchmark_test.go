package repository_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/okian/recon/internal/adapters/repository"
	"github.com/okian/recon/internal/domain/model"
)

// populate inserts count records spread over owners and one working month.
func populate(b *testing.B, store *repository.MemoryStore, owners, count int) {
	b.Helper()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42)) //nolint:gosec // deterministic benchmark data
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	const batch = 1000
	for done := 0; done < count; done += batch {
		err := store.Update(ctx, func(w repository.Writer) error {
			for i := 0; i < batch && done+i < count; i++ {
				rec := model.ActivityRecord{
					OwnerID:     model.OwnerID(rng.Intn(owners) + 1),
					Start:       start.Add(time.Duration(rng.Intn(30*24*60)) * time.Minute),
					Duration:    model.Hours(float64(rng.Intn(16)) / 4),
					Description: fmt.Sprintf("task %d", rng.Intn(500)),
					Fingerprint: fmt.Sprintf("fp-%d", done+i),
				}
				if _, err := w.Insert(ctx, rec); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.Fatalf("populate: %v", err)
		}
	}
}

func BenchmarkMemoryStore_Insert(b *testing.B) {
	ctx := context.Background()
	store := repository.NewMemoryStore(ctx)
	defer store.Close()
	start := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rec := model.ActivityRecord{OwnerID: model.OwnerID(i%100 + 1), Start: start.Add(time.Duration(i) * time.Second)}
		_ = store.Update(ctx, func(w repository.Writer) error {
			_, err := w.Insert(ctx, rec)
			return err
		})
	}
}

func BenchmarkMemoryStore_ListOriginals(b *testing.B) {
	ctx := context.Background()
	store := repository.NewMemoryStore(ctx)
	defer store.Close()
	populate(b, store, 50, 100_000)
	from := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.ListOriginals(ctx, model.OwnerID(i%50+1), from, from.Add(10*time.Minute))
	}
}

func BenchmarkMemoryStore_ScanOriginals(b *testing.B) {
	ctx := context.Background()
	store := repository.NewMemoryStore(ctx)
	defer store.Close()
	populate(b, store, 50, 100_000)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var cur *repository.Cursor
		for {
			_, next, err := store.ScanOriginals(ctx, cur, 500)
			if err != nil {
				b.Fatal(err)
			}
			if next == nil {
				break
			}
			cur = next
		}
	}
}
