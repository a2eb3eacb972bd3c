package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/recon/internal/adapters/repository"
	service "github.com/okian/recon/internal/app"
	"github.com/okian/recon/internal/domain/dedupe"
	"github.com/okian/recon/internal/domain/model"
	"github.com/okian/recon/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

var base = time.Date(2025, 6, 27, 9, 0, 0, 0, time.UTC)

func activity(owner model.OwnerID, start time.Time, desc string) model.ActivityRecord {
	return model.ActivityRecord{
		OwnerID:     owner,
		Start:       start,
		Duration:    model.Hours(1),
		Description: desc,
		Source:      model.SourceManual,
	}
}

// gatedStore holds every write transaction until the gate is opened.
type gatedStore struct {
	*repository.MemoryStore
	gate chan struct{}
}

func (g *gatedStore) Update(ctx context.Context, fn func(repository.Writer) error) error {
	select {
	case <-g.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.MemoryStore.Update(ctx, fn)
}

func newService(t *testing.T, store repository.Store, opts ...service.Option) *service.Service {
	t.Helper()
	engine, err := dedupe.New(store)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return service.New(store, engine, opts...)
}

func memoryStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	s := repository.NewMemoryStore(context.Background())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a new service", t, func() {
		ctx := context.Background()
		svc := newService(t, memoryStore(t))

		Convey("Submissions are refused before Start", func() {
			err := svc.Submit(ctx, "", activity(1, base, "standup"))
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.GetStats(ctx).Started, ShouldBeFalse)
		})

		Convey("Start and Stop toggle the started flag", func() {
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)
			So(svc.GetStats(ctx).Started, ShouldBeTrue)
			So(svc.GetStats(ctx).WorkerCount, ShouldEqual, 1)

			So(svc.Stop(ctx), ShouldBeNil)
			So(svc.GetStats(ctx).Started, ShouldBeFalse)
			So(svc.Stop(ctx), ShouldBeNil)
		})
	})
}

func TestService_Submit(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store := memoryStore(t)
		svc := newService(t, store)
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When submitting an original, its exact re-entry and an unrelated record", func() {
			So(svc.Submit(ctx, "a", activity(1, base, "Ticket 123 fix bug")), ShouldBeNil)
			So(svc.Submit(ctx, "b", activity(1, base.Add(15*time.Second), "ticket 123  FIX bug")), ShouldBeNil)
			So(svc.Submit(ctx, "", activity(1, base.Add(3*time.Hour), "quarterly tax filing")), ShouldBeNil)
			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then every record is stored and the re-entry is marked", func() {
				stats := svc.GetStats(ctx)
				So(stats.TotalRecords, ShouldEqual, 3)
				So(stats.Engine.DuplicatesDetected, ShouldEqual, 1)
				So(stats.Engine.DuplicatesMarked, ShouldEqual, 1)
				So(stats.Engine.UniqueInserted, ShouldEqual, 2)
				So(stats.TrackedSubmissions, ShouldEqual, 2)

				second, err := svc.Get(ctx, 2)
				So(err, ShouldBeNil)
				id, ok := second.Disposition.CanonicalID()
				So(ok, ShouldBeTrue)
				So(id, ShouldEqual, model.RecordID(1))
			})
		})

		Convey("When a submission id is replayed", func() {
			So(svc.Submit(ctx, "same", activity(1, base, "standup")), ShouldBeNil)
			err := svc.Submit(ctx, "same", activity(1, base, "standup"))

			Convey("Then the replay is refused", func() {
				So(errors.Is(err, service.ErrDuplicateSubmission), ShouldBeTrue)
			})

			Convey("And the stream handler acknowledges it instead", func() {
				So(svc.StreamHandler().Submit(ctx, "same", activity(1, base, "standup")), ShouldBeNil)
			})
			So(svc.Stop(ctx), ShouldBeNil)
		})

		Convey("When ingestion of a submission fails", func() {
			So(svc.Submit(ctx, "bad", model.ActivityRecord{Start: base}), ShouldBeNil)

			Convey("Then its id is released for a retry", func() {
				So(waitFor(func() bool { return svc.GetStats(ctx).TrackedSubmissions == 0 }), ShouldBeTrue)
			})
			So(svc.Stop(ctx), ShouldBeNil)
		})

		Convey("Unknown ids are not found", func() {
			_, err := svc.Get(ctx, 99)
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
			So(svc.Stop(ctx), ShouldBeNil)
		})
	})
}

func TestService_Backpressure(t *testing.T) {
	Convey("Given a service whose writes are held back", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		store := &gatedStore{MemoryStore: memoryStore(t), gate: make(chan struct{})}
		svc := newService(t, store, service.WithQueueSize(1))
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When submissions outpace ingestion", func() {
			var refused string
			for i := 0; i < 10 && refused == ""; i++ {
				id := fmt.Sprintf("s-%d", i)
				err := svc.Submit(ctx, id, activity(1, base.Add(time.Duration(i)*time.Hour), id))
				if errors.Is(err, service.ErrBackpressure) {
					refused = id
				}
			}

			Convey("Then the queue pushes back and forgets the refused id", func() {
				So(refused, ShouldNotBeEmpty)
				err := svc.Submit(ctx, refused, activity(1, base, refused))
				So(errors.Is(err, service.ErrDuplicateSubmission), ShouldBeFalse)
			})
		})

		close(store.gate)
		So(svc.Stop(ctx), ShouldBeNil)
	})
}

func TestService_Reconciliation(t *testing.T) {
	Convey("Given a store seeded with duplicates behind the engine's back", t, func() {
		ctx := context.Background()
		store := memoryStore(t)
		err := store.Update(ctx, func(w repository.Writer) error {
			for i := 0; i < 3; i++ {
				rec := activity(1, base.Add(time.Duration(i)*time.Hour), fmt.Sprintf("review %d", i))
				for copies := 0; copies < 2; copies++ {
					if _, err := w.Insert(ctx, rec); err != nil {
						return err
					}
				}
			}
			return nil
		})
		So(err, ShouldBeNil)
		svc := newService(t, store, service.WithMaxCleanupLimit(2))

		Convey("Analyze reports every cluster", func() {
			a, err := svc.Analyze(ctx)
			So(err, ShouldBeNil)
			So(a.Clusters, ShouldHaveLength, 3)
			So(a.ExactDuplicates, ShouldEqual, 3)
		})

		Convey("Cleanup is capped by the configured maximum", func() {
			res, err := svc.Cleanup(ctx, false, 100)
			So(err, ShouldBeNil)
			So(res.Analyzed, ShouldEqual, 2)
			So(res.MarkedAsDuplicates, ShouldEqual, 2)
			So(res.Remaining, ShouldEqual, 1)

			res, err = svc.Cleanup(ctx, false, 0)
			So(err, ShouldBeNil)
			So(res.MarkedAsDuplicates, ShouldEqual, 1)
		})

		Convey("Evaluate and IngestNow decide synchronously", func() {
			v, err := svc.Evaluate(ctx, activity(1, base, "review 0"))
			So(err, ShouldBeNil)
			So(v.Classification, ShouldEqual, model.ExactDuplicate)

			v, stored, err := svc.IngestNow(ctx, activity(2, base, "review 0"))
			So(err, ShouldBeNil)
			So(v.Classification, ShouldEqual, model.Unique)
			So(stored.ID, ShouldEqual, model.RecordID(7))
		})
	})
}
