package submission_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/recon/internal/domain/submission"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMemoryTracker(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new memory tracker", t, func() {
		tr := submission.NewMemoryTracker()
		So(tr.Size(), ShouldEqual, 0)

		Convey("A new id is recorded once", func() {
			So(tr.SeenAndRecord(ctx, "sub-1"), ShouldBeFalse)
			So(tr.SeenAndRecord(ctx, "sub-1"), ShouldBeTrue)
			So(tr.Size(), ShouldEqual, 1)
		})

		Convey("Empty ids are never tracked", func() {
			So(tr.SeenAndRecord(ctx, ""), ShouldBeFalse)
			So(tr.SeenAndRecord(ctx, ""), ShouldBeFalse)
			So(tr.Size(), ShouldEqual, 0)
		})

		Convey("Unrecord allows a retry", func() {
			tr.SeenAndRecord(ctx, "sub-1")
			tr.Unrecord(ctx, "sub-1")
			So(tr.Size(), ShouldEqual, 0)
			So(tr.SeenAndRecord(ctx, "sub-1"), ShouldBeFalse)
		})

		Convey("Unrecording an unknown id is a no-op", func() {
			tr.Unrecord(ctx, "missing")
			So(tr.Size(), ShouldEqual, 0)
		})
	})

	Convey("Given a tracker bounded to three ids", t, func() {
		tr := submission.NewMemoryTracker(submission.WithMaxSize(3))
		for _, id := range []string{"a", "b", "c"} {
			So(tr.SeenAndRecord(ctx, id), ShouldBeFalse)
		}

		Convey("When a fourth id arrives", func() {
			So(tr.SeenAndRecord(ctx, "d"), ShouldBeFalse)

			Convey("Then the oldest id is forgotten and the rest remain", func() {
				So(tr.Size(), ShouldEqual, 3)
				So(tr.SeenAndRecord(ctx, "c"), ShouldBeTrue)
				So(tr.SeenAndRecord(ctx, "d"), ShouldBeTrue)
				So(tr.SeenAndRecord(ctx, "a"), ShouldBeFalse)
				So(tr.Size(), ShouldEqual, 3)
			})
		})

		Convey("Unrecording from the middle keeps eviction order intact", func() {
			tr.Unrecord(ctx, "b")
			So(tr.SeenAndRecord(ctx, "d"), ShouldBeFalse)
			So(tr.SeenAndRecord(ctx, "e"), ShouldBeFalse)
			So(tr.Size(), ShouldEqual, 3)
			So(tr.SeenAndRecord(ctx, "c"), ShouldBeTrue)
		})
	})

	Convey("Given an unbounded tracker", t, func() {
		tr := submission.NewMemoryTracker(submission.WithMaxSize(-1))
		const n = 1000
		for i := 0; i < n; i++ {
			So(tr.SeenAndRecord(ctx, fmt.Sprintf("sub-%d", i)), ShouldBeFalse)
		}
		So(tr.Size(), ShouldEqual, int64(n))
		So(tr.SeenAndRecord(ctx, "sub-0"), ShouldBeTrue)
	})
}

func TestMemoryTrackerConcurrency(t *testing.T) {
	Convey("Given concurrent submitters", t, func() {
		tr := submission.NewMemoryTracker(submission.WithMaxSize(1000))
		const goroutines, perGoroutine = 10, 100

		var wg sync.WaitGroup
		for g := 0; g < goroutines; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for j := 0; j < perGoroutine; j++ {
					tr.SeenAndRecord(context.Background(), fmt.Sprintf("sub-%d-%d", g, j))
				}
			}(g)
		}
		wg.Wait()

		So(tr.Size(), ShouldEqual, int64(goroutines*perGoroutine))

		Convey("Concurrent unrecords drain the tracker", func() {
			for g := 0; g < goroutines; g++ {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					for j := 0; j < perGoroutine; j++ {
						tr.Unrecord(context.Background(), fmt.Sprintf("sub-%d-%d", g, j))
					}
				}(g)
			}
			wg.Wait()
			So(tr.Size(), ShouldEqual, 0)
		})
	})
}
