package worker_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/okian/recon/internal/adapters/mq/queue"
	"github.com/okian/recon/internal/adapters/mq/worker"
	"github.com/okian/recon/internal/domain/model"
	logging "github.com/okian/recon/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func TestMain(m *testing.M) {
	_ = logging.InitWithWriter(io.Discard)
	goleak.VerifyTestMain(m)
}

type mockIngester struct {
	mu     sync.Mutex
	seen   []string
	fail   map[string]error
	delay  time.Duration
	nextID model.RecordID
}

func newMockIngester() *mockIngester {
	return &mockIngester{fail: make(map[string]error)}
}

func (m *mockIngester) Ingest(ctx context.Context, rec model.ActivityRecord) (model.Verdict, model.ActivityRecord, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return model.Verdict{}, model.ActivityRecord{}, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.fail[rec.Description]; ok {
		return model.Verdict{}, model.ActivityRecord{}, err
	}
	m.seen = append(m.seen, rec.Description)
	m.nextID++
	rec.ID = m.nextID
	return model.Verdict{Action: model.ActionInsert, Classification: model.Unique}, rec, nil
}

func (m *mockIngester) processed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.seen...)
}

func item(desc string) queue.Item {
	return queue.Item{
		SubmissionID: "sub-" + desc,
		Origin:       "test",
		Record: model.ActivityRecord{
			OwnerID:     1,
			Start:       time.Date(2025, 6, 27, 9, 0, 0, 0, time.UTC),
			Description: desc,
		},
	}
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker over a queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		ing := newMockIngester()

		var (
			mu      sync.Mutex
			results = map[string]error{}
		)
		w := worker.NewInMemoryWorker(q, ing, worker.WithName("test-worker"), worker.WithResultFunc(
			func(_ context.Context, it queue.Item, _ model.Verdict, _ model.ActivityRecord, err error) {
				mu.Lock()
				defer mu.Unlock()
				results[it.SubmissionID] = err
			}))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When items are queued and the queue is closed", func() {
			ing.fail["bad"] = errors.New("store down")
			for _, d := range []string{"a", "bad", "b"} {
				convey.So(q.Enqueue(ctx, item(d)), convey.ShouldBeNil)
			}
			convey.So(q.Close(), convey.ShouldBeNil)

			shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
			defer stop()
			convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)

			convey.Convey("Then every item is processed in order and failures reported", func() {
				convey.So(ing.processed(), convey.ShouldResemble, []string{"a", "b"})
				mu.Lock()
				defer mu.Unlock()
				convey.So(results["sub-a"], convey.ShouldBeNil)
				convey.So(results["sub-bad"], convey.ShouldNotBeNil)
				convey.So(len(results), convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When the context is cancelled", func() {
			cancel()

			shutdownCtx, stop := context.WithTimeout(context.Background(), time.Second)
			defer stop()
			convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
		})
	})
}

func TestWorkerShutdownTimeout(t *testing.T) {
	convey.Convey("Given a worker that never finishes", t, func() {
		q := queue.NewInMemoryQueue()
		w := worker.NewInMemoryWorker(q, newMockIngester())

		ctx, cancel := context.WithCancel(context.Background())
		go w.Run(ctx)

		shutdownCtx, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer stop()
		err := w.Shutdown(shutdownCtx)

		convey.So(err, convey.ShouldNotBeNil)
		convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)

		cancel()
		convey.So(w.Shutdown(context.Background()), convey.ShouldBeNil)
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a pool of workers", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(1000))
		ing := newMockIngester()

		convey.Convey("When it drains a full queue on shutdown", func() {
			pool := worker.NewPool(4, q, ing)
			pool.Start(context.Background())
			pool.Start(context.Background())

			for i := 0; i < 200; i++ {
				convey.So(q.Enqueue(context.Background(), item(fmt.Sprintf("rec-%d", i))), convey.ShouldBeNil)
			}
			convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)

			convey.Convey("Then every item was ingested exactly once", func() {
				got := ing.processed()
				convey.So(len(got), convey.ShouldEqual, 200)
				distinct := map[string]bool{}
				for _, d := range got {
					distinct[d] = true
				}
				convey.So(len(distinct), convey.ShouldEqual, 200)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the drain outlives the shutdown deadline", func() {
			ing.delay = time.Second
			pool := worker.NewPool(1, q, ing)
			pool.Start(context.Background())
			for i := 0; i < 5; i++ {
				convey.So(q.Enqueue(context.Background(), item(fmt.Sprintf("slow-%d", i))), convey.ShouldBeNil)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			err := pool.Shutdown(ctx)

			convey.Convey("Then the pool stops anyway and reports the timeout", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(len(ing.processed()), convey.ShouldBeLessThan, 5)
			})
		})

		convey.Convey("When a pool is shut down before it starts", func() {
			pool := worker.NewPool(0, q, ing)
			convey.So(pool.Shutdown(context.Background()), convey.ShouldBeNil)
		})
	})
}
