// Package worker drains the submission queue into the dedupe engine.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/recon/internal/adapters/mq/queue"
	"github.com/okian/recon/internal/domain/model"
	"github.com/okian/recon/pkg/logger"
	"github.com/okian/recon/pkg/metrics"
)

const poolShutdownTimeout = 30 * time.Second

// Ingester applies one submission.
type Ingester interface {
	Ingest(ctx context.Context, rec model.ActivityRecord) (model.Verdict, model.ActivityRecord, error)
}

// Queue defines how workers receive items.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Item
}

// ResultFunc observes the outcome of every processed item.
type ResultFunc func(ctx context.Context, item queue.Item, v model.Verdict, stored model.ActivityRecord, err error)

// Worker processes queued submissions.
type Worker interface {
	// Run processes items until the queue is drained or ctx is done.
	Run(ctx context.Context)

	// Shutdown waits for Run to return.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue    Queue
	ingester Ingester
	onResult ResultFunc
	name     string
	done     chan struct{}
	logger   logger.Logger
}

// NewInMemoryWorker creates a worker reading from q.
func NewInMemoryWorker(q Queue, ingester Ingester, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    q,
		ingester: ingester,
		name:     "worker",
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logger.Get().Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	items := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-items:
			if !ok {
				return
			}
			w.process(ctx, item)
		}
	}
}

// Shutdown waits for the worker to finish its current item and exit. The
// caller stops intake by closing the queue or cancelling Run's context.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, item queue.Item) { //nolint:gocritic // Item arrives by value from the channel
	start := time.Now()
	defer func() {
		metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	v, stored, err := w.ingester.Ingest(ctx, item.Record)
	if err != nil {
		metrics.RecordWorkerError()
		metrics.RecordErrorByComponent("worker", "ingest_error")
		w.logger.Error(ctx, "ingest failed",
			logger.String("submission_id", item.SubmissionID),
			logger.String("origin", item.Origin),
			logger.Error(err),
		)
	} else {
		w.logger.Debug(ctx, "submission ingested",
			logger.String("submission_id", item.SubmissionID),
			logger.String("action", string(v.Action)),
			logger.Int64("id", int64(stored.ID)),
			logger.Duration("queued_for", start.Sub(item.EnqueuedAt)),
		)
	}
	if w.onResult != nil {
		w.onResult(ctx, item, v, stored, err)
	}
}

// Pool runs a fixed number of workers over one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	logger  logger.Logger
}

// NewPool creates a pool of workerCount workers. Counts below one mean one.
func NewPool(workerCount int, q Queue, ingester Ingester, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := range p.workers {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(q, ingester, wopts...)
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start launches every worker. It is a no-op after the first call.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *InMemoryWorker) {
			defer p.wg.Done()
			w.Run(runCtx)
		}(w)
	}
}

// Shutdown closes the queue and lets the workers drain it. When ctx (or the
// pool's own timeout) expires first, the remaining items are abandoned.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}
	if !p.started.Load() {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		p.logger.Warn(ctx, "worker pool drain timed out")
		err = fmt.Errorf("worker pool drain: %w", shutdownCtx.Err())
	}
	p.cancel()
	<-drained
	metrics.UpdateWorkerCount(0)
	return err
}
