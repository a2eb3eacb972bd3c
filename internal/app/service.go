// Package service wires the deduplication engine to its intake surfaces:
// the asynchronous queue and worker pool used by HTTP and Kafka, and the
// synchronous calls used by the API and CLI.
package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	eventqueue "github.com/okian/recon/internal/adapters/mq/queue"
	workerpool "github.com/okian/recon/internal/adapters/mq/worker"
	"github.com/okian/recon/internal/adapters/repository"
	"github.com/okian/recon/internal/domain/dedupe"
	"github.com/okian/recon/internal/domain/model"
	"github.com/okian/recon/internal/domain/submission"
	"github.com/okian/recon/pkg/errkind"
	"github.com/okian/recon/pkg/logger"
	"github.com/okian/recon/pkg/metrics"
)

const (
	defaultWorkerCount     = 1
	defaultQueueSize       = 10000
	defaultTrackerSize     = 100000
	defaultMaxCleanupLimit = 10000
)

// Stats is a point-in-time view of the service.
type Stats struct {
	Started            bool         `json:"started"`
	WorkerCount        int          `json:"worker_count"`
	QueueCapacity      int          `json:"queue_capacity"`
	QueueLength        int          `json:"queue_length"`
	Pending            int64        `json:"pending"`
	TrackedSubmissions int64        `json:"tracked_submissions"`
	TotalRecords       int          `json:"total_records"`
	Engine             dedupe.Stats `json:"engine"`
}

// Service implements the dependencies of the HTTP API, the Kafka consumer
// and the CLI.
type Service struct {
	mu sync.RWMutex

	store   repository.Store
	engine  *dedupe.Engine
	tracker submission.Tracker
	queue   *eventqueue.InMemoryQueue
	pool    *workerpool.Pool

	workerCount     int
	queueSize       int
	trackerSize     int
	maxCleanupLimit int

	// pending counts queued submissions whose ingestion has not finished.
	pending atomic.Int64

	started bool
	logger  logger.Logger
}

// New constructs a Service over store and the engine that reads it.
func New(store repository.Store, engine *dedupe.Engine, opts ...Option) *Service {
	s := &Service{
		store:           store,
		engine:          engine,
		workerCount:     defaultWorkerCount,
		queueSize:       defaultQueueSize,
		trackerSize:     defaultTrackerSize,
		maxCleanupLimit: defaultMaxCleanupLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.tracker = submission.NewMemoryTracker(submission.WithMaxSize(s.trackerSize))
	return s
}

// Start creates the ingestion queue and starts the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.queue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.queueSize),
		eventqueue.WithBufferSize(s.queueSize),
	)
	s.pool = workerpool.NewPool(s.workerCount, s.queue, s.engine,
		workerpool.WithResultFunc(s.onResult),
	)
	s.pool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "ingestion service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("submissionCacheSize", s.trackerSize),
	)
	return nil
}

// Stop closes intake and waits for queued submissions to be ingested until
// ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping ingestion service...")

	err := s.pool.Shutdown(ctx)
	s.started = false
	if err != nil {
		s.logger.Warn(ctx, "ingestion queue not drained", logger.Error(err))
		return err
	}
	s.logger.Info(ctx, "ingestion service stopped")
	return nil
}

// Submit queues rec for asynchronous ingestion. A non-empty submissionID is
// remembered so a replay is refused with ErrDuplicateSubmission; the id is
// forgotten again when the submission could not be queued or ingested.
func (s *Service) Submit(ctx context.Context, submissionID string, rec model.ActivityRecord) error {
	return s.submit(ctx, "http", submissionID, rec)
}

func (s *Service) submit(ctx context.Context, origin, submissionID string, rec model.ActivityRecord) error {
	const op = "service.Submit"

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return errkind.New(op, ErrNotStarted)
	}

	if s.tracker.SeenAndRecord(ctx, submissionID) {
		s.logger.Debug(ctx, "submission replayed, skipping",
			logger.String("submission_id", submissionID),
		)
		return errkind.New(op, ErrDuplicateSubmission)
	}

	s.pending.Add(1)
	err := s.queue.Enqueue(ctx, eventqueue.Item{
		SubmissionID: submissionID,
		Origin:       origin,
		Record:       rec,
		EnqueuedAt:   time.Now(),
	})
	if err != nil {
		s.pending.Add(-1)
		s.tracker.Unrecord(ctx, submissionID)
		if errors.Is(err, eventqueue.ErrFull) {
			return errkind.WrapKind(op, ErrBackpressure, err)
		}
		return errkind.Wrap(op, err)
	}
	return nil
}

// onResult releases the submission id of a failed ingestion so the client
// may retry it.
func (s *Service) onResult(ctx context.Context, item eventqueue.Item, _ model.Verdict, _ model.ActivityRecord, err error) { //nolint:gocritic // callback signature
	s.pending.Add(-1)
	if err == nil {
		return
	}
	s.tracker.Unrecord(ctx, item.SubmissionID)
	metrics.RecordErrorByComponent("service", "ingest")
}

// IngestNow evaluates and applies rec synchronously.
func (s *Service) IngestNow(ctx context.Context, rec model.ActivityRecord) (model.Verdict, model.ActivityRecord, error) {
	return s.engine.Ingest(ctx, rec)
}

// Evaluate returns the verdict for rec without changing anything.
func (s *Service) Evaluate(ctx context.Context, rec model.ActivityRecord) (model.Verdict, error) {
	return s.engine.Evaluate(ctx, rec)
}

// Get returns a stored record.
func (s *Service) Get(ctx context.Context, id model.RecordID) (model.ActivityRecord, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return model.ActivityRecord{}, errkind.Wrap("service.Get", err)
	}
	return rec, nil
}

// Analyze reports the duplicate clusters currently in the store.
func (s *Service) Analyze(ctx context.Context) (dedupe.Analysis, error) {
	return s.engine.Analyze(ctx)
}

// Cleanup resolves at most limit clusters. Non-positive limits and limits
// above the configured maximum are capped to the maximum.
func (s *Service) Cleanup(ctx context.Context, dryRun bool, limit int) (dedupe.CleanupResult, error) {
	if limit <= 0 || limit > s.maxCleanupLimit {
		limit = s.maxCleanupLimit
	}
	return s.engine.Cleanup(ctx, dryRun, dedupe.WithClusterLimit(limit))
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Started:            s.started,
		WorkerCount:        s.workerCount,
		QueueCapacity:      s.queueSize,
		Pending:            s.pending.Load(),
		TrackedSubmissions: s.tracker.Size(),
		Engine:             s.engine.Stats(),
	}
	if s.started {
		stats.QueueLength = s.queue.Len(ctx)
	}
	if n, err := s.store.Count(ctx); err == nil {
		stats.TotalRecords = n
	} else {
		s.logger.Warn(ctx, "failed to count records", logger.Error(err))
	}
	return stats
}

// StreamHandler returns the intake used by stream consumers. Replayed
// submissions are acknowledged instead of refused so the consumer can
// commit past them.
func (s *Service) StreamHandler() StreamHandler {
	return StreamHandler{s: s}
}

// StreamHandler submits records arriving from a message stream.
type StreamHandler struct {
	s *Service
}

// Submit queues rec, treating a replayed submission id as accepted.
func (h StreamHandler) Submit(ctx context.Context, submissionID string, rec model.ActivityRecord) error {
	err := h.s.submit(ctx, "kafka", submissionID, rec)
	if errors.Is(err, ErrDuplicateSubmission) {
		return nil
	}
	return err
}
