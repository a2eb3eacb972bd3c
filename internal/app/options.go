package service

import "github.com/okian/recon/pkg/logger"

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of ingestion workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the ingestion queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithSubmissionCacheSize bounds the number of remembered submission ids.
// Zero or less means unbounded.
func WithSubmissionCacheSize(size int) Option {
	return func(s *Service) {
		s.trackerSize = size
	}
}

// WithMaxCleanupLimit caps the number of clusters one cleanup call may resolve.
func WithMaxCleanupLimit(limit int) Option {
	return func(s *Service) {
		if limit > 0 {
			s.maxCleanupLimit = limit
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
