package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/recon/internal/domain/model"
	"github.com/okian/recon/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0750
	filePermission      = 0600
)

const settlePoll = 250 * time.Millisecond

// Run generates a dataset, submits it to the server and reports what the
// server's analysis finds afterwards.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	log := logger.Get().Named("seed")

	log.Info(ctx, "starting seed run",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("owners", cfg.Options.Owners),
		logger.Int("eventsPerOwner", cfg.Options.EventsPerOwner),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout),
	)

	client := NewClient(cfg.BaseURL, cfg.Timeout)

	if err := client.getJSON(ctx, "/healthz", nil); err != nil {
		return stats, fmt.Errorf("service health check failed: %w", err)
	}

	ds := Generate(cfg.Options)
	stats.Generated = len(ds.Submissions)
	log.Info(ctx, "generated dataset",
		logger.Int("originals", ds.Originals),
		logger.Int("exactCopies", ds.ExactCopies),
		logger.Int("fuzzyCopies", ds.FuzzyCopies),
	)

	if cfg.OutputFile != "" {
		if err := saveSubmissions(cfg.OutputFile, ds.Submissions); err != nil {
			log.Warn(ctx, "failed to save submissions", logger.Error(err))
		}
	}

	submitAll(ctx, client, cfg.Workers, ds.Submissions, stats)

	if err := waitForDrain(ctx, client, cfg.Settle); err != nil {
		log.Warn(ctx, "queue did not drain", logger.Error(err))
	}

	var analysis AnalysisSummary
	if err := client.getJSON(ctx, "/duplicates/analyze", &analysis); err != nil {
		return stats, fmt.Errorf("analysis failed: %w", err)
	}
	stats.Analysis = &analysis

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)

	log.Info(ctx, "seed run completed",
		logger.Int("submitted", stats.Submitted),
		logger.Int("accepted", stats.Accepted),
		logger.Int("totalActivities", analysis.TotalActivities),
		logger.Int("exactDuplicatesPending", analysis.ExactDuplicates),
		logger.Int("fuzzyDuplicatesPending", analysis.FuzzyDuplicates),
		logger.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// waitForDrain polls /stats until no accepted submission is pending or
// settle elapses.
func waitForDrain(ctx context.Context, client *Client, settle time.Duration) error {
	deadline := time.Now().Add(settle)
	for {
		var s serverStats
		err := client.getJSON(ctx, "/stats", &s)
		if err == nil && s.Pending == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return err
			}
			return fmt.Errorf("%d submissions still pending", s.Pending)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(settlePoll):
		}
	}
}

func saveSubmissions(filename string, subs []model.Submission) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(subs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal submissions: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
