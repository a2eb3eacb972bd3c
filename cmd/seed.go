package main

import (
	"context"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/recon/internal/seed"
	"github.com/okian/recon/pkg/logger"
)

// Default seed settings.
const (
	defaultSeedTimeout = 30 * time.Second
	defaultSeedSettle  = 2 * time.Minute
	defaultRunTimeout  = 10 * time.Minute
)

func seedCommand() *cobra.Command {
	cfg := seed.Config{Options: seed.DefaultOptions()}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Submit a synthetic, duplicate-laden dataset to a running server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := logger.Init(); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), defaultRunTimeout)
			defer cancel()

			stats, err := seed.Run(ctx, &cfg)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.BaseURL, "url", "http://localhost:9080", "Base URL of the service")
	f.IntVar(&cfg.Options.Owners, "owners", seed.DefaultOwners, "Number of owners")
	f.IntVar(&cfg.Options.EventsPerOwner, "events", seed.DefaultEventsPerOwner, "Events per owner")
	f.IntVar(&cfg.Options.ExactCopies, "exact", seed.DefaultExactCopies, "Exact re-entries per event")
	f.IntVar(&cfg.Options.FuzzyCopies, "fuzzy", seed.DefaultFuzzyCopies, "Reworded variants per event")
	f.IntVar(&cfg.Options.Unique, "unique", 0, "Additional unrelated activities per owner")
	f.Uint64Var(&cfg.Options.Seed, "seed", cfg.Options.Seed, "Generator seed")
	f.IntVar(&cfg.Workers, "workers", runtime.NumCPU(), "Concurrent submitters")
	f.DurationVar(&cfg.Timeout, "timeout", defaultSeedTimeout, "HTTP request timeout")
	f.DurationVar(&cfg.Settle, "settle", defaultSeedSettle, "How long to wait for ingestion to finish")
	f.StringVar(&cfg.OutputFile, "output", "", "Write the generated submissions to this file")
	return cmd
}
