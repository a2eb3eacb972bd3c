package main

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/okian/recon/internal/domain/dedupe"
)

func analyzeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Report duplicate clusters in the configured store without changing it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup(ctx)
			if err != nil {
				return err
			}
			engine, _, closeStore, err := openEngine(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			a, err := engine.Analyze(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), a)
		},
	}
}

func cleanupCommand() *cobra.Command {
	var (
		apply bool
		limit int
	)
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Resolve duplicate clusters (dry run unless --apply)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup(ctx)
			if err != nil {
				return err
			}
			engine, _, closeStore, err := openEngine(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer closeStore()

			if limit <= 0 || limit > cfg.MaxCleanupLimit {
				limit = cfg.MaxCleanupLimit
			}
			res, err := engine.Cleanup(ctx, !apply, dedupe.WithClusterLimit(limit))
			if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "Write the changes instead of reporting them")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of clusters to resolve (0 means max_cleanup_limit)")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
