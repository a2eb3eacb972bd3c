package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okian/recon/internal/config"
	"github.com/okian/recon/pkg/logger"
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		stop()
		os.Exit(1) //nolint:gocritic // stop is called explicitly above
	}
}

// rootCommand creates the recon command tree.
func rootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:           "recon",
		Short:         "Activity deduplication engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if configFile != "" {
				return os.Setenv(config.EnvPrefix+"CONFIG", configFile)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to a YAML config file (overrides "+config.EnvPrefix+"CONFIG)")

	root.AddCommand(
		serveCommand(),
		analyzeCommand(),
		cleanupCommand(),
		seedCommand(),
	)
	return root
}

// setup loads configuration and initialises logging from it.
func setup(ctx context.Context) (*config.Config, logger.Logger, error) {
	if err := logger.Init(); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	log := logger.Get()
	if err := logger.SetFormat(cfg.LogFormat); err != nil {
		log.Warn(ctx, "invalid log_format; keeping text", logger.String("log_format", cfg.LogFormat), logger.Error(err))
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return cfg, logger.Get(), nil
}
