package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corpusgraph/weaver/internal/app"
	"github.com/corpusgraph/weaver/internal/config"
	"github.com/corpusgraph/weaver/internal/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the scheduler loop until interrupted",
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	base := slog.NewJSONHandler(os.Stdout, nil)
	slog.SetDefault(slog.New(logger.NewContextHandler(base)))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer deps.Close()

	slog.InfoContext(ctx, "weaver: scheduler starting", "max_concurrent_jobs", cfg.MaxConcurrentJobs)
	if err := deps.Scheduler.Run(ctx); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	slog.InfoContext(ctx, "weaver: scheduler stopped")
	return nil
}
