package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shorts-relay/internal/app"
	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/server"
	"github.com/shorts-relay/pkg/logger"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "shorts-relay-scheduler",
		Short: "Background scheduler for shorts relay",
		Long: `Runs the slot trigger loop, delayed publishing, cleanup and ingestion in the background.
This daemon should be run as a service for autonomous operation.`,
		RunE: runScheduler,
	}

	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runScheduler(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	log.Info().Msg("Starting shorts relay scheduler")

	if err := cfg.ValidateUploads(); err != nil {
		log.Warn().Err(err).Msg("YouTube credentials incomplete, uploads will fail until configured")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	loop := a.Loop()
	if err := loop.Start(ctx); err != nil {
		return err
	}
	log.Info().Int("jobs", loop.Entries()).Msg("Scheduler started")

	serverErr := make(chan error, 1)
	if cfg.Server.Enabled {
		srv := server.New(cfg.Server.Addr, a.Repo, a.Uploader, log)
		go func() { serverErr <- srv.Run(ctx) }()
	}

	select {
	case <-ctx.Done():
	case err = <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("Control server failed")
		}
	}

	log.Info().Msg("Shutting down scheduler")
	loop.Stop(30 * time.Second)

	return err
}
