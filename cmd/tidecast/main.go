package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tidecast/tidecast/internal/config"
	"github.com/tidecast/tidecast/internal/db"
	"github.com/tidecast/tidecast/internal/events"
	"github.com/tidecast/tidecast/internal/logging"
	"github.com/tidecast/tidecast/internal/recording"
	"github.com/tidecast/tidecast/internal/server"
	"github.com/tidecast/tidecast/internal/state"
	"github.com/tidecast/tidecast/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "tidecast",
	Short:   "Tidecast - self-hosted internet radio control plane",
	Long:    "Tidecast governs which audio source is authoritative at any moment: livestream arbitration, dual-queue playback, webhook fan-out, and live-session recording.",
	Version: version.Version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control plane server",
	Long:  "Start the HTTP API, livestream arbiter, source observer, and webhook dispatcher",
	RunE:  runServe,
}

var recordWorkerCmd = &cobra.Command{
	Use:   "recordworker",
	Short: "Start the livestream recording worker",
	RunE:  runRecordWorker,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordWorkerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Msg("tidecast starting")

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	ctx := context.Background()
	srv.Start(ctx)

	httpServer := srv.HTTPServer()
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("tidecast stopped")
	return nil
}

func runRecordWorker(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Msg("recording worker starting")

	if cfg.StateStoreURL == "" {
		return fmt.Errorf("STATE_STORE_URL is required for the recording worker")
	}

	store, err := state.NewRedisStore(cfg.StateStoreURL, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect catalog store: %w", err)
	}
	defer db.Close(database)

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate catalog store: %w", err)
	}

	var bus events.Bus
	if cfg.EventBus == config.EventBusNATS {
		natsBus, err := events.NewNATSBus(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer natsBus.Close()
		bus = natsBus
	} else {
		bus = events.NewStateBus(store, logger)
	}

	var archive recording.Archive
	if cfg.S3Bucket != "" {
		archive, err = recording.NewS3Archive(context.Background(), recording.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		}, logger)
		if err != nil {
			return fmt.Errorf("initialize s3 archive: %w", err)
		}
	}

	worker := recording.NewWorker(database, store, bus,
		recording.NewFFmpegCapture(cfg.CaptureURL),
		recording.ProbeDuration, recording.TrimSilence,
		archive, cfg.RecordingsDir, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info().Msg("recording worker shutting down...")
		cancel()
	}()

	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
