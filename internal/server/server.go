/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package server wires the control plane together: stores, bus, mixer
// clients, services, background tasks, and the HTTP surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tidecast/tidecast/internal/api"
	"github.com/tidecast/tidecast/internal/auth"
	"github.com/tidecast/tidecast/internal/config"
	"github.com/tidecast/tidecast/internal/db"
	"github.com/tidecast/tidecast/internal/events"
	"github.com/tidecast/tidecast/internal/livestream"
	"github.com/tidecast/tidecast/internal/mixer"
	"github.com/tidecast/tidecast/internal/observer"
	"github.com/tidecast/tidecast/internal/queue"
	"github.com/tidecast/tidecast/internal/recording"
	"github.com/tidecast/tidecast/internal/state"
	"github.com/tidecast/tidecast/internal/telemetry"
	"github.com/tidecast/tidecast/internal/webhooks"
)

// Server owns the wired control plane for the serve command.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger

	store    state.Store
	database *gorm.DB
	bus      events.Bus

	userQueue     *mixer.QueueClient
	fallbackQueue *mixer.QueueClient

	queueSvc *queue.Service
	janitor  *queue.Janitor
	arbiter  *livestream.Arbiter
	watchdog *livestream.Watchdog
	observer *observer.Observer
	webhooks *webhooks.Service
	metrics  *telemetry.Metrics

	watchdogLease *state.Lease
	observerLease *state.Lease

	httpServer *http.Server
	cancel     context.CancelFunc
}

// New wires every component from configuration.
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	store, err := openStateStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connect catalog store: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return nil, fmt.Errorf("migrate catalog store: %w", err)
	}

	bus, err := openBus(cfg, store, logger)
	if err != nil {
		return nil, err
	}

	userQueue := mixer.NewQueueClient(cfg.UserQueueAddr, logger)
	fallbackQueue := mixer.NewQueueClient(cfg.FallbackQueueAddr, logger)
	telnet := mixer.NewTelnetControl(cfg.MixerTelnetAddr, logger)

	arbiter := livestream.NewArbiter(store, bus, []byte(cfg.JWTSecret), telnet, cfg.MixerHarborID, logger)

	if err := os.MkdirAll(cfg.MusicDir, 0o755); err != nil {
		return nil, fmt.Errorf("create music dir: %w", err)
	}

	queueSvc := queue.NewService(
		userQueue, fallbackQueue, store,
		queue.NewExecDownloader("", logger),
		recording.ProbeDuration,
		database,
		queue.Limits{
			MaxSongDuration: cfg.MaxSongDuration,
			MaxFileSize:     cfg.MaxFileSize,
			DupWindow:       cfg.DupWindow,
			DownloadTimeout: cfg.DownloadTimeout,
		},
		cfg.MusicDir, logger,
	)

	watchdogLease := state.NewLease(store, "lease:watchdog", logger)
	observerLease := state.NewLease(store, "lease:observer", logger)

	srv := &Server{
		cfg:           cfg,
		logger:        logger,
		store:         store,
		database:      database,
		bus:           bus,
		userQueue:     userQueue,
		fallbackQueue: fallbackQueue,
		queueSvc:      queueSvc,
		janitor:       queue.NewJanitor(queueSvc, bus, logger),
		arbiter:       arbiter,
		watchdog:      livestream.NewWatchdog(arbiter, watchdogLease, cfg.WatchdogInterval, logger),
		observer: observer.New(userQueue, fallbackQueue, arbiter, store, bus,
			observerLease, cfg.PollInterval, logger),
		metrics:       telemetry.New(),
		watchdogLease: watchdogLease,
		observerLease: observerLease,
	}

	registry := webhooks.NewRegistry(database)
	srv.webhooks = webhooks.NewService(registry, store, bus, webhooks.Partition{
		Count: cfg.WebhookPartitionCount,
		Index: cfg.WebhookPartitionIndex,
	}, logger)

	resolver := auth.NewResolver(cfg.AdminAPITokens, cfg.InternalAPIToken, []byte(cfg.JWTSecret))
	apiHandler := api.New(database, resolver, []byte(cfg.JWTSecret), queueSvc, arbiter,
		srv.webhooks, registry, store, srv.metrics, logger)

	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	apiHandler.Routes(router)
	router.Method(http.MethodGet, "/metrics", srv.metrics.Handler())

	srv.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv, nil
}

func openStateStore(cfg *config.Config, logger zerolog.Logger) (state.Store, error) {
	if cfg.StateStoreURL == "" {
		logger.Warn().Msg("no state store configured, using in-process store (single replica only)")
		return state.NewMemoryStore(), nil
	}
	return state.NewRedisStore(cfg.StateStoreURL, logger)
}

func openBus(cfg *config.Config, store state.Store, logger zerolog.Logger) (events.Bus, error) {
	if cfg.EventBus == config.EventBusNATS {
		return events.NewNATSBus(cfg.NATSURL, logger)
	}
	return events.NewStateBus(store, logger), nil
}

// HTTPServer exposes the configured HTTP server.
func (s *Server) HTTPServer() *http.Server { return s.httpServer }

// Start launches the background tasks.
func (s *Server) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.watchdogLease.Start(ctx)
	s.observerLease.Start(ctx)

	go func() {
		if err := s.watchdog.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("watchdog stopped")
		}
	}()
	go func() {
		if err := s.observer.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("observer stopped")
		}
	}()
	go func() {
		if err := s.webhooks.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("webhook dispatcher stopped")
		}
	}()
	go func() {
		if err := s.janitor.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("queue janitor stopped")
		}
	}()

	s.queueSvc.ResumePlayback(ctx)
}

// Close stops background tasks and releases resources.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}

	s.watchdogLease.Stop()
	s.observerLease.Stop()

	_ = s.userQueue.Close()
	_ = s.fallbackQueue.Close()

	if err := db.Close(s.database); err != nil {
		s.logger.Error().Err(err).Msg("catalog close failed")
	}
	return s.store.Close()
}
