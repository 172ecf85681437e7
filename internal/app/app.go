// Package app wires the discovery service together: the Telegram client,
// the scan orchestrator, the group configuration store and the HTTP API
// all share one process and one shutdown context.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/telereplica/discovery/internal/api"
	"github.com/telereplica/discovery/internal/groupconfig"
	"github.com/telereplica/discovery/internal/platform/config"
	"github.com/telereplica/discovery/internal/platform/observability"
	"github.com/telereplica/discovery/internal/platform/worker"
	"github.com/telereplica/discovery/internal/scan"
	db "github.com/telereplica/discovery/internal/storage"
	"github.com/telereplica/discovery/internal/telegram"
)

const storedChatsRefreshInterval = time.Minute

// App holds the application dependencies.
type App struct {
	cfg      *config.Config
	database *db.DB
	logger   *zerolog.Logger
}

// New creates a new App instance with the given dependencies.
func New(cfg *config.Config, database *db.DB, logger *zerolog.Logger) *App {
	return &App{
		cfg:      cfg,
		database: database,
		logger:   logger,
	}
}

// Run starts every component and blocks until the context is canceled or
// the HTTP server fails.
func (a *App) Run(ctx context.Context) error {
	groups, err := groupconfig.Open(a.cfg.GroupsConfigPath, a.logger)
	if err != nil {
		return fmt.Errorf("open group config: %w", err)
	}

	client := telegram.New(a.cfg, a.logger)

	scanner := scan.New(scan.Config{
		Source:     client,
		Store:      a.database,
		Logger:     a.logger,
		PageSize:   a.cfg.ScanPageSize,
		BatchSize:  a.cfg.ScanBatchSize,
		BatchDelay: a.cfg.ScanBatchDelay,
		MaxChats:   a.cfg.ScanMaxChats,
	})

	hub := api.NewHub(scanner, a.cfg.WSPushInterval, a.logger)
	scanner.SetNotify(func(scan.Status) { hub.Broadcast(ctx) })

	handler := api.NewHandler(ctx, scanner, a.database, groups, hub, a.logger)
	server := api.NewServer(handler, hub, a.database, a.cfg.HTTPPort, a.logger)

	go a.runTelegramClient(ctx, client)
	go a.runStatusPush(ctx, hub)
	go a.runStoredChatsGauge(ctx)

	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("api server: %w", err)
	}

	return nil
}

// runTelegramClient keeps the MTProto session alive for the process
// lifetime. The API degrades to 503 on scan requests while it is down.
func (a *App) runTelegramClient(ctx context.Context, client *telegram.Client) {
	if err := client.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			a.logger.Info().Msg("telegram client stopped")

			return
		}

		a.logger.Error().Err(err).Msg("telegram client exited")
	}
}

func (a *App) runStatusPush(ctx context.Context, hub *api.Hub) {
	if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn().Err(err).Msg("status push loop stopped")
	}
}

// runStoredChatsGauge refreshes the per-type stored chat gauges from the
// database on a fixed interval.
func (a *App) runStoredChatsGauge(ctx context.Context) {
	err := worker.Loop(ctx, worker.Config{
		Name:         "stored-chats-gauge",
		PollInterval: storedChatsRefreshInterval,
		Logger:       a.logger,
		Process: func(ctx context.Context) error {
			return worker.RunWithTimeout(ctx, 10*time.Second, func(ctx context.Context) error {
				stats, err := a.database.ChatStats(ctx)
				if err != nil {
					return fmt.Errorf("refresh stored chat stats: %w", err)
				}

				for chatType, count := range stats.ByType {
					observability.StoredChats.WithLabelValues(chatType).Set(float64(count))
				}

				return nil
			})
		},
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Warn().Err(err).Msg("stored chats gauge loop stopped")
	}
}
