/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the rewards engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from the environment (.env honored)
  2. Initialize SQLite store
  3. Wire ledger, registry, and workout services
  4. Seed the notification engine from the persisted balance
  5. Start the balance monitor (if enabled)
  6. Start HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the balance monitor
  4. Close database connection
  5. Exit

SEE ALSO:
  - config/config.go: Environment settings
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
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
	"github.com/rs/zerolog/log"

	"github.com/pedalpoints/rewards-engine/api"
	"github.com/pedalpoints/rewards-engine/config"
	"github.com/pedalpoints/rewards-engine/ledger"
	"github.com/pedalpoints/rewards-engine/notify"
	"github.com/pedalpoints/rewards-engine/registry"
	"github.com/pedalpoints/rewards-engine/store/sqlite"
	"github.com/pedalpoints/rewards-engine/workout"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("configuration error")
	}

	// Store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to initialize database")
	}
	defer store.Close()

	// Services
	ledgerSvc := ledger.NewService(store)
	registrySvc := registry.NewService(store)
	workoutSvc := workout.NewService(store, ledgerSvc)

	// Notifications
	var sender notify.Sender
	if cfg.TelegramBotToken != "" {
		sender = notify.NewTelegramSender(cfg.TelegramBotToken)
	} else {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set, notifications disabled")
	}

	engine := notify.NewEngine(notify.Config{
		LowBalanceThreshold: cfg.LowBalanceThreshold,
		EditWindow:          cfg.NotificationEditWindow,
	}, registrySvc, sender)

	// Seed from the persisted balance so a restart with an already-low
	// balance does not fire a fresh alert.
	if bal, err := ledgerSvc.Balance(context.Background()); err != nil {
		log.Warn().Err(err).Msg("could not read balance at startup")
	} else {
		engine.Seed(bal)
	}
	ledgerSvc.SetObserver(engine)

	// Poll fallback for writes that bypass this process (a second
	// instance, manual sqlite edits). Push remains the primary path.
	monitor := &notify.Monitor{
		Ledger:        ledgerSvc,
		Engine:        engine,
		CheckInterval: cfg.BalanceCheckInterval,
		Enabled:       cfg.BalanceMonitoringEnabled,
	}
	monitor.Start()
	defer monitor.Stop()

	// HTTP
	handler := &api.Handler{
		Ledger:   ledgerSvc,
		Registry: registrySvc,
		Workouts: workoutSvc,
	}
	router := api.NewRouter(handler, cfg.APIKey)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
