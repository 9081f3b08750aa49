package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/taskpal/backend/internal/broker"
	"github.com/taskpal/backend/internal/config"
	"github.com/taskpal/backend/internal/database"
	"github.com/taskpal/backend/internal/logging"
	"github.com/taskpal/backend/internal/pubsub"
	"github.com/taskpal/backend/internal/router"
	"github.com/taskpal/backend/internal/store"
	"github.com/taskpal/backend/internal/ws"
)

func main() {
	// Initialize structured logging (reads LOGGING_LEVEL env var)
	logging.Initialize()

	// Load configuration
	cfg := config.Load()

	// Initialize database
	sqlDB, err := database.New(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(sqlDB); err != nil {
		slog.Error("failed to run migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	st := store.New(sqlDB)

	// Real-time core: channel registry, publisher, event dispatcher, session hub
	b := broker.New()
	pub := pubsub.NewPublisher(b, st)
	dispatcher := pubsub.NewDispatcher(pub, cfg.DispatcherBuffer)
	dispatcher.Start()
	hub := ws.NewHub()

	r := router.New(cfg, st, b, pub, hub)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()

	// Stop accepting requests, then tear down live sessions and the
	// dispatcher so in-flight events drain before the process exits.
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown incomplete", slog.String("error", err.Error()))
	}
	hub.CloseAll()
	dispatcher.Close()
	slog.Info("shutdown complete")
}
