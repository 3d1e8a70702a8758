package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	handler "teamboard-backend/api"
	"teamboard-backend/pkg/config"
	"teamboard-backend/pkg/database"
	"teamboard-backend/pkg/logger"
)

func main() {
	cfg := config.GetCached()
	log := logger.New("server", cfg.Environment)
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	store, err := database.GetDatabase(handler.DatabaseConfig(cfg))
	if err != nil {
		log.Fatalw("failed to open database", "error", err)
	}
	defer database.ResetPool()

	deps := handler.NewDeps(cfg, store, nil)
	defer deps.Publisher.Close()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("server starting", "port", cfg.Port, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}
