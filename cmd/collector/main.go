package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maltedev/shop-image-collector/internal/api"
	"github.com/maltedev/shop-image-collector/internal/app"
	"github.com/maltedev/shop-image-collector/internal/config"
	"github.com/maltedev/shop-image-collector/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(os.Stdout, "info", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize collector", "error", err)
		os.Exit(1)
	}
	defer collector.Close()

	collector.Start(ctx)

	router := api.NewRouter(collector.Handlers(), api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		// Leave headroom for encoding after the collection deadline.
		RequestTimeout: cfg.Collector.Timeout + 5*time.Second,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
