package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"tradax/internal/platform/config"
	"tradax/internal/platform/logger"
	"tradax/internal/stub"
)

// main serves the in-memory auth and wallet services on one address so the CLI can
// run locally. Point both TRADAX_AUTH_SERVICE_URL and TRADAX_WALLET_SERVICE_URL at it.
func main() {
	cfg := config.StubFromEnv()
	log := logger.New(cfg.LogLevel)

	log.Info("initializing stub backend",
		"addr", cfg.Addr,
		"token_ttl", cfg.TokenTTL,
	)

	backend := stub.New(cfg.SigningKey, cfg.TokenTTL, stub.WithLogger(log))
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           backend.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Info("starting http server", "addr", cfg.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info("shutting down server gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
