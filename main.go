package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kaiwalabs/kaiwa/config"
	"github.com/kaiwalabs/kaiwa/logging"
	"github.com/kaiwalabs/kaiwa/metrics"
	"github.com/kaiwalabs/kaiwa/server"
	"github.com/kaiwalabs/kaiwa/session"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	sessionManager, err := session.NewManager(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create session manager")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go sessionManager.StartCleanupRoutine(ctx)
	go sessionManager.WarmCache(ctx)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	switch cfg.ServerType {
	case "websocket":
		srv := server.NewServerWebsocket(cfg, sessionManager)

		go func() {
			<-sigChan
			log.Info().Msg("received shutdown signal")
			cancel()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}
		}()

		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}

	case "phone":
		phoneSrv := server.NewServerPhone(cfg, sessionManager)

		go func() {
			<-sigChan
			log.Info().Msg("received shutdown signal")
			cancel()
			sessionManager.Shutdown()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := phoneSrv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("phone server shutdown error")
			}
		}()

		if err := phoneSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("phone server error")
		}

	case "both":
		srv := server.NewServerWebsocket(cfg, sessionManager)
		phoneSrv := server.NewServerPhone(cfg, sessionManager)

		go func() {
			<-sigChan
			log.Info().Msg("received shutdown signal")
			cancel()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("websocket server shutdown error")
			}
			if err := phoneSrv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("phone server shutdown error")
			}
		}()

		// Start phone server in background
		go func() {
			if err := phoneSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("phone server error")
			}
		}()

		// Start WebSocket server (blocks)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("websocket server error")
		}
	}

	log.Info().Msg("server stopped")
}
