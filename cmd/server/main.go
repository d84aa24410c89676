// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresuchdata/cashflow-sdp/internal/api"
	"github.com/andresuchdata/cashflow-sdp/internal/config"
	"github.com/andresuchdata/cashflow-sdp/internal/service"
	"github.com/andresuchdata/cashflow-sdp/pkg/logger"
	"github.com/gin-gonic/gin"
)

const shutdownGrace = 30 * time.Second

func main() {
	cfg := config.Load()
	logger.SetLevel(cfg.App.LogLevel)

	mode := gin.ReleaseMode
	if cfg.Server.Mode == "debug" {
		mode = gin.DebugMode
	}
	gin.SetMode(mode)

	defaults, err := cfg.Solver.Parameters()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid default solver parameters")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	solveService, cleanup := service.NewFromConfig(ctx, cfg)
	defer cleanup()

	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: api.NewRouter(&api.Services{
			Solve:        solveService,
			Defaults:     defaults,
			SolveTimeout: time.Duration(cfg.Server.SolveTimeout) * time.Second,
		}, cfg.Server.AllowedOrigins),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info().
			Str("port", cfg.Server.Port).
			Int("periods", len(defaults.MeanDemand)).
			Str("criteria", string(defaults.Criteria)).
			Msg("Solver API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal().Err(err).Msg("Server stopped unexpectedly")
		}
		return
	case <-ctx.Done():
	}

	logger.Log.Info().Dur("grace", shutdownGrace).Msg("Draining in-flight solves")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("Forced shutdown")
	}
}
