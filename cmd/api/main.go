package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/andresuchdata/cashflow-sdp/internal/config"
	"github.com/andresuchdata/cashflow-sdp/internal/drive"
	"github.com/andresuchdata/cashflow-sdp/internal/service"
	"github.com/andresuchdata/cashflow-sdp/pkg/logger"
	"github.com/gorilla/mux"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.SetLevel(cfg.App.LogLevel)

	credentials, err := driveCredentials(cfg.Drive)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to read Google Drive credentials")
	}

	// Initialize Google Drive service
	driveService, err := drive.NewService(context.Background(), credentials)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialize Google Drive service")
	}

	base, err := cfg.Solver.Parameters()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Invalid default solver parameters")
	}

	// Initialize Services
	solveService, cleanup := service.NewFromConfig(context.Background(), cfg)
	defer cleanup()
	intake := drive.NewIntakeService(driveService, solveService, base)

	// Create router and register routes
	r := mux.NewRouter()
	driveHandler := drive.NewHandler(driveService, intake, cfg.App.DataDir)
	driveHandler.RegisterRoutes(r)

	// Health check endpoint
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.Log.Info().Str("addr", addr).Msg("Drive intake server starting")
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Log.Fatal().Err(err).Msg("Server stopped")
	}
}

// driveCredentials prefers the inline JSON env var over the credentials file.
func driveCredentials(cfg config.DriveConfig) (string, error) {
	if inline := os.Getenv("GOOGLE_DRIVE_CREDENTIALS_JSON"); inline != "" {
		return inline, nil
	}
	if cfg.CredentialsFile == "" {
		return "", fmt.Errorf("set GOOGLE_DRIVE_CREDENTIALS_JSON or DRIVE_CREDENTIALS_FILE")
	}
	raw, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
