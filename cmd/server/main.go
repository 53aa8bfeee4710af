package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"powerbank-rental-backend/internal/app"
	"powerbank-rental-backend/internal/config"
	"powerbank-rental-backend/internal/logger"
	"powerbank-rental-backend/internal/scheduler"
	"powerbank-rental-backend/internal/security"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	migrate := flag.Bool("migrate", false, "Apply database migrations before serving")
	withScheduler := flag.Bool("scheduler", false, "Run the sweep jobs in-process (always on with the memory driver)")
	flag.Parse()

	// A .env file is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Ignoring unreadable .env file: %v", err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting Power Bank Rental Backend...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "address", cfg.GetServerAddress(), "store", cfg.Database.Driver, "gateway", cfg.Device.Type, "events", cfg.Events.Type)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize application", "error", err)
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer a.Close()

	if *migrate {
		if err := a.Migrate(ctx); err != nil {
			logger.Error("Failed to apply migrations", "error", err)
			log.Fatalf("Failed to apply migrations: %v", err)
		}
	}

	if cfg.Database.Driver == "memory" {
		*withScheduler = true
		logDemoTokens(a.Tokens)
	}
	if *withScheduler {
		cronScheduler := scheduler.NewScheduler(a.JobRunner())
		cronScheduler.Start()
		defer cronScheduler.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "address", srv.Addr)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			log.Fatalf("HTTP server error: %v", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	logger.Info("Server stopped. Goodbye!")
}

// logDemoTokens prints tokens for the seeded demo user and a gateway-wide
// device token so a local run can be driven with curl.
func logDemoTokens(tm security.TokenManager) {
	userToken, err := tm.GenerateAccessToken(1, nil)
	if err != nil {
		logger.Warn("Failed to issue demo user token", "error", err)
		return
	}
	deviceToken, err := tm.GenerateDeviceToken(security.AllStations)
	if err != nil {
		logger.Warn("Failed to issue demo device token", "error", err)
		return
	}
	logger.Info("Demo credentials", "user_id", 1, "access_token", userToken, "device_token", deviceToken)
}
