// Command controller implements the voltloop charging controller.
//
// The controller runs a continuous control loop that:
//  1. Fetches the current spot price and forecast from Amber Electric
//  2. Fetches vehicle telemetry from the vehicle-control service
//  3. Evaluates the charging policy (threshold + hysteresis)
//  4. Issues start/stop charge commands when the policy says so
//  5. Stores a snapshot of every tick for the operator API
//
// The controller serves an HTTP API on port 8082 (configurable) providing:
//   - GET /status/current - Latest control loop snapshot
//   - GET /config, PUT /config - Runtime settings
//   - POST /charge/start, POST /charge/stop - Manual overrides
//   - GET /healthz - Health check endpoint
//   - GET /metrics - Prometheus metrics endpoint
//
// Usage:
//
//	controller \
//	  -amber-api-key=psk_... \
//	  -vehicle-base-url=https://api.vehicle.example.com \
//	  -vehicle-email=driver@example.com \
//	  -vehicle-password=... \
//	  -threshold-cents=25 \
//	  -poll-interval=5m
//
// Environment variables:
//
//	AMBER_API_KEY     - Amber Electric API key (required)
//	VEHICLE_BASE_URL  - Vehicle control API base URL
//	VEHICLE_EMAIL     - Vehicle account email
//	VEHICLE_PASSWORD  - Vehicle account password
//	CAPTCHA_API_KEY   - CAPTCHA solving service API key
//	MOCK_VEHICLE      - Use an in-memory mock vehicle (default: false)
//	THRESHOLD_CENTS   - Charging price threshold (default: 25)
//	HYSTERESIS_RATIO  - Stop boundary multiplier (default: 1.2)
//	TARGET_SOC        - Stop charging at this battery percent (default: 0=off)
//	POLL_INTERVAL     - Control loop interval (default: 5m)
//	STALE_AFTER       - Maximum telemetry age (default: 10m)
//	AUTO_MODE_ENABLED - Issue commands automatically (default: true)
//	STORAGE           - Snapshot backend: memory or redis (default: memory)
//	LOG_LEVEL         - Logging level: debug, info, warn, error (default: info)
//	LOG_FORMAT        - Logging format: text, json (default: text)
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voltloop/voltloop/cmd/controller/config"
	"github.com/voltloop/voltloop/cmd/controller/logger"
	"github.com/voltloop/voltloop/cmd/controller/metrics"
	"github.com/voltloop/voltloop/cmd/controller/router"
	"github.com/voltloop/voltloop/pkg/httpx"
	"github.com/voltloop/voltloop/pkg/pricing"
	"github.com/voltloop/voltloop/pkg/settings"
	"github.com/voltloop/voltloop/pkg/storage"
	"github.com/voltloop/voltloop/pkg/vehicle"
)

// version is set via ldflags at build time
var version = "dev"

func main() {
	cfg := config.ParseFlags()

	logger := logger.New(cfg)
	slog.SetDefault(logger)

	logger.Info("starting voltloop controller",
		"version", version,
		"threshold_cents", cfg.ThresholdCents,
		"poll_interval", cfg.PollInterval,
	)

	prices, err := pricing.NewClient(cfg.AmberAPIKey, cfg.AmberBaseURL, cfg.HorizonHours, cfg.HTTPTimeout)
	if err != nil {
		logger.Error("failed to create price client", "error", err)
		os.Exit(1)
	}

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		logger.Error("failed to create vehicle gateway", "error", err)
		os.Exit(1)
	}

	store, err := newStore(cfg)
	if err != nil {
		logger.Error("failed to create snapshot store", "error", err)
		os.Exit(1)
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Error("failed to close store", "error", err)
			}
		}()
	}

	sets, err := settings.New(settings.Values{
		ThresholdCents:   cfg.ThresholdCents,
		HysteresisRatio:  cfg.HysteresisRatio,
		PollInterval:     cfg.PollInterval,
		AutoMode:         cfg.AutoMode,
		TargetSOCPercent: cfg.TargetSOCPercent,
	})
	if err != nil {
		logger.Error("invalid initial settings", "error", err)
		os.Exit(1)
	}

	c := New(prices, gateway, sets, store, cfg.StaleAfter, logger, metrics.New())

	staleAfter := 2 * cfg.PollInterval // Snapshot is stale if older than 2x the interval
	mux := router.SetupRoutes(store, sets, c, staleAfter, logger)
	handler := httpx.RecoveryMiddleware(logger)(httpx.LoggingMiddleware(logger)(mux))
	httpServer := httpx.NewServer(cfg.Listen, handler, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := c.Run(ctx); err != nil && err != context.Canceled {
			logger.Error("control loop failed", "error", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-serverErr:
		if err != nil {
			logger.Error("server failed", "error", err)
		}
	}

	logger.Info("shutting down")
	cancel()

	if err := httpServer.Stop(10 * time.Second); err != nil {
		logger.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// newGateway builds the configured vehicle gateway: the mock for local
// development or the real connected-car client.
func newGateway(cfg *config.Config, logger *slog.Logger) (vehicle.Gateway, error) {
	if cfg.MockVehicle {
		logger.Warn("using mock vehicle gateway")
		return vehicle.NewMock(), nil
	}

	var solver vehicle.CaptchaSolver
	if cfg.CaptchaAPIKey != "" {
		s, err := vehicle.NewTwoCaptcha(cfg.CaptchaAPIKey, cfg.CaptchaAPIURL, cfg.HTTPTimeout)
		if err != nil {
			return nil, err
		}
		solver = s
	} else {
		logger.Warn("no captcha API key configured, logins that raise a challenge will fail")
	}

	return vehicle.NewConnect(vehicle.ConnectConfig{
		BaseURL:  cfg.VehicleBaseURL,
		Email:    cfg.VehicleEmail,
		Password: cfg.VehiclePassword,
		Solver:   solver,
		Sessions: &vehicle.FileSessionStore{Path: cfg.SessionFile},
		Timeout:  cfg.HTTPTimeout,
		Logger:   logger,
	})
}

// newStore builds the configured snapshot backend.
func newStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Storage == "redis" {
		return storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
	}
	return storage.NewMemoryStore(), nil
}
