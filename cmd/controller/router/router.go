// Package router configures HTTP routes for the controller's operator API.
//
// Routes configured:
//   - GET /status/current - Latest control loop snapshot
//   - GET /config - Current runtime settings
//   - PUT /config - Partial settings update
//   - POST /charge/start - Manual start-charging override
//   - POST /charge/stop - Manual stop-charging override
//   - GET /healthz - Health check endpoint (returns 200 OK)
//   - GET /metrics - Prometheus metrics endpoint
//
// The /status/current endpoint returns the snapshot the loop stored on
// its last tick. Snapshots older than the stale threshold include an
// X-Voltloop-Stale header.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voltloop/voltloop/pkg/httpx"
	"github.com/voltloop/voltloop/pkg/policy"
	"github.com/voltloop/voltloop/pkg/settings"
	"github.com/voltloop/voltloop/pkg/storage"
)

// Charger is the slice of the controller the API needs for manual
// overrides.
type Charger interface {
	ForceCharge(ctx context.Context, action policy.Action) error
}

// SetupRoutes configures HTTP endpoints for the controller.
func SetupRoutes(store storage.Store, sets *settings.Store, charger Charger, staleAfter time.Duration, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("GET /healthz", healthHandler(store))
	mux.HandleFunc("GET /status/current", handleGetStatus(store, staleAfter, logger))
	mux.HandleFunc("GET /config", handleGetConfig(sets))
	mux.HandleFunc("PUT /config", handlePutConfig(sets, logger))
	mux.HandleFunc("POST /charge/start", handleForce(charger, policy.ActionStart, logger))
	mux.HandleFunc("POST /charge/stop", handleForce(charger, policy.ActionStop, logger))
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// healthHandler reports healthy as long as the snapshot backend is
// reachable. The memory store has nothing to check.
func healthHandler(store storage.Store) http.HandlerFunc {
	pinger, ok := store.(interface{ Ping(context.Context) error })
	if !ok {
		return httpx.HealthHandler()
	}
	return httpx.HealthHandlerWithCheck(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pinger.Ping(ctx)
	})
}

// handleGetStatus returns a handler for GET /status/current.
func handleGetStatus(store storage.Store, staleAfter time.Duration, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		snapshot, found, err := store.GetLatest(ctx)
		if err != nil {
			logger.Error("failed to get snapshot", "error", err)
			httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
			return
		}

		if !found {
			httpx.WriteErrorMessage(w, http.StatusNotFound, "no tick recorded yet")
			return
		}

		if time.Since(snapshot.TickedAt) > staleAfter {
			w.Header().Set("X-Voltloop-Stale", "true")
		}

		if err := httpx.WriteJSON(w, http.StatusOK, snapshot); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleGetConfig(sets *settings.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = httpx.WriteJSON(w, http.StatusOK, sets.Current())
	}
}

// handlePutConfig applies a partial settings update. Validation errors
// come back as 400 with the reason; nothing changes on failure.
func handlePutConfig(sets *settings.Store, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var update settings.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		applied, err := sets.Apply(update)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, err)
			return
		}

		logger.Info("settings updated",
			"threshold_cents", applied.ThresholdCents,
			"hysteresis_ratio", applied.HysteresisRatio,
			"poll_interval", applied.PollInterval,
			"auto_mode", applied.AutoMode,
		)

		if err := httpx.WriteJSON(w, http.StatusOK, applied); err != nil {
			logger.Error("failed to write JSON response", "error", err)
		}
	}
}

func handleForce(charger Charger, action policy.Action, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		if err := charger.ForceCharge(ctx, action); err != nil {
			logger.Error("manual charge command failed", "action", action, "error", err)
			httpx.WriteError(w, http.StatusBadGateway, err)
			return
		}

		_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{
			"action": string(action),
			"result": "ok",
		})
	}
}
