package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/voltloop/voltloop/pkg/policy"
	"github.com/voltloop/voltloop/pkg/settings"
	"github.com/voltloop/voltloop/pkg/storage"
)

type fakeCharger struct {
	actions []policy.Action
	err     error
}

func (f *fakeCharger) ForceCharge(ctx context.Context, action policy.Action) error {
	if f.err != nil {
		return f.err
	}
	f.actions = append(f.actions, action)
	return nil
}

func testMux(t *testing.T, store storage.Store, charger Charger) *http.ServeMux {
	t.Helper()
	sets, err := settings.New(settings.Values{
		ThresholdCents:  25,
		HysteresisRatio: 1.2,
		PollInterval:    5 * time.Minute,
		AutoMode:        true,
	})
	if err != nil {
		t.Fatalf("settings.New: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return SetupRoutes(store, sets, charger, 10*time.Minute, logger)
}

func TestStatusNotFoundBeforeFirstTick(t *testing.T) {
	mux := testMux(t, storage.NewMemoryStore(), &fakeCharger{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/current", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestStatusReturnsLatestSnapshot(t *testing.T) {
	store := storage.NewMemoryStore()
	now := time.Now()
	err := store.Put(context.Background(), storage.Snapshot{
		TickedAt: now,
		Outcome:  storage.OutcomeOK,
		Decision: policy.DecisionState{LastAction: policy.ActionStart, DecidedAt: now},
		Action:   policy.ActionStart,
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	mux := testMux(t, store, &fakeCharger{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/current", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Voltloop-Stale") != "" {
		t.Error("fresh snapshot must not carry the stale header")
	}

	var got storage.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.Outcome != storage.OutcomeOK || got.Action != policy.ActionStart {
		t.Errorf("body = %+v", got)
	}
}

func TestStatusStaleHeader(t *testing.T) {
	store := storage.NewMemoryStore()
	err := store.Put(context.Background(), storage.Snapshot{
		TickedAt: time.Now().Add(-time.Hour),
		Outcome:  storage.OutcomeOK,
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	mux := testMux(t, store, &fakeCharger{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/current", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Voltloop-Stale") != "true" {
		t.Error("old snapshot should carry the stale header")
	}
}

func TestGetConfig(t *testing.T) {
	mux := testMux(t, storage.NewMemoryStore(), &fakeCharger{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var got settings.Values
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.ThresholdCents != 25 || !got.AutoMode {
		t.Errorf("config = %+v", got)
	}
}

func TestPutConfig(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"update threshold", `{"thresholdCents": 30}`, http.StatusOK},
		{"disable auto mode", `{"autoMode": false}`, http.StatusOK},
		{"invalid hysteresis", `{"hysteresisRatio": 0.5}`, http.StatusBadRequest},
		{"malformed json", `{"thresholdCents": `, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := testMux(t, storage.NewMemoryStore(), &fakeCharger{})

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPut, "/config", strings.NewReader(tt.body))
			mux.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestPutConfigRoundTrips(t *testing.T) {
	mux := testMux(t, storage.NewMemoryStore(), &fakeCharger{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/config", strings.NewReader(`{"thresholdCents": 32.5}`))
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/config", nil))

	var got settings.Values
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got.ThresholdCents != 32.5 {
		t.Errorf("threshold = %v, want 32.5", got.ThresholdCents)
	}
}

func TestForceEndpoints(t *testing.T) {
	charger := &fakeCharger{}
	mux := testMux(t, storage.NewMemoryStore(), charger)

	for _, path := range []string{"/charge/start", "/charge/stop"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("POST %s status = %d, want 200", path, rec.Code)
		}
	}

	if len(charger.actions) != 2 ||
		charger.actions[0] != policy.ActionStart ||
		charger.actions[1] != policy.ActionStop {
		t.Errorf("forced actions = %v", charger.actions)
	}
}

func TestForceEndpointGatewayError(t *testing.T) {
	charger := &fakeCharger{err: errors.New("charger fault")}
	mux := testMux(t, storage.NewMemoryStore(), charger)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/charge/start", nil))

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	mux := testMux(t, storage.NewMemoryStore(), &fakeCharger{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
