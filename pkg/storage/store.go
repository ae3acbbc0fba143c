// Package storage holds the controller's latest tick snapshot so the
// operator API can serve status without touching the loop.
package storage

import (
	"context"
	"time"

	"github.com/voltloop/voltloop/pkg/policy"
	"github.com/voltloop/voltloop/pkg/pricing"
	"github.com/voltloop/voltloop/pkg/vehicle"
)

// Tick outcomes recorded on a snapshot.
const (
	OutcomeOK           = "ok"
	OutcomeHold         = "hold"
	OutcomePriceError   = "price_error"
	OutcomeVehicleError = "vehicle_error"
	OutcomeCommandError = "command_error"
	OutcomeAuthError    = "auth_error"
)

// Snapshot is the full observable result of one control loop tick.
// The loop replaces it wholesale; readers only ever see complete ticks.
type Snapshot struct {
	TickedAt time.Time `json:"tickedAt"`

	// Outcome is one of the Outcome* constants.
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`

	// Forecast and Vehicle are nil when the corresponding fetch failed.
	Forecast *pricing.Forecast `json:"forecast,omitempty"`
	Vehicle  *vehicle.Snapshot `json:"vehicle,omitempty"`

	Decision policy.DecisionState `json:"decision"`

	// Action the policy chose this tick (may differ from
	// Decision.LastAction, which only tracks commands).
	Action policy.Action `json:"action,omitempty"`

	ConsecutiveFailures int       `json:"consecutiveFailures"`
	NextTickAt          time.Time `json:"nextTickAt"`
}

// Store persists the latest snapshot. Implementations must be safe for
// one writer (the loop) and many readers (the operator API).
type Store interface {
	Put(ctx context.Context, snapshot Snapshot) error
	GetLatest(ctx context.Context) (Snapshot, bool, error)
}
