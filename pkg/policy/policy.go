// Package policy decides whether the vehicle should be charging
// given the current spot price and the latest telemetry, using a
// deterministic threshold-and-hysteresis rule set.
package policy

import (
	"time"

	"github.com/voltloop/voltloop/pkg/vehicle"
)

// Action is the outcome of one policy evaluation.
type Action string

const (
	// ActionStart means a start-charging command should be issued.
	ActionStart Action = "start"

	// ActionStop means a stop-charging command should be issued.
	ActionStop Action = "stop"

	// ActionContinue means the current state is already correct; no command.
	ActionContinue Action = "continue"

	// ActionHold means telemetry cannot be trusted (unknown or stale);
	// no command is issued and the condition is surfaced to observers.
	ActionHold Action = "hold"
)

// Commands reports whether the action results in a gateway command.
func (a Action) Commands() bool {
	return a == ActionStart || a == ActionStop
}

// Rules defines the charging decision parameters.
type Rules struct {
	// ThresholdCents is the price at or below which charging is permitted.
	ThresholdCents float64

	// HysteresisRatio widens the stop boundary for a vehicle that is
	// already charging: charging stops only above ThresholdCents *
	// HysteresisRatio. Values <= 1 are treated as 1 (no hysteresis band).
	HysteresisRatio float64

	// TargetSOCPercent stops charging once the battery reaches this level
	// regardless of price. 0 disables the guard.
	TargetSOCPercent int

	// StaleAfter is the maximum telemetry age the policy will act on.
	// Snapshots older than this yield ActionHold.
	StaleAfter time.Duration
}

// Input carries everything one evaluation needs. Evaluate is a pure
// function of this struct; it performs no I/O and keeps no state.
type Input struct {
	Snapshot   vehicle.Snapshot
	PriceCents float64
	Rules      Rules

	// Now anchors the staleness check so callers (and tests) control time.
	Now time.Time
}

// Evaluate maps price and telemetry to the next action.
//
// Order matters: untrusted telemetry holds before anything else, an
// unplugged vehicle can never be told to start, and the SoC guard
// preempts the price rules. Only then do the threshold rules apply,
// with the hysteresis band keeping a charging vehicle charging while
// the price sits between the threshold and the widened stop boundary.
func Evaluate(in Input) Action {
	r := in.Rules
	if r.HysteresisRatio < 1 {
		r.HysteresisRatio = 1
	}

	snap := in.Snapshot
	if snap.State == vehicle.StateUnknown {
		return ActionHold
	}
	if r.StaleAfter > 0 && in.Now.Sub(snap.FetchedAt) > r.StaleAfter {
		return ActionHold
	}

	if !snap.PluggedIn {
		if snap.State == vehicle.StateCharging {
			// Telemetry disagrees with itself; stopping is the safe side.
			return ActionStop
		}
		return ActionContinue
	}

	if r.TargetSOCPercent > 0 && snap.BatteryPercent >= 0 && snap.BatteryPercent >= r.TargetSOCPercent {
		if snap.State == vehicle.StateCharging {
			return ActionStop
		}
		return ActionContinue
	}

	if snap.State == vehicle.StateCharging {
		if in.PriceCents > r.ThresholdCents*r.HysteresisRatio {
			return ActionStop
		}
		return ActionContinue
	}

	// Not charging (includes StateError: a start attempt is the only way out).
	if in.PriceCents <= r.ThresholdCents {
		return ActionStart
	}
	return ActionContinue
}

// DecisionState records the last action the controller committed to and
// when it was taken. The control loop owns the single mutable instance;
// observers only ever see copies.
type DecisionState struct {
	LastAction Action    `json:"lastAction"`
	DecidedAt  time.Time `json:"decidedAt"`
	Forced     bool      `json:"forced"`
}
