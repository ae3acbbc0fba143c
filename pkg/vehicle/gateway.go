// Package vehicle talks to the vehicle-control service: telemetry
// reads and remote start/stop charge commands, behind a session that is
// re-acquired only when missing or rejected.
package vehicle

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable covers transport failures and any condition where
	// the control service could not be reached or gave no usable answer.
	ErrUnavailable = errors.New("vehicle service unavailable")

	// ErrCommandRejected means the service answered but refused the
	// charge command with a non-success acknowledgment.
	ErrCommandRejected = errors.New("charge command rejected")

	// ErrAuthFailed means login was refused or the session was revoked.
	// The gateway drops its session so the next call logs in fresh.
	ErrAuthFailed = errors.New("vehicle authentication failed")
)

// ChargingState is the vehicle's reported charge activity.
type ChargingState string

const (
	StateNotCharging ChargingState = "not_charging"
	StateCharging    ChargingState = "charging"
	StateError       ChargingState = "error"
	StateUnknown     ChargingState = "unknown"
)

// Snapshot is one observation of vehicle telemetry.
type Snapshot struct {
	PluggedIn bool          `json:"pluggedIn"`
	State     ChargingState `json:"state"`

	// BatteryPercent is 0-100, or -1 when the service omitted it.
	BatteryPercent int `json:"batteryPercent"`

	FetchedAt time.Time `json:"fetchedAt"`
}

// Gateway is the control surface the charging loop drives.
//
// StartCharging when the vehicle already charges is safe: the call is
// still made whenever the policy says charge, and the vehicle firmware
// treats the duplicate as a no-op.
type Gateway interface {
	// Status fetches fresh telemetry. Returns ErrAuthFailed or
	// ErrUnavailable; never a partially populated snapshot.
	Status(ctx context.Context) (Snapshot, error)

	// StartCharging asks the vehicle to begin drawing power.
	StartCharging(ctx context.Context) error

	// StopCharging asks the vehicle to stop drawing power.
	StopCharging(ctx context.Context) error
}

// CaptchaSolver answers the login CAPTCHA challenge. The solving
// mechanics (external solver service, human in the loop) are the
// implementation's business; the gateway only needs the code back.
type CaptchaSolver interface {
	Solve(ctx context.Context, imageBase64 string) (string, error)
}
