package policy

import (
	"testing"
	"time"

	"github.com/voltloop/voltloop/pkg/vehicle"
)

func TestEvaluate(t *testing.T) {
	now := time.Now()
	rules := Rules{
		ThresholdCents:  25,
		HysteresisRatio: 1.2,
		StaleAfter:      5 * time.Minute,
	}

	fresh := func(plugged bool, state vehicle.ChargingState) vehicle.Snapshot {
		return vehicle.Snapshot{
			PluggedIn:      plugged,
			State:          state,
			BatteryPercent: 50,
			FetchedAt:      now,
		}
	}

	tests := []struct {
		name     string
		snapshot vehicle.Snapshot
		price    float64
		rules    Rules
		want     Action
	}{
		{
			name:     "cheap price starts charging",
			snapshot: fresh(true, vehicle.StateNotCharging),
			price:    20,
			rules:    rules,
			want:     ActionStart,
		},
		{
			name:     "price at threshold starts charging",
			snapshot: fresh(true, vehicle.StateNotCharging),
			price:    25,
			rules:    rules,
			want:     ActionStart,
		},
		{
			name:     "expensive price leaves idle vehicle alone",
			snapshot: fresh(true, vehicle.StateNotCharging),
			price:    28,
			rules:    rules,
			want:     ActionContinue,
		},
		{
			name:     "price inside hysteresis band keeps charging",
			snapshot: fresh(true, vehicle.StateCharging),
			price:    28,
			rules:    rules,
			want:     ActionContinue,
		},
		{
			name:     "price at stop boundary keeps charging",
			snapshot: fresh(true, vehicle.StateCharging),
			price:    30,
			rules:    rules,
			want:     ActionContinue,
		},
		{
			name:     "price above stop boundary stops charging",
			snapshot: fresh(true, vehicle.StateCharging),
			price:    31,
			rules:    rules,
			want:     ActionStop,
		},
		{
			name:     "negative price starts charging",
			snapshot: fresh(true, vehicle.StateNotCharging),
			price:    -5,
			rules:    rules,
			want:     ActionStart,
		},
		{
			name:     "cheap price while already charging continues",
			snapshot: fresh(true, vehicle.StateCharging),
			price:    10,
			rules:    rules,
			want:     ActionContinue,
		},
		{
			name:     "unplugged vehicle never starts",
			snapshot: fresh(false, vehicle.StateNotCharging),
			price:    1,
			rules:    rules,
			want:     ActionContinue,
		},
		{
			name:     "unplugged but reporting charging stops",
			snapshot: fresh(false, vehicle.StateCharging),
			price:    1,
			rules:    rules,
			want:     ActionStop,
		},
		{
			name: "stale telemetry holds",
			snapshot: vehicle.Snapshot{
				PluggedIn: true,
				State:     vehicle.StateNotCharging,
				FetchedAt: now.Add(-10 * time.Minute),
			},
			price: 1,
			rules: rules,
			want:  ActionHold,
		},
		{
			name:     "unknown state holds",
			snapshot: fresh(true, vehicle.StateUnknown),
			price:    1,
			rules:    rules,
			want:     ActionHold,
		},
		{
			name:     "error state retries with start when price is cheap",
			snapshot: fresh(true, vehicle.StateError),
			price:    10,
			rules:    rules,
			want:     ActionStart,
		},
		{
			name:     "no hysteresis when ratio is 1",
			snapshot: fresh(true, vehicle.StateCharging),
			price:    26,
			rules:    Rules{ThresholdCents: 25, HysteresisRatio: 1, StaleAfter: 5 * time.Minute},
			want:     ActionStop,
		},
		{
			name:     "ratio below 1 treated as 1",
			snapshot: fresh(true, vehicle.StateCharging),
			price:    26,
			rules:    Rules{ThresholdCents: 25, HysteresisRatio: 0.5, StaleAfter: 5 * time.Minute},
			want:     ActionStop,
		},
		{
			name:     "zero stale window disables staleness check",
			snapshot: vehicle.Snapshot{PluggedIn: true, State: vehicle.StateNotCharging, FetchedAt: now.Add(-time.Hour)},
			price:    10,
			rules:    Rules{ThresholdCents: 25, HysteresisRatio: 1.2},
			want:     ActionStart,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(Input{
				Snapshot:   tt.snapshot,
				PriceCents: tt.price,
				Rules:      tt.rules,
				Now:        now,
			})
			if got != tt.want {
				t.Errorf("Evaluate() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEvaluateTargetSOC(t *testing.T) {
	now := time.Now()
	rules := Rules{
		ThresholdCents:   25,
		HysteresisRatio:  1.2,
		TargetSOCPercent: 80,
		StaleAfter:       5 * time.Minute,
	}

	snap := func(state vehicle.ChargingState, battery int) vehicle.Snapshot {
		return vehicle.Snapshot{
			PluggedIn:      true,
			State:          state,
			BatteryPercent: battery,
			FetchedAt:      now,
		}
	}

	tests := []struct {
		name     string
		snapshot vehicle.Snapshot
		price    float64
		want     Action
	}{
		{"charging at target stops", snap(vehicle.StateCharging, 80), 10, ActionStop},
		{"charging above target stops", snap(vehicle.StateCharging, 95), 10, ActionStop},
		{"idle at target stays idle despite cheap price", snap(vehicle.StateNotCharging, 80), 10, ActionContinue},
		{"below target follows price", snap(vehicle.StateNotCharging, 79), 10, ActionStart},
		{"unknown battery level ignores guard", snap(vehicle.StateNotCharging, -1), 10, ActionStart},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(Input{Snapshot: tt.snapshot, PriceCents: tt.price, Rules: rules, Now: now})
			if got != tt.want {
				t.Errorf("Evaluate() = %q, want %q", got, tt.want)
			}
		})
	}
}

// Identical inputs must always produce identical actions.
func TestEvaluateDeterministic(t *testing.T) {
	now := time.Now()
	in := Input{
		Snapshot: vehicle.Snapshot{
			PluggedIn: true,
			State:     vehicle.StateCharging,
			FetchedAt: now,
		},
		PriceCents: 27.5,
		Rules:      Rules{ThresholdCents: 25, HysteresisRatio: 1.2, StaleAfter: 5 * time.Minute},
		Now:        now,
	}

	first := Evaluate(in)
	for i := 0; i < 100; i++ {
		if got := Evaluate(in); got != first {
			t.Fatalf("iteration %d: Evaluate() = %q, want %q", i, got, first)
		}
	}
}

func TestActionCommands(t *testing.T) {
	tests := []struct {
		action Action
		want   bool
	}{
		{ActionStart, true},
		{ActionStop, true},
		{ActionContinue, false},
		{ActionHold, false},
	}
	for _, tt := range tests {
		if got := tt.action.Commands(); got != tt.want {
			t.Errorf("%q.Commands() = %v, want %v", tt.action, got, tt.want)
		}
	}
}
