package vehicle

import (
	"context"
	"sync"
	"time"
)

// Mock is an in-memory Gateway for tests and local development. It
// tracks plug and charge state, honors start/stop commands, and can be
// told to fail specific calls.
type Mock struct {
	mu        sync.Mutex
	pluggedIn bool
	state     ChargingState
	battery   int

	statusErr  error
	commandErr error

	statusCalls int
	startCalls  int
	stopCalls   int
}

// NewMock returns a plugged-in, not-charging vehicle at 50% battery.
func NewMock() *Mock {
	return &Mock{
		pluggedIn: true,
		state:     StateNotCharging,
		battery:   50,
	}
}

func (m *Mock) Status(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.statusCalls++
	if m.statusErr != nil {
		return Snapshot{}, m.statusErr
	}
	return Snapshot{
		PluggedIn:      m.pluggedIn,
		State:          m.state,
		BatteryPercent: m.battery,
		FetchedAt:      time.Now(),
	}, nil
}

func (m *Mock) StartCharging(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.startCalls++
	if m.commandErr != nil {
		return m.commandErr
	}
	if m.pluggedIn {
		m.state = StateCharging
	}
	return nil
}

func (m *Mock) StopCharging(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopCalls++
	if m.commandErr != nil {
		return m.commandErr
	}
	if m.state == StateCharging {
		m.state = StateNotCharging
	}
	return nil
}

// SetPluggedIn updates the simulated plug state.
func (m *Mock) SetPluggedIn(plugged bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pluggedIn = plugged
	if !plugged {
		m.state = StateNotCharging
	}
}

// SetState overrides the simulated charging state.
func (m *Mock) SetState(state ChargingState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// SetBattery sets the simulated battery percentage.
func (m *Mock) SetBattery(percent int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.battery = percent
}

// FailStatus makes Status return err until cleared with nil.
func (m *Mock) FailStatus(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusErr = err
}

// FailCommands makes Start/StopCharging return err until cleared with nil.
func (m *Mock) FailCommands(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commandErr = err
}

// Calls reports how many status, start, and stop calls were made.
func (m *Mock) Calls() (status, start, stop int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls, m.startCalls, m.stopCalls
}
