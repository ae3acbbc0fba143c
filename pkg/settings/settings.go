// Package settings holds the controller's runtime-mutable configuration.
// The operator API mutates it while the control loop reads it every
// tick, so all access goes through one RWMutex.
package settings

import (
	"errors"
	"sync"
	"time"
)

// Values is one consistent view of the runtime settings.
type Values struct {
	// ThresholdCents is the price at or below which charging is permitted.
	ThresholdCents float64 `json:"thresholdCents"`

	// HysteresisRatio widens the stop boundary for a charging vehicle.
	HysteresisRatio float64 `json:"hysteresisRatio"`

	// PollInterval is the delay between control loop ticks.
	PollInterval time.Duration `json:"pollInterval"`

	// AutoMode gates automatic commanding. When false the loop still
	// polls and records decisions but issues no charge commands.
	AutoMode bool `json:"autoMode"`

	// TargetSOCPercent stops charging at this battery level. 0 disables.
	TargetSOCPercent int `json:"targetSocPercent"`

	// MockPriceCents replaces the live price when non-nil. Testing aid.
	MockPriceCents *float64 `json:"mockPriceCents,omitempty"`
}

// Update carries a partial settings change; nil fields are untouched.
type Update struct {
	ThresholdCents   *float64       `json:"thresholdCents,omitempty"`
	HysteresisRatio  *float64       `json:"hysteresisRatio,omitempty"`
	PollInterval     *time.Duration `json:"pollInterval,omitempty"`
	AutoMode         *bool          `json:"autoMode,omitempty"`
	TargetSOCPercent *int           `json:"targetSocPercent,omitempty"`

	// MockPriceCents set with SetMockPrice true applies the override;
	// SetMockPrice true with a nil value clears it.
	MockPriceCents *float64 `json:"mockPriceCents,omitempty"`
	SetMockPrice   bool     `json:"setMockPrice,omitempty"`
}

const (
	minPollInterval = 10 * time.Second
	maxPollInterval = time.Hour
)

// Store is the synchronized settings holder.
type Store struct {
	mu sync.RWMutex
	v  Values
}

// New validates the initial values and returns a store holding them.
func New(initial Values) (*Store, error) {
	if err := validate(initial); err != nil {
		return nil, err
	}
	return &Store{v: initial}, nil
}

// Current returns a copy of the settings. The MockPriceCents pointer is
// duplicated so callers cannot mutate the stored value.
func (s *Store) Current() Values {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v.clone()
}

// Apply validates the update against the current values and commits it
// atomically. On error nothing changes.
func (s *Store) Apply(u Update) (Values, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.v.clone()
	if u.ThresholdCents != nil {
		next.ThresholdCents = *u.ThresholdCents
	}
	if u.HysteresisRatio != nil {
		next.HysteresisRatio = *u.HysteresisRatio
	}
	if u.PollInterval != nil {
		next.PollInterval = *u.PollInterval
	}
	if u.AutoMode != nil {
		next.AutoMode = *u.AutoMode
	}
	if u.TargetSOCPercent != nil {
		next.TargetSOCPercent = *u.TargetSOCPercent
	}
	if u.SetMockPrice {
		next.MockPriceCents = u.MockPriceCents
	}

	if err := validate(next); err != nil {
		return Values{}, err
	}

	s.v = next
	return next.clone(), nil
}

func (v Values) clone() Values {
	out := v
	if v.MockPriceCents != nil {
		p := *v.MockPriceCents
		out.MockPriceCents = &p
	}
	return out
}

func validate(v Values) error {
	if v.ThresholdCents < 0 {
		return errors.New("threshold must not be negative")
	}
	if v.HysteresisRatio < 1 {
		return errors.New("hysteresis ratio must be >= 1")
	}
	if v.PollInterval < minPollInterval || v.PollInterval > maxPollInterval {
		return errors.New("poll interval must be between 10s and 1h")
	}
	if v.TargetSOCPercent < 0 || v.TargetSOCPercent > 100 {
		return errors.New("target SoC must be between 0 and 100")
	}
	return nil
}
