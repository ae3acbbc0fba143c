// Package metrics provides Prometheus metrics instrumentation for the
// charging controller.
//
// Metrics exposed:
//   - voltloop_tick_seconds: Histogram of full control loop tick duration
//   - voltloop_price_fetch_seconds: Histogram of price fetch duration
//   - voltloop_vehicle_fetch_seconds: Histogram of vehicle fetch duration
//   - voltloop_spot_price_cents: Gauge of the current general-channel price
//   - voltloop_feed_in_cents: Gauge of the current feed-in price
//   - voltloop_battery_percent: Gauge of the vehicle battery level
//   - voltloop_charging: Gauge, 1 while the vehicle reports charging
//   - voltloop_last_action: Gauge vec, 1 on the action the last tick chose
//   - voltloop_consecutive_failures: Gauge of failed ticks since last success
//   - voltloop_errors_total: Counter of errors by component and reason
//   - voltloop_commands_total: Counter of charge commands by command and result
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the controller.
type Metrics struct {
	TickSeconds         prometheus.Histogram
	PriceFetchSeconds   prometheus.Histogram
	VehicleFetchSeconds prometheus.Histogram
	SpotPriceCents      prometheus.Gauge
	FeedInCents         prometheus.Gauge
	BatteryPercent      prometheus.Gauge
	Charging            prometheus.Gauge
	LastAction          *prometheus.GaugeVec
	ConsecutiveFailures prometheus.Gauge
	ErrorsTotal         *prometheus.CounterVec
	CommandsTotal       *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		TickSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voltloop_tick_seconds",
			Help:    "Time spent on one full control loop tick",
			Buckets: prometheus.DefBuckets,
		}),

		PriceFetchSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voltloop_price_fetch_seconds",
			Help:    "Time spent fetching prices from the price source",
			Buckets: prometheus.DefBuckets,
		}),

		VehicleFetchSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "voltloop_vehicle_fetch_seconds",
			Help:    "Time spent fetching vehicle telemetry",
			Buckets: prometheus.DefBuckets,
		}),

		SpotPriceCents: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voltloop_spot_price_cents",
			Help: "Current general-channel spot price in cents per kWh",
		}),

		FeedInCents: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voltloop_feed_in_cents",
			Help: "Current feed-in price in cents per kWh",
		}),

		BatteryPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voltloop_battery_percent",
			Help: "Vehicle battery level percent (-1 when unknown)",
		}),

		Charging: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voltloop_charging",
			Help: "1 while the vehicle reports charging, 0 otherwise",
		}),

		LastAction: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "voltloop_last_action",
			Help: "1 on the action the last tick chose, 0 on the others",
		}, []string{"action"}),

		ConsecutiveFailures: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "voltloop_consecutive_failures",
			Help: "Number of consecutive failed ticks",
		}),

		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voltloop_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),

		CommandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "voltloop_commands_total",
			Help: "Total number of charge commands by command and result",
		}, []string{"command", "result"}),
	}
}

// RecordTick records the duration of one control loop tick.
func (m *Metrics) RecordTick(seconds float64) {
	m.TickSeconds.Observe(seconds)
}

// RecordPriceFetch records the duration of a price fetch.
func (m *Metrics) RecordPriceFetch(seconds float64) {
	m.PriceFetchSeconds.Observe(seconds)
}

// RecordVehicleFetch records the duration of a vehicle telemetry fetch.
func (m *Metrics) RecordVehicleFetch(seconds float64) {
	m.VehicleFetchSeconds.Observe(seconds)
}

// SetSpotPrice sets the current spot price gauge.
func (m *Metrics) SetSpotPrice(cents float64) {
	m.SpotPriceCents.Set(cents)
}

// SetFeedIn sets the current feed-in price gauge.
func (m *Metrics) SetFeedIn(cents float64) {
	m.FeedInCents.Set(cents)
}

// SetBattery sets the battery level gauge.
func (m *Metrics) SetBattery(percent int) {
	m.BatteryPercent.Set(float64(percent))
}

// SetCharging sets the charging gauge.
func (m *Metrics) SetCharging(charging bool) {
	if charging {
		m.Charging.Set(1)
	} else {
		m.Charging.Set(0)
	}
}

// SetLastAction marks the given action as the latest decision.
func (m *Metrics) SetLastAction(action string) {
	for _, a := range []string{"start", "stop", "continue", "hold"} {
		v := 0.0
		if a == action {
			v = 1
		}
		m.LastAction.WithLabelValues(a).Set(v)
	}
}

// SetConsecutiveFailures sets the failed tick gauge.
func (m *Metrics) SetConsecutiveFailures(n int) {
	m.ConsecutiveFailures.Set(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// RecordCommand increments the command counter.
func (m *Metrics) RecordCommand(command, result string) {
	m.CommandsTotal.WithLabelValues(command, result).Inc()
}
