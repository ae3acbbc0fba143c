// Package main implements the charging control loop.
//
// This file contains the Controller type which orchestrates one tick:
//
//	fetch prices + telemetry → evaluate policy → command → store snapshot
//
// The Controller runs continuously via Run(), executing Tick() at the
// configured poll interval. Ticks are strictly sequential: a slow tick
// delays the next one rather than overlapping it. After a failed tick
// the next one is scheduled with exponential backoff instead of the
// poll interval.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/voltloop/voltloop/cmd/controller/metrics"
	"github.com/voltloop/voltloop/pkg/policy"
	"github.com/voltloop/voltloop/pkg/pricing"
	"github.com/voltloop/voltloop/pkg/settings"
	"github.com/voltloop/voltloop/pkg/storage"
	"github.com/voltloop/voltloop/pkg/vehicle"
)

// PriceSource yields the current spot price and forecast.
type PriceSource interface {
	CurrentAndForecast(ctx context.Context) (pricing.Forecast, error)
}

// Controller orchestrates the charging control loop.
type Controller struct {
	prices     PriceSource
	gateway    vehicle.Gateway
	settings   *settings.Store
	store      storage.Store
	staleAfter time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// mu guards decision and failures: the loop and the operator API's
	// forced commands both touch them.
	mu       sync.Mutex
	decision policy.DecisionState
	failures int

	// snapMu serializes snapshot writes so ForceCharge's read-patch-write
	// cannot overwrite a tick that stored in between.
	snapMu sync.Mutex

	backoff *backoff.ExponentialBackOff

	// backoffBase is the poll interval the backoff was configured from.
	// The backoff only picks up a new InitialInterval on Reset, so a
	// runtime poll-interval change forces one.
	backoffBase time.Duration
}

// New creates a Controller.
func New(
	prices PriceSource,
	gateway vehicle.Gateway,
	sets *settings.Store,
	store storage.Store,
	staleAfter time.Duration,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Controller {
	if logger == nil {
		logger = slog.Default()
	}

	interval := sets.Current().PollInterval

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = interval
	bo.Multiplier = 2
	bo.MaxInterval = 8 * interval
	bo.MaxElapsedTime = 0
	bo.RandomizationFactor = 0
	bo.Reset()

	return &Controller{
		prices:      prices,
		gateway:     gateway,
		settings:    sets,
		store:       store,
		staleAfter:  staleAfter,
		logger:      logger,
		metrics:     m,
		backoff:     bo,
		backoffBase: interval,
	}
}

// Run executes the control loop until the context is canceled. The
// first tick happens immediately; each subsequent tick is scheduled for
// the poll interval after the previous one finished, or the backoff
// delay when the previous one failed.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("starting control loop", "interval", c.settings.Current().PollInterval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("control loop stopped")
			return ctx.Err()
		case <-timer.C:
		}

		delay := c.Tick(ctx)
		timer.Reset(delay)
	}
}

// Tick performs one control cycle and returns the delay before the
// next one. Exported for testing purposes.
func (c *Controller) Tick(ctx context.Context) time.Duration {
	start := time.Now()
	vals := c.settings.Current()
	c.logger.Debug("starting tick")

	forecast, snap, outcome, err := c.poll(ctx)
	if err != nil {
		return c.failTick(ctx, start, vals, forecast, snap, outcome, err)
	}

	price, priceSource := c.effectivePrice(forecast, vals)

	action := policy.Evaluate(policy.Input{
		Snapshot:   *snap,
		PriceCents: price,
		Rules: policy.Rules{
			ThresholdCents:   vals.ThresholdCents,
			HysteresisRatio:  vals.HysteresisRatio,
			TargetSOCPercent: vals.TargetSOCPercent,
			StaleAfter:       c.staleAfter,
		},
		Now: time.Now(),
	})

	if action == policy.ActionHold {
		c.logger.Warn("telemetry not trusted, holding", "state", snap.State, "fetched_at", snap.FetchedAt)
		return c.failTick(ctx, start, vals, forecast, snap, storage.OutcomeHold, errors.New("telemetry stale or unknown"))
	}

	if action.Commands() {
		if !vals.AutoMode {
			c.logger.Info("auto mode disabled, suppressing command", "action", action)
		} else if err := c.command(ctx, action); err != nil {
			outcome := storage.OutcomeCommandError
			if errors.Is(err, vehicle.ErrAuthFailed) {
				outcome = storage.OutcomeAuthError
			}
			return c.failTick(ctx, start, vals, forecast, snap, outcome, err)
		}
	}

	c.mu.Lock()
	if action.Commands() && vals.AutoMode {
		c.decision = policy.DecisionState{LastAction: action, DecidedAt: time.Now()}
	}
	decision := c.decision
	c.failures = 0
	c.mu.Unlock()

	c.backoff.Reset()

	nextTick := time.Now().Add(vals.PollInterval)
	c.storeSnapshot(ctx, storage.Snapshot{
		TickedAt:   start,
		Outcome:    storage.OutcomeOK,
		Forecast:   forecast,
		Vehicle:    snap,
		Decision:   decision,
		Action:     action,
		NextTickAt: nextTick,
	})

	c.observe(forecast, snap, 0)

	duration := time.Since(start)
	if c.metrics != nil {
		c.metrics.SetLastAction(string(action))
		c.metrics.RecordTick(duration.Seconds())
	}
	c.logger.Info("tick complete",
		"action", action,
		"price_cents", price,
		"price_source", priceSource,
		"plugged_in", snap.PluggedIn,
		"state", snap.State,
		"battery_percent", snap.BatteryPercent,
		"duration_ms", duration.Milliseconds(),
	)

	return vals.PollInterval
}

// poll fetches prices and telemetry concurrently. Each fetch gets one
// immediate retry; if either still fails the tick is discarded.
func (c *Controller) poll(ctx context.Context) (*pricing.Forecast, *vehicle.Snapshot, string, error) {
	var (
		wg       sync.WaitGroup
		forecast pricing.Forecast
		priceErr error
		snap     vehicle.Snapshot
		vehErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		start := time.Now()
		forecast, priceErr = c.prices.CurrentAndForecast(ctx)
		if priceErr != nil && ctx.Err() == nil {
			c.logger.Warn("price fetch failed, retrying", "error", priceErr)
			forecast, priceErr = c.prices.CurrentAndForecast(ctx)
		}
		if c.metrics != nil {
			c.metrics.RecordPriceFetch(time.Since(start).Seconds())
		}
	}()
	go func() {
		defer wg.Done()
		start := time.Now()
		snap, vehErr = c.gateway.Status(ctx)
		if vehErr != nil && ctx.Err() == nil {
			c.logger.Warn("vehicle fetch failed, retrying", "error", vehErr)
			snap, vehErr = c.gateway.Status(ctx)
		}
		if c.metrics != nil {
			c.metrics.RecordVehicleFetch(time.Since(start).Seconds())
		}
	}()
	wg.Wait()

	var fp *pricing.Forecast
	if priceErr == nil {
		fp = &forecast
	}
	var sp *vehicle.Snapshot
	if vehErr == nil {
		sp = &snap
	}

	switch {
	case priceErr != nil:
		if c.metrics != nil {
			c.metrics.RecordError("pricing", "fetch_failed")
		}
		return fp, sp, storage.OutcomePriceError, fmt.Errorf("fetch prices: %w", priceErr)
	case errors.Is(vehErr, vehicle.ErrAuthFailed):
		if c.metrics != nil {
			c.metrics.RecordError("vehicle", "auth_failed")
		}
		return fp, sp, storage.OutcomeAuthError, fmt.Errorf("fetch telemetry: %w", vehErr)
	case vehErr != nil:
		if c.metrics != nil {
			c.metrics.RecordError("vehicle", "fetch_failed")
		}
		return fp, sp, storage.OutcomeVehicleError, fmt.Errorf("fetch telemetry: %w", vehErr)
	}

	return fp, sp, storage.OutcomeOK, nil
}

// effectivePrice returns the price the policy should act on: the mock
// override when set, the live current price otherwise.
func (c *Controller) effectivePrice(forecast *pricing.Forecast, vals settings.Values) (float64, string) {
	if vals.MockPriceCents != nil {
		return *vals.MockPriceCents, "override"
	}
	quote, _ := forecast.Current()
	return quote.CentsPerKWh, "live"
}

// command issues the start or stop charge command for the given action.
func (c *Controller) command(ctx context.Context, action policy.Action) error {
	var err error
	switch action {
	case policy.ActionStart:
		err = c.gateway.StartCharging(ctx)
	case policy.ActionStop:
		err = c.gateway.StopCharging(ctx)
	default:
		return nil
	}

	result := "ok"
	if err != nil {
		result = "error"
		if c.metrics != nil {
			c.metrics.RecordError("vehicle", "command_failed")
		}
	}
	if c.metrics != nil {
		c.metrics.RecordCommand(string(action), result)
	}
	if err != nil {
		return fmt.Errorf("%s charging: %w", action, err)
	}

	c.logger.Info("charge command issued", "action", action)
	return nil
}

// failTick records a failed tick and returns the backoff delay.
func (c *Controller) failTick(
	ctx context.Context,
	start time.Time,
	vals settings.Values,
	forecast *pricing.Forecast,
	snap *vehicle.Snapshot,
	outcome string,
	err error,
) time.Duration {
	c.mu.Lock()
	c.failures++
	failures := c.failures
	decision := c.decision
	c.mu.Unlock()

	// A runtime poll-interval change restarts the streak at the new base:
	// the backoff reads InitialInterval only on Reset.
	if vals.PollInterval != c.backoffBase {
		c.backoff.InitialInterval = vals.PollInterval
		c.backoff.MaxInterval = 8 * vals.PollInterval
		c.backoffBase = vals.PollInterval
		c.backoff.Reset()
	}
	delay := c.backoff.NextBackOff()

	c.storeSnapshot(ctx, storage.Snapshot{
		TickedAt:            start,
		Outcome:             outcome,
		Error:               err.Error(),
		Forecast:            forecast,
		Vehicle:             snap,
		Decision:            decision,
		Action:              policy.ActionHold,
		ConsecutiveFailures: failures,
		NextTickAt:          time.Now().Add(delay),
	})

	c.observe(forecast, snap, failures)

	if c.metrics != nil {
		c.metrics.SetLastAction(string(policy.ActionHold))
		c.metrics.RecordTick(time.Since(start).Seconds())
	}
	c.logger.Error("tick failed",
		"outcome", outcome,
		"error", err,
		"consecutive_failures", failures,
		"next_tick_in", delay,
	)

	return delay
}

// observe pushes whatever this tick learned into the gauges.
func (c *Controller) observe(forecast *pricing.Forecast, snap *vehicle.Snapshot, failures int) {
	if c.metrics == nil {
		return
	}

	c.metrics.SetConsecutiveFailures(failures)
	if forecast != nil {
		if quote, ok := forecast.Current(); ok {
			c.metrics.SetSpotPrice(quote.CentsPerKWh)
		}
		if forecast.FeedInCentsPerKWh != nil {
			c.metrics.SetFeedIn(*forecast.FeedInCentsPerKWh)
		}
	}
	if snap != nil {
		c.metrics.SetBattery(snap.BatteryPercent)
		c.metrics.SetCharging(snap.State == vehicle.StateCharging)
	}
}

// storeSnapshot persists the tick result for the operator surface.
func (c *Controller) storeSnapshot(ctx context.Context, snapshot storage.Snapshot) {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()
	c.putSnapshot(ctx, snapshot)
}

// putSnapshot writes without taking snapMu; callers hold it.
func (c *Controller) putSnapshot(ctx context.Context, snapshot storage.Snapshot) {
	putCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := c.store.Put(putCtx, snapshot); err != nil {
		if c.metrics != nil {
			c.metrics.RecordError("store", "put_failed")
		}
		c.logger.Error("failed to store snapshot", "error", err)
	}
}

// ForceCharge issues a manual start or stop command, bypassing the
// policy. The command still goes through the same gateway and decision
// bookkeeping as automatic commands.
func (c *Controller) ForceCharge(ctx context.Context, action policy.Action) error {
	if !action.Commands() {
		return fmt.Errorf("cannot force action %q", action)
	}

	if err := c.command(ctx, action); err != nil {
		return err
	}

	c.mu.Lock()
	c.decision = policy.DecisionState{LastAction: action, DecidedAt: time.Now(), Forced: true}
	decision := c.decision
	c.mu.Unlock()

	// Reflect the override on the stored snapshot so status readers see
	// it before the next tick. Held under snapMu so a tick storing in
	// between cannot be overwritten with the older copy.
	c.snapMu.Lock()
	if latest, found, err := c.store.GetLatest(ctx); err == nil && found {
		latest.Decision = decision
		c.putSnapshot(ctx, latest)
	}
	c.snapMu.Unlock()

	c.logger.Info("manual charge command", "action", action)
	return nil
}

// Decision returns a copy of the current decision state.
func (c *Controller) Decision() policy.DecisionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.decision
}
