// Command chargectl is the operator CLI for the voltloop controller.
//
// It talks to a running controller's HTTP API to inspect the latest
// control loop tick, read or change runtime settings, and issue manual
// charge overrides.
//
// Usage:
//
//	chargectl [flags] <command>
//
// Commands:
//
//	status      Show the latest control loop snapshot
//	config      Show the current runtime settings
//	set         Update runtime settings (see set flags below)
//	start       Force a start-charging command
//	stop        Force a stop-charging command
//
// Flags:
//
//	-controller-url   Controller API endpoint (default: http://localhost:8082)
//	-threshold        New price threshold in c/kWh (set)
//	-hysteresis       New hysteresis ratio (set)
//	-poll-interval    New poll interval, e.g. 5m (set)
//	-auto-mode        Enable or disable automatic commanding (set)
//	-target-soc       Stop charging at this battery percent, 0 disables (set)
//	-mock-price       Price override in c/kWh for testing (set)
//	-clear-mock-price Remove the price override (set)
//
// Environment variables:
//
//	CONTROLLER_URL - Controller HTTP endpoint
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/voltloop/voltloop/pkg/settings"
	"github.com/voltloop/voltloop/pkg/storage"
)

func main() {
	var (
		controllerURL  = flag.String("controller-url", getEnv("CONTROLLER_URL", "http://localhost:8082"), "Controller API endpoint")
		threshold      = flag.Float64("threshold", -1, "New price threshold in c/kWh")
		hysteresis     = flag.Float64("hysteresis", -1, "New hysteresis ratio")
		pollInterval   = flag.Duration("poll-interval", 0, "New poll interval")
		autoMode       = flag.String("auto-mode", "", "Enable automatic commanding: true or false")
		targetSOC      = flag.Int("target-soc", -1, "Stop charging at this battery percent (0 disables)")
		mockPrice      = flag.Float64("mock-price", -1e9, "Price override in c/kWh for testing")
		clearMockPrice = flag.Bool("clear-mock-price", false, "Remove the price override")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: chargectl [flags] status|config|set|start|stop")
		os.Exit(2)
	}

	client := NewClient(*controllerURL, 10*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch flag.Arg(0) {
	case "status":
		err = runStatus(ctx, client)
	case "config":
		err = runConfig(ctx, client)
	case "set":
		update := settings.Update{}
		if *threshold >= 0 {
			update.ThresholdCents = threshold
		}
		if *hysteresis >= 0 {
			update.HysteresisRatio = hysteresis
		}
		if *pollInterval > 0 {
			update.PollInterval = pollInterval
		}
		if *autoMode != "" {
			enabled := *autoMode == "true"
			update.AutoMode = &enabled
		}
		if *targetSOC >= 0 {
			update.TargetSOCPercent = targetSOC
		}
		if *clearMockPrice {
			update.SetMockPrice = true
		} else if *mockPrice > -1e9 {
			update.MockPriceCents = mockPrice
			update.SetMockPrice = true
		}
		err = runSet(ctx, client, update)
	case "start":
		err = client.ForceCharge(ctx, true)
		if err == nil {
			fmt.Println("start command accepted")
		}
	case "stop":
		err = client.ForceCharge(ctx, false)
		if err == nil {
			fmt.Println("stop command accepted")
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", flag.Arg(0))
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runStatus(ctx context.Context, client *Client) error {
	snapshot, stale, err := client.Status(ctx)
	if err != nil {
		return err
	}

	printSnapshot(snapshot, stale)
	return nil
}

func printSnapshot(s storage.Snapshot, stale bool) {
	fmt.Printf("ticked at:    %s\n", s.TickedAt.Format(time.RFC3339))
	fmt.Printf("outcome:      %s\n", s.Outcome)
	if s.Error != "" {
		fmt.Printf("error:        %s\n", s.Error)
	}
	if stale {
		fmt.Println("warning:      snapshot is stale")
	}

	if s.Forecast != nil {
		if quote, ok := s.Forecast.Current(); ok {
			fmt.Printf("price:        %.1f c/kWh\n", quote.CentsPerKWh)
		}
		if s.Forecast.FeedInCentsPerKWh != nil {
			fmt.Printf("feed-in:      %.1f c/kWh\n", *s.Forecast.FeedInCentsPerKWh)
		}
	}

	if s.Vehicle != nil {
		fmt.Printf("plugged in:   %v\n", s.Vehicle.PluggedIn)
		fmt.Printf("state:        %s\n", s.Vehicle.State)
		if s.Vehicle.BatteryPercent >= 0 {
			fmt.Printf("battery:      %d%%\n", s.Vehicle.BatteryPercent)
		}
	}

	fmt.Printf("action:       %s\n", s.Action)
	if s.Decision.LastAction != "" {
		forced := ""
		if s.Decision.Forced {
			forced = " (forced)"
		}
		fmt.Printf("last command: %s at %s%s\n", s.Decision.LastAction, s.Decision.DecidedAt.Format(time.RFC3339), forced)
	}
	if s.ConsecutiveFailures > 0 {
		fmt.Printf("failures:     %d consecutive\n", s.ConsecutiveFailures)
	}
	fmt.Printf("next tick:    %s\n", s.NextTickAt.Format(time.RFC3339))
}

func runConfig(ctx context.Context, client *Client) error {
	values, err := client.Config(ctx)
	if err != nil {
		return err
	}
	printConfig(values)
	return nil
}

func runSet(ctx context.Context, client *Client, update settings.Update) error {
	values, err := client.UpdateConfig(ctx, update)
	if err != nil {
		return err
	}
	fmt.Println("settings updated")
	printConfig(values)
	return nil
}

func printConfig(v settings.Values) {
	fmt.Printf("threshold:    %.1f c/kWh\n", v.ThresholdCents)
	fmt.Printf("hysteresis:   %.2f\n", v.HysteresisRatio)
	fmt.Printf("poll every:   %s\n", v.PollInterval)
	fmt.Printf("auto mode:    %v\n", v.AutoMode)
	if v.TargetSOCPercent > 0 {
		fmt.Printf("target SoC:   %d%%\n", v.TargetSOCPercent)
	}
	if v.MockPriceCents != nil {
		fmt.Printf("mock price:   %.1f c/kWh\n", *v.MockPriceCents)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
