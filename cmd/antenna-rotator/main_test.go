package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signalsfoundry/rotortrack/core"
	"github.com/signalsfoundry/rotortrack/internal/channel"
	"github.com/signalsfoundry/rotortrack/internal/config"
	"github.com/signalsfoundry/rotortrack/internal/logging"
	"github.com/signalsfoundry/rotortrack/model"
	"github.com/signalsfoundry/rotortrack/timectrl"
)

func TestRotatorStartupSmoke(t *testing.T) {
	bus := channel.NewBus()
	defer bus.Close()

	reports := make(chan string, 8)
	if _, err := bus.Subscribe("antenna/data", func(m channel.Message) {
		select {
		case reports <- m.Payload:
		default:
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cfg := config.Default()
	cfg.RotatorMetricsAddr = ""
	cfg.Rotator.PollInterval = 5 * time.Millisecond
	cfg.InitialPosition = model.AngularPosition{Azimuth: 280, Elevation: 10}
	log := logging.New(logging.Config{Level: "warn", Format: "text"})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, cfg, log, bus, simulatedDriver(timectrl.NewFakeClock(time.Unix(0, 0))))
	}()

	expect := func(want string) {
		t.Helper()
		select {
		case got := <-reports:
			if got != want {
				t.Fatalf("report = %q, want %q", got, want)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("no report %q", want)
		}
	}
	expect("[280,10]")

	if err := bus.Publish(context.Background(), "controller", "[+006,+04]"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	expect("[286,14]")

	// Out of travel: the rotator halts and run returns the error.
	if err := bus.Publish(context.Background(), "controller", "[+100,+00]"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, core.ErrOutOfBounds) {
			t.Fatalf("run returned %v, want ErrOutOfBounds", err)
		}
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatalf("rotator did not halt")
	}
	cancel()
}
