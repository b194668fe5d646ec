package main

import (
	"context"
	"testing"
	"time"

	"github.com/signalsfoundry/rotortrack/internal/channel"
	"github.com/signalsfoundry/rotortrack/internal/config"
	"github.com/signalsfoundry/rotortrack/internal/logging"
	"github.com/signalsfoundry/rotortrack/internal/tracker"
)

func TestControllerStartupSmoke(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus := channel.NewBus()
	defer bus.Close()

	commands := make(chan string, 4)
	if _, err := bus.Subscribe("controller", func(m channel.Message) {
		select {
		case commands <- m.Payload:
		default:
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cfg := config.Default()
	cfg.Controller.PollInterval = 5 * time.Millisecond
	cfg.Status.Addr = "127.0.0.1:0"
	log := logging.New(logging.Config{Level: "warn", Format: "text"})
	src := tracker.SourceFunc(func(context.Context) (string, error) { return "SNAO-27 AZ286.6 EL13.9", nil })

	runCtx, stop := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- run(runCtx, cfg, log, src, bus) }()

	// Report until the controller has subscribed and answers with a command.
	var got string
	for got == "" {
		if err := bus.Publish(ctx, "antenna/data", "[280,10]"); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		select {
		case got = <-commands:
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			t.Fatalf("no command published")
		}
	}
	if got != "[+007,+04]" {
		t.Fatalf("command = %q", got)
	}

	stop()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("controller did not shut down")
	}
}

func TestOpenSourceRejectsUnknownKind(t *testing.T) {
	if _, _, err := openSource(config.TrackerConfig{Source: "radio"}); err == nil {
		t.Fatalf("expected error")
	}
	if _, _, err := openSource(config.TrackerConfig{Source: config.SourceFile, File: "/nonexistent/rotortrack.txt"}); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
