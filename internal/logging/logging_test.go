package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/signalsfoundry/rotortrack/model"
)

func TestNewJSONWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "controller")).Info(context.Background(), "command sent",
		String("payload", "[+006,+04]"),
		Bool("ready", false),
		Err(errors.New("boom")),
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if rec["msg"] != "command sent" {
		t.Fatalf("msg = %v, want %q", rec["msg"], "command sent")
	}
	if rec["component"] != "controller" {
		t.Fatalf("component = %v, want controller", rec["component"])
	}
	if rec["payload"] != "[+006,+04]" {
		t.Fatalf("payload = %v", rec["payload"])
	}
	if rec["ready"] != false {
		t.Fatalf("ready = %v, want false", rec["ready"])
	}
	if rec["error"] != "boom" {
		t.Fatalf("error = %v, want boom", rec["error"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info message leaked at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn message missing: %q", out)
	}
}

func TestPositionAndCommandGroups(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Format: "json", Process: "antenna-controller", Output: &buf})

	log.Info(context.Background(), "command sent",
		Position("from", model.AngularPosition{Azimuth: 280, Elevation: 10}),
		Command("command", model.MotionCommand{DeltaAzimuth: 6, DeltaElevation: -4}),
	)

	var rec struct {
		Process string         `json:"process"`
		From    map[string]int `json:"from"`
		Command map[string]int `json:"command"`
	}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	if rec.Process != "antenna-controller" {
		t.Fatalf("process = %q", rec.Process)
	}
	if rec.From["az"] != 280 || rec.From["el"] != 10 {
		t.Fatalf("from = %v", rec.From)
	}
	if rec.Command["daz"] != 6 || rec.Command["del"] != -4 {
		t.Fatalf("command = %v", rec.Command)
	}
}

func TestSubscriberIDsAreSequential(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Format: "json", Output: &buf})

	l1, id1 := Subscriber(base, "antenna/#")
	_, id2 := Subscriber(base, "controller")
	if id1 == id2 || !strings.HasPrefix(id1, "sub-") {
		t.Fatalf("ids %q and %q", id1, id2)
	}

	l1.Info(context.Background(), "subscriber attached")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if rec["subscriber_id"] != id1 || rec["pattern"] != "antenna/#" {
		t.Fatalf("record = %v", rec)
	}
}

func TestEnvOrPrefersFirstSetKey(t *testing.T) {
	t.Setenv("ROTOR_LOG_LEVEL", "")
	t.Setenv("LOG_LEVEL", "debug")
	if got := envOr("ROTOR_LOG_LEVEL", "LOG_LEVEL"); got != "debug" {
		t.Fatalf("fallback = %q", got)
	}
	t.Setenv("ROTOR_LOG_LEVEL", "error")
	if got := envOr("ROTOR_LOG_LEVEL", "LOG_LEVEL"); got != "error" {
		t.Fatalf("preferred = %q", got)
	}
}

func TestNoopIsSilent(t *testing.T) {
	l := Noop().With(String("k", "v"))
	l.Error(context.Background(), "nothing")
	if _, ok := l.(noopLogger); !ok {
		t.Fatalf("With on Noop returned %T", l)
	}
}
