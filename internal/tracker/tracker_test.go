package tracker

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/rotortrack/model"
	"github.com/signalsfoundry/rotortrack/timectrl"
)

func TestParseLine(t *testing.T) {
	cases := []struct {
		name string
		line string
		want Reading
	}{
		{
			"full line",
			"SNAO-27 AZ286.6 EL13.9 UP145850654 UMFM DN436793042 DMFM MA115.7 RR1.3436095",
			Reading{Satellite: "SNAO-27", Position: model.AngularPosition{Azimuth: 287, Elevation: 14}},
		},
		{"half rounds to even down", "ISS AZ12.5 EL2.5", Reading{Satellite: "ISS", Position: model.AngularPosition{Azimuth: 12, Elevation: 2}}},
		{"half rounds to even up", "ISS AZ13.5 EL3.5", Reading{Satellite: "ISS", Position: model.AngularPosition{Azimuth: 14, Elevation: 4}}},
		{"azimuth wraps", "AO-91 AZ359.7 EL45.0", Reading{Satellite: "AO-91", Position: model.AngularPosition{Azimuth: 0, Elevation: 45}}},
		{"no name", "AZ10 EL20", Reading{Position: model.AngularPosition{Azimuth: 10, Elevation: 20}}},
		{"trailing newline", "X AZ1.0 EL1.0\r\n", Reading{Satellite: "X", Position: model.AngularPosition{Azimuth: 1, Elevation: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseLine(tc.line)
			if err != nil {
				t.Fatalf("ParseLine(%q): %v", tc.line, err)
			}
			if got != tc.want {
				t.Fatalf("ParseLine(%q) = %+v, want %+v", tc.line, got, tc.want)
			}
		})
	}
}

func TestParseLineErrors(t *testing.T) {
	cases := []struct {
		line string
		want error
	}{
		{"** NO SATELLITE **", ErrNoSatellite},
		{"** NO SATELLITE ** AZ10 EL10", ErrNoSatellite},
		{"SNAO-27 EL13.9 AZ286.6", ErrMalformedLine},
		{"SNAO-27 AZ286.6", ErrMalformedLine},
		{"SNAO-27 AZabc EL13.9", ErrMalformedLine},
		{"SNAO-27 AZ10 ELx", ErrMalformedLine},
		{"SNAO-27 AZ400 EL10", ErrMalformedLine},
		{"SNAO-27 AZNaN EL10", ErrMalformedLine},
		{"", ErrMalformedLine},
		{"SNAO-27 AZ100 EL-3.2", ErrBelowHorizon},
		{"SNAO-27 AZ100 EL90.6", ErrBelowHorizon},
	}
	for _, tc := range cases {
		if _, err := ParseLine(tc.line); !errors.Is(err, tc.want) {
			t.Errorf("ParseLine(%q) err = %v, want %v", tc.line, err, tc.want)
		}
	}
}

func TestTrackerAvailabilityFollowsSource(t *testing.T) {
	lines := []string{
		"SNAO-27 AZ286.0 EL14.0",
		"SNAO-27 AZgarbage EL14.0",
		"** NO SATELLITE **",
		"SNAO-27 AZ290.0 EL15.0",
	}
	i := 0
	src := SourceFunc(func(context.Context) (string, error) {
		l := lines[i]
		i++
		return l, nil
	})
	tr := New(src, nil, timectrl.NewFakeClock(time.Unix(0, 0)))
	ctx := context.Background()

	snap := tr.Update(ctx)
	if !snap.Available || snap.Target != (model.AngularPosition{Azimuth: 286, Elevation: 14}) {
		t.Fatalf("first update = %+v", snap)
	}

	snap = tr.Update(ctx)
	if snap.Available {
		t.Fatalf("malformed line should clear availability")
	}
	if snap.Target != (model.AngularPosition{Azimuth: 286, Elevation: 14}) {
		t.Fatalf("last good target should be kept, got %v", snap.Target)
	}
	if snap.Raw != lines[1] || snap.Error == "" {
		t.Fatalf("raw/error not recorded: %+v", snap)
	}

	if snap = tr.Update(ctx); snap.Available {
		t.Fatalf("sentinel should clear availability")
	}

	snap = tr.Update(ctx)
	if !snap.Available || snap.Target.Azimuth != 290 {
		t.Fatalf("reacquire = %+v", snap)
	}
	if tr.Snapshot() != snap {
		t.Fatalf("Snapshot() differs from last Update")
	}
}

func TestTrackerSourceErrorClearsAvailability(t *testing.T) {
	fail := false
	src := SourceFunc(func(context.Context) (string, error) {
		if fail {
			return "", errors.New("link down")
		}
		return "X AZ10 EL10", nil
	})
	tr := New(src, nil, nil)
	if !tr.Update(context.Background()).Available {
		t.Fatalf("expected available")
	}
	fail = true
	snap := tr.Update(context.Background())
	if snap.Available {
		t.Fatalf("source error should clear availability")
	}
	if snap.Raw != "X AZ10 EL10" {
		t.Fatalf("raw should keep the last line, got %q", snap.Raw)
	}
}

func TestReaderSourceServesLatestLine(t *testing.T) {
	pr, pw := io.Pipe()
	clock := timectrl.NewFakeClock(time.Unix(0, 0))
	src := NewReaderSource(pr, time.Second, clock)
	ctx := context.Background()

	if _, err := src.Latest(ctx); !errors.Is(err, ErrNoData) {
		t.Fatalf("Latest before data = %v, want ErrNoData", err)
	}

	_, _ = io.WriteString(pw, "A AZ1 EL1\r\n\nB AZ2 EL2\n")
	deadline := time.Now().Add(2 * time.Second)
	for src.Lines() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("reader did not consume lines")
		}
		time.Sleep(time.Millisecond)
	}

	line, err := src.Latest(ctx)
	if err != nil || line != "B AZ2 EL2" {
		t.Fatalf("Latest() = (%q, %v)", line, err)
	}

	clock.Advance(2 * time.Second)
	if _, err := src.Latest(ctx); !errors.Is(err, ErrStale) {
		t.Fatalf("Latest after max age = %v, want ErrStale", err)
	}

	_ = pw.Close()
	<-src.Done()
	if _, err := src.Latest(ctx); !errors.Is(err, ErrSourceClosed) {
		t.Fatalf("Latest after close = %v, want ErrSourceClosed", err)
	}
}

func TestReaderSourceFeedsTracker(t *testing.T) {
	src := NewReaderSource(strings.NewReader("SNAO-27 AZ286.6 EL13.9\n"), 0, nil)
	<-src.Done()

	// The reader has ended, so the tracker reports the closed source as unavailable.
	tr := New(src, nil, nil)
	snap := tr.Update(context.Background())
	if snap.Available {
		t.Fatalf("closed source should not be available")
	}
	if snap.Raw != "SNAO-27 AZ286.6 EL13.9" {
		t.Fatalf("Raw = %q", snap.Raw)
	}
}

func TestOpenSerialRequiresPort(t *testing.T) {
	if _, err := OpenSerial(SerialConfig{}, nil); err == nil {
		t.Fatalf("expected error for empty port")
	}
	if _, err := OpenSerial(SerialConfig{Port: "/dev/rotortrack-does-not-exist"}, nil); err == nil {
		t.Fatalf("expected error opening a missing port")
	}
}
