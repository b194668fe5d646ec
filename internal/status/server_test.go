package status

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/rotortrack/internal/controller"
	"github.com/signalsfoundry/rotortrack/internal/observability"
	"github.com/signalsfoundry/rotortrack/internal/tracker"
	"github.com/signalsfoundry/rotortrack/model"
)

func sampleStatus() controller.Status {
	return controller.Status{
		State:     controller.Tracking.String(),
		StateText: controller.Tracking.Description(),
		Tracker: tracker.Snapshot{
			Available: true,
			Target:    model.AngularPosition{Azimuth: 287, Elevation: 14},
			Satellite: "SNAO-27",
			Raw:       "SNAO-27 AZ286.6 EL13.9",
		},
		Rotator:      model.AngularPosition{Azimuth: 280, Elevation: 10},
		RotatorKnown: true,
		Ready:        true,
		LastTx:       "[+007,+04]",
		Faults:       []string{},
	}
}

func get(t *testing.T, s *Server, path string) (int, []byte) {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, body
}

func TestHealth(t *testing.T) {
	s := New(DefaultConfig(), ProviderFunc(sampleStatus), nil, nil)
	code, body := get(t, s, "/api/health")
	if code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["status"] != "OK" || got["state"] != "tracking" {
		t.Fatalf("health = %v", got)
	}
}

func TestStatusSnapshot(t *testing.T) {
	s := New(DefaultConfig(), ProviderFunc(sampleStatus), nil, nil)
	code, body := get(t, s, "/api/status")
	if code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	var got controller.Status
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := sampleStatus()
	if got.State != want.State || got.Tracker.Target != want.Tracker.Target || got.Rotator != want.Rotator {
		t.Fatalf("status = %+v", got)
	}
	if got.LastTx != "[+007,+04]" || !got.Ready || got.Tracker.Satellite != "SNAO-27" {
		t.Fatalf("status = %+v", got)
	}
}

func TestMetricsMounted(t *testing.T) {
	collector, err := observability.NewControllerCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("collector: %v", err)
	}
	collector.IncCommandsSent()

	s := New(DefaultConfig(), ProviderFunc(sampleStatus), collector.Handler(), nil)
	code, body := get(t, s, "/metrics")
	if code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if !strings.Contains(string(body), "controller_commands_sent_total 1") {
		t.Fatalf("metrics body missing counter:\n%s", body)
	}

	bare := New(DefaultConfig(), ProviderFunc(sampleStatus), nil, nil)
	if code, _ := get(t, bare, "/metrics"); code != http.StatusNotFound {
		t.Fatalf("unmounted /metrics = %d, want 404", code)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s := New(DefaultConfig(), ProviderFunc(sampleStatus), nil, nil)
	if code, _ := get(t, s, "/websocket/status"); code != http.StatusUpgradeRequired {
		t.Fatalf("plain GET = %d, want 426", code)
	}
}

func TestWebSocketPushesStatus(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PushInterval = 10 * time.Millisecond
	s := New(cfg, ProviderFunc(sampleStatus), nil, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = s.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})

	url := "ws://" + ln.Addr().String() + "/websocket/status"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 2; i++ {
		var got controller.Status
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if got.State != "tracking" || got.Rotator.Azimuth != 280 {
			t.Fatalf("pushed status = %+v", got)
		}
	}
	if s.Clients() != 1 {
		t.Fatalf("clients = %d", s.Clients())
	}
}
