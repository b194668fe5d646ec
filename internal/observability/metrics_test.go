package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewBrokerCollector(reg)
	if err != nil {
		t.Fatalf("NewBrokerCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/rotorlink.v1.Broker/Publish"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		time.Sleep(time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Broker", "Publish", "OK")); got != 1 {
		t.Fatalf("rotorlink_requests_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "rotorlink_request_duration_seconds", map[string]string{
		"service": "Broker",
		"method":  "Publish",
	}); count != 1 {
		t.Fatalf("rotorlink_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewBrokerCollector(reg)
	if err != nil {
		t.Fatalf("NewBrokerCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/rotorlink.v1.Broker/Publish"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.InvalidArgument, "boom")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("Broker", "Publish", "InvalidArgument")); got != 1 {
		t.Fatalf("rotorlink_requests_total error label = %v, want 1", got)
	}
}

func TestCollectorsReuseExistingRegistrations(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewControllerCollector(reg)
	if err != nil {
		t.Fatalf("first NewControllerCollector: %v", err)
	}
	b, err := NewControllerCollector(reg)
	if err != nil {
		t.Fatalf("second NewControllerCollector: %v", err)
	}
	a.IncCommandsSent()
	if got := testutil.ToFloat64(b.CommandsSent); got != 1 {
		t.Fatalf("shared counter = %v, want 1", got)
	}
}

func TestControllerCollectorStateAndFaults(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewControllerCollector(reg)
	if err != nil {
		t.Fatalf("NewControllerCollector: %v", err)
	}

	c.SetLoopState("tracking", true, true)
	c.SetLoopState("waiting_for_rotator", false, true)

	if got := testutil.ToFloat64(c.State.WithLabelValues("tracking")); got != 0 {
		t.Fatalf("previous state gauge = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.State.WithLabelValues("waiting_for_rotator")); got != 1 {
		t.Fatalf("current state gauge = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.RotatorReady); got != 0 {
		t.Fatalf("controller_rotator_ready = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.TargetAvailable); got != 1 {
		t.Fatalf("controller_target_available = %v, want 1", got)
	}

	c.SetFault("command_unacknowledged", true)
	if got := testutil.ToFloat64(c.Faults.WithLabelValues("command_unacknowledged")); got != 1 {
		t.Fatalf("fault gauge = %v, want 1", got)
	}
	c.SetFault("command_unacknowledged", false)
	if got := testutil.ToFloat64(c.Faults.WithLabelValues("command_unacknowledged")); got != 0 {
		t.Fatalf("fault gauge after clear = %v, want 0", got)
	}

	c.IncReports("stale")
	c.IncReports("accepted")
	c.IncReports("accepted")
	if got := testutil.ToFloat64(c.Reports.WithLabelValues("accepted")); got != 2 {
		t.Fatalf("accepted reports = %v, want 2", got)
	}
	c.ObserveTick(time.Millisecond)
	if count := histogramSampleCount(t, reg, "controller_tick_duration_seconds", nil); count != 1 {
		t.Fatalf("tick histogram count = %d, want 1", count)
	}
}

func TestNilCollectorsAreSafe(t *testing.T) {
	var c *ControllerCollector
	c.IncCommandsSent()
	c.SetLoopState("idle", false, false)
	c.SetFault("x", true)

	var r *RotatorCollector
	r.ObserveCommand("executed", time.Second)
	r.SetHalted(true)

	var b *BrokerCollector
	b.IncPublished("controller")
	b.SetSubscribers(1)
}

func TestMetricsHandlerExposesRotatorGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewRotatorCollector(reg)
	if err != nil {
		t.Fatalf("NewRotatorCollector: %v", err)
	}
	collector.SetPosition(286, 14)
	collector.AddPulses("azimuth", 53)
	collector.IncReports("motion")
	collector.ObserveCommand("executed", 250*time.Millisecond)
	collector.SetHalted(false)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"rotator_commands_total",
		"rotator_execution_duration_seconds",
		"rotator_step_pulses_total",
		"rotator_reports_total",
		`rotator_position_degrees{axis="azimuth"} 286`,
		`rotator_position_degrees{axis="elevation"} 14`,
		"rotator_halted 0",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output:\n%s", metric, body)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	cases := []struct {
		in, service, method string
	}{
		{"/rotorlink.v1.Broker/Subscribe", "Broker", "Subscribe"},
		{"", "unknown", "unknown"},
		{"nomethod", "unknown", "unknown"},
		{"/Broker/", "Broker", "unknown"},
	}
	for _, tc := range cases {
		s, m := SplitMethod(tc.in)
		if s != tc.service || m != tc.method {
			t.Errorf("SplitMethod(%q) = (%q, %q), want (%q, %q)", tc.in, s, m, tc.service, tc.method)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
