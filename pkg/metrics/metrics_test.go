package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/ids2agent/pkg/state"
	"github.com/cuemby/ids2agent/pkg/types"
)

func newTestServer() (*Server, *state.Store) {
	store := state.New(types.WorkerResource, types.WorkerReachability, types.WorkerMetrics)
	srv := New(Config{BindAddr: "127.0.0.1:0"}, store, []types.WorkerName{
		types.WorkerResource, types.WorkerReachability, types.WorkerMetrics,
	})
	return srv, store
}

func TestMetricsEndpointExposesGauges(t *testing.T) {
	srv, store := newTestServer()
	store.SetCPUPercent(42.5)
	store.SetThrottleLevel(types.ThrottleModerate)
	store.SetDNSOK(true)
	store.IncrementWorkerRestarts(types.WorkerResource)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	srv.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"ids2_cpu_usage_percent 42.5",
		"ids2_throttle_level 2",
		"ids2_dns_status 1",
		`ids2_worker_restarts_total{name="resource"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics body missing %q, got:\n%s", want, body)
		}
	}
}

func TestHealthEndpointReflectsPipelineOK(t *testing.T) {
	srv, store := newTestServer()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 before pipeline is ok", rec.Code)
	}

	store.SetPipelineOK(true)
	rec = httptest.NewRecorder()
	srv.srv.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 once pipeline is ok", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestUptimeGaugeIncreasesOverTime(t *testing.T) {
	srv, store := newTestServer()
	store.SetStartedAt(time.Now().Add(-10 * time.Second))

	scrape := func() float64 {
		t.Helper()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		srv.srv.Handler.ServeHTTP(rec, req)

		body := rec.Body.String()
		if !strings.Contains(body, "ids2_uptime_seconds") {
			t.Fatal("expected ids2_uptime_seconds in metrics body")
		}
		for _, line := range strings.Split(body, "\n") {
			var v float64
			if _, err := fmt.Sscanf(line, "ids2_uptime_seconds %g", &v); err == nil {
				return v
			}
		}
		t.Fatalf("no ids2_uptime_seconds sample line in:\n%s", body)
		return 0
	}

	first := scrape()
	if first < 10 {
		t.Errorf("uptime = %v, want >= 10 (started 10s ago)", first)
	}
	time.Sleep(20 * time.Millisecond)
	if second := scrape(); second <= first {
		t.Errorf("uptime did not increase: first %v, second %v", first, second)
	}
}
