// Package metrics serves the Metrics endpoint worker (spec.md §4.5): a
// small HTTP server exposing /metrics in Prometheus exposition format and
// /health as a plain readiness probe, both built as live snapshots of the
// shared-state store at request time. Grounded on pkg/metrics/metrics.go's
// package-level-gauges-plus-promhttp.Handler shape, generalized from
// globally registered counters/histograms to GaugeFunc collectors that
// read pkg/state.Store on every scrape instead of being pushed to.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuemby/ids2agent/pkg/log"
	"github.com/cuemby/ids2agent/pkg/state"
	"github.com/cuemby/ids2agent/pkg/types"
)

// Config is the subset of pkg/config.Config the endpoint needs.
type Config struct {
	BindAddr string
}

// Server owns a private Prometheus registry and an http.Server bound to
// Config.BindAddr. Unlike the teacher's package-level MustRegister
// globals, every collector here is a GaugeFunc closing over the store, so
// values are never stale between scrapes.
type Server struct {
	cfg   Config
	store *state.Store
	srv   *http.Server
}

// New builds a Server and registers its gauge collectors against a
// private registry (never the global prometheus.DefaultRegisterer, so
// multiple Servers in tests don't collide).
func New(cfg Config, store *state.Store, workers []types.WorkerName) *Server {
	reg := prometheus.NewRegistry()

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "ids2_cpu_usage_percent", Help: "Host CPU utilization percentage."},
		func() float64 { return store.CPUPercent() },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "ids2_ram_usage_percent", Help: "Host RAM utilization percentage."},
		func() float64 { return store.RAMPercent() },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "ids2_throttle_level", Help: "Current throttle level (0-3)."},
		func() float64 { return float64(store.ThrottleLevel()) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "ids2_dns_status", Help: "DNS reachability (1 = ok, 0 = failing)."},
		func() float64 { return boolToFloat(store.DNSOK()) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "ids2_tls_status", Help: "TLS reachability (1 = ok, 0 = failing)."},
		func() float64 { return boolToFloat(store.TLSOK()) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "ids2_opensearch_status", Help: "Remote cluster reachability (1 = ok, 0 = failing)."},
		func() float64 { return boolToFloat(store.ClusterOK()) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "ids2_pipeline_ok", Help: "Whether the full pipeline is considered healthy."},
		func() float64 { return boolToFloat(store.PipelineOK()) },
	))
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: "ids2_uptime_seconds", Help: "Seconds since the supervisor started."},
		func() float64 { return time.Since(store.StartedAt()).Seconds() },
	))

	for _, name := range workers {
		name := name
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "ids2_worker_alive",
				Help:        "Whether the named worker's last heartbeat is within its staleness threshold.",
				ConstLabels: prometheus.Labels{"name": string(name)},
			},
			func() float64 { return boolToFloat(store.WorkerAlive(name)) },
		))
		reg.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "ids2_worker_restarts_total",
				Help:        "Cumulative restarts of the named worker.",
				ConstLabels: prometheus.Labels{"name": string(name)},
			},
			func() float64 { return float64(store.WorkerRestarts(name)) },
		))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", healthHandler(store))

	return &Server{
		cfg:   cfg,
		store: store,
		srv:   &http.Server{Addr: cfg.BindAddr, Handler: mux},
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// healthHandler returns 200 "ok" iff pipeline_ok is true, else 503 with a
// short reason (spec.md §4.5).
func healthHandler(store *state.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if store.PipelineOK() {
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, "ok")
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "pipeline not ready: phase=%s dns=%v tls=%v cluster=%v",
			store.CurrentPhase(), store.DNSOK(), store.TLSOK(), store.ClusterOK())
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled, then shuts
// the server down within a short grace period. It satisfies the
// pkg/supervisor.RunFunc signature.
func (s *Server) Run(ctx context.Context, heartbeat func()) error {
	logger := log.WithComponent("metrics")

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", s.cfg.BindAddr).Msg("metrics endpoint listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	heartbeatTicker := time.NewTicker(time.Second)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("metrics server shutdown did not complete cleanly")
			}
			<-errCh
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-heartbeatTicker.C:
			heartbeat()
		}
	}
}
