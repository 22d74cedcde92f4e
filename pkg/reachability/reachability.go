// Package reachability implements the Reachability prober worker
// (spec.md §4.4): concurrent DNS, TLS, and remote-cluster probes run
// once per cycle, each attempted up to three times with an exponential
// back-off, writing dns_ok/tls_ok/cluster_ok into the shared-state store
// in that order. Grounded on pkg/worker/health_monitor.go's
// ticker+context-timeout+stopCh shape, generalized from one checker per
// container task to three concurrent checkers per cycle.
package reachability

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog"

	"github.com/cuemby/ids2agent/pkg/cluster"
	"github.com/cuemby/ids2agent/pkg/log"
	"github.com/cuemby/ids2agent/pkg/state"
)

const (
	dnsTimeout     = 10 * time.Second
	tlsTimeout     = 10 * time.Second
	clusterTimeout = 30 * time.Second
	tlsPort        = "443"
)

// Config is the subset of pkg/config.Config the prober needs.
type Config struct {
	CheckInterval    time.Duration
	ClusterDomain    string
	RetryBackoffBase time.Duration
	RetryBackoffCap  time.Duration
	RetryMaxAttempts int
}

// Prober runs reachability cycles against the shared-state store.
type Prober struct {
	cfg             Config
	store           *state.Store
	cluster         cluster.Client
	running         atomic.Bool
	coalescedCycles atomic.Int64
}

// New creates a Prober. clusterClient may be a cluster.FakeClient in tests.
func New(cfg Config, store *state.Store, clusterClient cluster.Client) *Prober {
	return &Prober{cfg: cfg, store: store, cluster: clusterClient}
}

// CoalescedCycles returns the count of cycles skipped because the
// previous cycle was still running when the timer fired (spec.md §8).
func (p *Prober) CoalescedCycles() int64 { return p.coalescedCycles.Load() }

// Run executes cycles every CheckInterval until ctx is cancelled. It
// satisfies the pkg/supervisor.RunFunc signature.
func (p *Prober) Run(ctx context.Context, heartbeat func()) error {
	logger := log.WithComponent("reachability")

	ticker := time.NewTicker(p.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !p.running.CompareAndSwap(false, true) {
				p.coalescedCycles.Add(1)
				logger.Warn().Msg("previous reachability cycle still running; coalescing this tick")
				continue
			}
			go func() {
				defer p.running.Store(false)
				p.runCycle(ctx, logger)
				heartbeat()
			}()
		}
	}
}

// RunOnce executes exactly one cycle and blocks until it completes or ctx
// is cancelled. Used by the bring-up state machine's phase D, which needs
// a single cycle rather than the steady-state ticker loop.
func (p *Prober) RunOnce(ctx context.Context) {
	logger := log.WithComponent("reachability")
	p.running.Store(true)
	defer p.running.Store(false)
	p.runCycle(ctx, logger)
}

type probeOutcome struct {
	ok        bool
	latencyMS float64
}

func (p *Prober) runCycle(ctx context.Context, logger zerolog.Logger) {
	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dnsCh := make(chan probeOutcome, 1)
	tlsCh := make(chan probeOutcome, 1)
	clusterCh := make(chan probeOutcome, 1)

	go func() { dnsCh <- p.retry(cycleCtx, dnsTimeout, p.probeDNS) }()
	go func() { tlsCh <- p.retry(cycleCtx, tlsTimeout, p.probeTLS) }()
	go func() { clusterCh <- p.retry(cycleCtx, clusterTimeout, p.probeCluster) }()

	// Writes land in the order DNS -> TLS -> Cluster (spec.md §4.4),
	// even though all three probes are in flight concurrently.
	dnsResult := <-dnsCh
	p.store.SetDNSOK(dnsResult.ok)

	tlsResult := <-tlsCh
	p.store.SetTLSOK(tlsResult.ok)

	clusterResult := <-clusterCh
	p.store.SetClusterOK(clusterResult.ok)
	p.store.SetClusterLatencyMS(clusterResult.latencyMS)
}

// retry attempts fn up to RetryMaxAttempts times with back-off 2s, 4s,
// 8s capped at RetryBackoffCap (spec.md §4.4). A cycle result of "fail"
// is written only after all retries exhaust.
func (p *Prober) retry(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (float64, error)) probeOutcome {
	backoff := p.cfg.RetryBackoffBase
	maxAttempts := p.cfg.RetryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	var lastLatency float64
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		latency, err := fn(attemptCtx)
		cancel()
		lastLatency = latency
		if err == nil {
			return probeOutcome{ok: true, latencyMS: latency}
		}

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return probeOutcome{ok: false, latencyMS: lastLatency}
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.cfg.RetryBackoffCap {
			backoff = p.cfg.RetryBackoffCap
		}
	}
	return probeOutcome{ok: false, latencyMS: lastLatency}
}

// probeDNS resolves the cluster domain; success = at least one A/AAAA
// record (spec.md §4.4).
func (p *Prober) probeDNS(ctx context.Context) (float64, error) {
	start := time.Now()
	client := new(dns.Client)
	client.Timeout = dnsTimeout

	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(p.cfg.ClusterDomain), qtype)

		resolverAddr := resolverAddress()
		resp, _, err := client.ExchangeContext(ctx, msg, resolverAddr)
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Answer) > 0 {
			return float64(time.Since(start).Microseconds()) / 1000.0, nil
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no A/AAAA records for %s", p.cfg.ClusterDomain)
	}
	return float64(time.Since(start).Microseconds()) / 1000.0, lastErr
}

// resolverAddress reads /etc/resolv.conf for the system resolver,
// falling back to a well-known public resolver if that fails — the
// agent runs on a locked-down edge host where resolv.conf is expected
// to be present.
func resolverAddress() string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(cfg.Servers) == 0 {
		return "1.1.1.1:53"
	}
	return net.JoinHostPort(cfg.Servers[0], cfg.Port)
}

// probeTLS establishes a TLS session to the resolved host on 443,
// performs the handshake, then closes (spec.md §4.4).
func (p *Prober) probeTLS(ctx context.Context) (float64, error) {
	start := time.Now()
	dialer := tls.Dialer{
		NetDialer: &net.Dialer{},
		Config:    &tls.Config{ServerName: p.cfg.ClusterDomain},
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(p.cfg.ClusterDomain, tlsPort))
	if err != nil {
		return float64(time.Since(start).Microseconds()) / 1000.0, fmt.Errorf("tls probe: %w", err)
	}
	defer conn.Close()
	return float64(time.Since(start).Microseconds()) / 1000.0, nil
}

// probeCluster sends the minimally authenticated ping to the remote
// cluster's bulk-ingest path (spec.md §4.4).
func (p *Prober) probeCluster(ctx context.Context) (float64, error) {
	return p.cluster.Ping(ctx)
}
