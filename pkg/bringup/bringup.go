// Package bringup drives the Phases A-G bring-up state machine (spec.md
// §4.6). Machine.Run calls one method per phase in a fixed order, stops at
// the first phase that fails and wraps its error with that phase's exit
// code. The phases are not held in a data table: the order is the
// sequence of calls in Run.
package bringup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/ids2agent/pkg/agenterr"
	"github.com/cuemby/ids2agent/pkg/cluster"
	"github.com/cuemby/ids2agent/pkg/config"
	"github.com/cuemby/ids2agent/pkg/log"
	"github.com/cuemby/ids2agent/pkg/orchestrator"
	"github.com/cuemby/ids2agent/pkg/reachability"
	"github.com/cuemby/ids2agent/pkg/state"
	"github.com/cuemby/ids2agent/pkg/storage"
	"github.com/cuemby/ids2agent/pkg/types"
)

// CredentialResolver resolves the credential profile named in config and
// returns the cluster's bulk-ingest endpoint (phase A). It is injected so
// the state machine never touches credential material directly.
type CredentialResolver func(ctx context.Context, profile, region, domain string) (endpoint string, err error)

// Deps bundles everything the phases need. Machine.Run drives them in
// order; no phase function reaches outside Deps.
type Deps struct {
	Config       *config.Config
	Store        *state.Store
	Orchestrator *orchestrator.Orchestrator
	Resolver     CredentialResolver
	SnifferTmpl  string
	ShipperTmpl  string
	History      *storage.History // may be nil in dry-run
}

// Machine runs phases A through G exactly once, writing `phase` into
// shared state before each one (spec.md §4.6).
type Machine struct {
	deps Deps
}

// New builds a Machine.
func New(deps Deps) *Machine {
	return &Machine{deps: deps}
}

// Run executes all phases in order, returning an *agenterr.FatalError on
// any abort. Phase F never aborts (it logs and skips on failure); phase G
// simply marks STEADY and returns.
func (m *Machine) Run(ctx context.Context) error {
	logger := log.WithComponent("bringup")

	if err := m.phaseA(ctx, logger); err != nil {
		return agenterr.Wrap(agenterr.ExitPhaseAFailure, err)
	}
	if err := m.phaseB(ctx, logger); err != nil {
		return agenterr.Wrap(agenterr.ExitPhaseBFailure, err)
	}
	if err := m.phaseC(ctx, logger); err != nil {
		return agenterr.Wrap(agenterr.ExitPhaseCFailure, err)
	}
	if err := m.phaseD(ctx, logger); err != nil {
		return agenterr.Wrap(agenterr.ExitPhaseDTimeout, err)
	}
	if err := m.phaseE(ctx, logger); err != nil {
		return agenterr.Wrap(agenterr.ExitPhaseEFailure, err)
	}
	m.phaseF(ctx, logger) // never aborts
	m.phaseG(logger)
	return nil
}

func (m *Machine) setPhase(p types.Phase) { m.deps.Store.SetPhase(p) }

// phaseA resolves credentials and queries cluster metadata for a
// non-empty bulk-ingest endpoint.
func (m *Machine) phaseA(ctx context.Context, logger zerolog.Logger) error {
	m.setPhase(types.PhaseA)
	cfg := m.deps.Config.Cluster

	endpoint, err := m.deps.Resolver(ctx, cfg.CredentialProfile, cfg.Region, cfg.Domain)
	if err != nil {
		return fmt.Errorf("phase A: resolving credentials/metadata: %w", err)
	}
	if endpoint == "" {
		return fmt.Errorf("phase A: cluster metadata query returned an empty endpoint")
	}
	m.deps.Config.Cluster.Endpoint = endpoint
	return nil
}

// phaseB renders the sniffer and shipper configs to their configured
// paths via the orchestrator. In dry-run mode rendering still executes
// (it is pure text, not a side effect on the running system) and is not
// stubbed per spec.md §4.6's list of stubbed phases (C and F only).
func (m *Machine) phaseB(ctx context.Context, logger zerolog.Logger) error {
	m.setPhase(types.PhaseB)
	paths := m.deps.Config.Paths

	if err := m.deps.Orchestrator.Render(ctx, m.deps.SnifferTmpl, paths.SnifferConfig, m.deps.Config); err != nil {
		return fmt.Errorf("phase B: rendering sniffer config: %w", err)
	}
	if err := m.deps.Orchestrator.Render(ctx, m.deps.ShipperTmpl, paths.ShipperConfig, m.deps.Config); err != nil {
		return fmt.Errorf("phase B: rendering shipper config: %w", err)
	}
	return nil
}

// phaseC starts the container stack and polls status until healthy or
// 180s elapses. Stubbed (log intent, do not act) in dry-run mode.
func (m *Machine) phaseC(ctx context.Context, logger zerolog.Logger) error {
	m.setPhase(types.PhaseC)

	if m.deps.Config.Policy.DryRun {
		logger.Info().Msg("dry-run: skipping compose up and container health polling")
		return nil
	}

	if err := m.deps.Orchestrator.ComposeUp(ctx); err != nil {
		return fmt.Errorf("phase C: compose up: %w", err)
	}

	deadline := time.Now().Add(180 * time.Second)
	for {
		status, err := m.deps.Orchestrator.ComposeStatus(ctx)
		if err == nil && allHealthy(status) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("phase C: containers did not become healthy within 180s, last status: %s", status)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("phase C: %w", ctx.Err())
		case <-time.After(time.Second):
		}
	}
}

// allHealthy is a conservative, dependency-free check over the compose
// status text: any occurrence of "unhealthy", "starting" or
// `"State":"restarting"` means not yet ready. The exact JSON schema of `compose ps --format json` varies by
// compose implementation (spec.md's open question on sentinel format
// applies equally here), so this deliberately avoids parsing it as
// structured JSON.
func allHealthy(status string) bool {
	if status == "" {
		return false
	}
	for _, bad := range []string{"unhealthy", "starting", `"State":"restarting"`} {
		if strings.Contains(status, bad) {
			return false
		}
	}
	return true
}

// phaseD runs one full reachability cycle and requires all three probes
// to succeed within phase_d_timeout. In dry-run mode it reports synthetic
// success (spec.md §4.6).
func (m *Machine) phaseD(ctx context.Context, logger zerolog.Logger) error {
	m.setPhase(types.PhaseD)

	if m.deps.Config.Policy.DryRun {
		m.deps.Store.SetDNSOK(true)
		m.deps.Store.SetTLSOK(true)
		m.deps.Store.SetClusterOK(true)
		return nil
	}

	policy := m.deps.Config.Policy
	prober := reachability.New(reachability.Config{
		CheckInterval:    time.Hour, // single invocation, not the steady-state loop
		ClusterDomain:    m.deps.Config.Cluster.Domain,
		RetryBackoffBase: policy.RetryBackoffBase,
		RetryBackoffCap:  policy.RetryBackoffCap,
		RetryMaxAttempts: policy.RetryMaxAttempts,
	}, m.deps.Store, m.clusterClient())

	ctx, cancel := context.WithTimeout(ctx, m.deps.Config.Policy.PhaseDTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		prober.RunOnce(ctx)
		close(done)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("phase D: reachability cycle did not complete within %s", m.deps.Config.Policy.PhaseDTimeout)
	case <-done:
	}

	if !(m.deps.Store.DNSOK() && m.deps.Store.TLSOK() && m.deps.Store.ClusterOK()) {
		return fmt.Errorf("phase D: reachability cycle failed (dns=%v tls=%v cluster=%v)",
			m.deps.Store.DNSOK(), m.deps.Store.TLSOK(), m.deps.Store.ClusterOK())
	}
	return nil
}

func (m *Machine) clusterClient() cluster.Client {
	c := m.deps.Config.Cluster
	return cluster.NewHTTPClient(c.Endpoint, c.SentinelIndex, c.PingDocument, nil)
}

// phaseE verifies container health and probe status are all still good
// and the throttle level is not severe.
func (m *Machine) phaseE(ctx context.Context, logger zerolog.Logger) error {
	m.setPhase(types.PhaseE)

	if !m.deps.Config.Policy.DryRun {
		status, err := m.deps.Orchestrator.ComposeStatus(ctx)
		if err != nil || !allHealthy(status) {
			return fmt.Errorf("phase E: container stack not healthy: %v", err)
		}
	}

	if !(m.deps.Store.DNSOK() && m.deps.Store.TLSOK() && m.deps.Store.ClusterOK()) {
		return fmt.Errorf("phase E: reachability probes not all OK")
	}
	if m.deps.Store.ThrottleLevel() > types.ThrottleModerate {
		return fmt.Errorf("phase E: throttle_level %d exceeds the phase E threshold", m.deps.Store.ThrottleLevel())
	}
	return nil
}

// phaseF records a SHA-256 hash of each rendered config file in the
// history store. It does not check any branch or environment tag; it
// records whenever a history store is open. With no history store, or
// when a file cannot be read or the record cannot be written, it logs a
// warning and moves on. It never aborts the process (spec.md §4.6).
// Stubbed (log intent, do not act) in dry-run mode.
func (m *Machine) phaseF(ctx context.Context, logger zerolog.Logger) {
	m.setPhase(types.PhaseF)

	if m.deps.Config.Policy.DryRun {
		logger.Info().Msg("dry-run: skipping change-capture commit")
		return
	}
	if m.deps.History == nil {
		logger.Warn().Msg("no history store configured; skipping change capture")
		return
	}

	snapshot := make(map[string]string, 2)
	for name, path := range map[string]string{
		"sniffer_config": m.deps.Config.Paths.SnifferConfig,
		"shipper_config": m.deps.Config.Paths.ShipperConfig,
	} {
		body, err := os.ReadFile(path)
		if err != nil {
			logger.Warn().Msg(fmt.Sprintf("change capture skipped: reading %s: %v", path, err))
			return
		}
		sum := sha256.Sum256(body)
		snapshot[name] = hex.EncodeToString(sum[:])
	}
	if err := m.deps.History.RecordRender(ctx, snapshot); err != nil {
		logger.Warn().Msg(fmt.Sprintf("change capture skipped: %v", err))
	}
}

// phaseG marks the store STEADY; the caller is responsible for actually
// spawning the supervised workers once Run returns nil.
func (m *Machine) phaseG(logger zerolog.Logger) {
	m.setPhase(types.PhaseSteady)
	logger.Info().Msg("bring-up complete, entering steady state")
}
