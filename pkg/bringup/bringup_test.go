package bringup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/cuemby/ids2agent/pkg/config"
	"github.com/cuemby/ids2agent/pkg/orchestrator"
	"github.com/cuemby/ids2agent/pkg/state"
	"github.com/cuemby/ids2agent/pkg/types"
)

func testConfig(t *testing.T, dryRun bool) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Cluster: config.Cluster{Domain: "cluster.example.invalid"},
		Paths: config.Paths{
			SnifferConfig: filepath.Join(dir, "sniffer.yaml"),
			ShipperConfig: filepath.Join(dir, "shipper.yaml"),
		},
		Policy: config.Policy{DryRun: dryRun},
	}
}

func testMachine(t *testing.T, dryRun bool, resolver CredentialResolver) *Machine {
	cfg := testConfig(t, dryRun)
	store := state.New(types.WorkerResource, types.WorkerReachability, types.WorkerMetrics)
	orch := orchestrator.New(orchestrator.Config{WorkDir: t.TempDir()})
	return New(Deps{
		Config:       cfg,
		Store:        store,
		Orchestrator: orch,
		Resolver:     resolver,
		SnifferTmpl:  "sniffer: {{.Cluster.Domain}}\n",
		ShipperTmpl:  "shipper: {{.Cluster.Domain}}\n",
	})
}

func TestRunDryRunCompletesAllPhases(t *testing.T) {
	m := testMachine(t, true, func(ctx context.Context, profile, region, domain string) (string, error) {
		return "https://cluster.example.invalid:9200", nil
	})

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.deps.Store.CurrentPhase() != types.PhaseSteady {
		t.Errorf("phase = %s, want STEADY", m.deps.Store.CurrentPhase())
	}
	if !m.deps.Store.DNSOK() || !m.deps.Store.TLSOK() || !m.deps.Store.ClusterOK() {
		t.Error("dry-run phase D should report synthetic success on all three probes")
	}
}

func TestRunAbortsOnPhaseAFailure(t *testing.T) {
	m := testMachine(t, true, func(ctx context.Context, profile, region, domain string) (string, error) {
		return "", errors.New("credential resolution failed")
	})

	err := m.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if m.deps.Store.CurrentPhase() != types.PhaseA {
		t.Errorf("phase = %s, want A (should not advance past the failing phase)", m.deps.Store.CurrentPhase())
	}
}

func TestRunAbortsOnEmptyEndpoint(t *testing.T) {
	m := testMachine(t, true, func(ctx context.Context, profile, region, domain string) (string, error) {
		return "", nil
	})

	if err := m.Run(context.Background()); err == nil {
		t.Fatal("expected an error for an empty cluster endpoint")
	}
}

func TestPhaseBRendersBothConfigFiles(t *testing.T) {
	m := testMachine(t, true, nil)

	if err := m.phaseB(context.Background(), zerolog.Nop()); err != nil {
		t.Fatalf("phaseB: %v", err)
	}

	sniffer, err := os.ReadFile(m.deps.Config.Paths.SnifferConfig)
	if err != nil {
		t.Fatalf("reading rendered sniffer config: %v", err)
	}
	if string(sniffer) != "sniffer: cluster.example.invalid\n" {
		t.Errorf("sniffer config = %q", sniffer)
	}

	shipper, err := os.ReadFile(m.deps.Config.Paths.ShipperConfig)
	if err != nil {
		t.Fatalf("reading rendered shipper config: %v", err)
	}
	if string(shipper) != "shipper: cluster.example.invalid\n" {
		t.Errorf("shipper config = %q", shipper)
	}
}
