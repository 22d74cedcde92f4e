package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cuemby/ids2agent/pkg/agenterr"
	"github.com/cuemby/ids2agent/pkg/bringup"
	"github.com/cuemby/ids2agent/pkg/cluster"
	"github.com/cuemby/ids2agent/pkg/config"
	"github.com/cuemby/ids2agent/pkg/log"
	"github.com/cuemby/ids2agent/pkg/metrics"
	"github.com/cuemby/ids2agent/pkg/orchestrator"
	"github.com/cuemby/ids2agent/pkg/reachability"
	"github.com/cuemby/ids2agent/pkg/resource"
	"github.com/cuemby/ids2agent/pkg/shutdown"
	"github.com/cuemby/ids2agent/pkg/state"
	"github.com/cuemby/ids2agent/pkg/storage"
	"github.com/cuemby/ids2agent/pkg/supervisor"
	"github.com/cuemby/ids2agent/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the supervisor agent (bring-up, then steady-state supervision)",
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return agenterr.Wrap(agenterr.ExitConfigError, err)
	}

	logger := log.WithComponent("main")

	store := state.New(types.WorkerResource, types.WorkerReachability, types.WorkerMetrics)

	var history *storage.History
	if cfg.Paths.DataDir != "" {
		history, err = storage.Open(cfg.Paths.DataDir)
		if err != nil {
			logger.Warn().Msg(fmt.Sprintf("failed to open history store, continuing without it: %v", err))
		} else {
			defer history.Close()
			seedRestartCounts(logger, history, store)
		}
	}

	orch := orchestrator.New(orchestrator.Config{
		ComposeFilePath: cfg.Paths.ComposeFile,
		WorkDir:         cfg.Paths.DataDir,
		Env:             []string{"CREDENTIAL_PROFILE=" + cfg.Cluster.CredentialProfile},
	})

	snifferTmpl, err := snifferTemplate(cfg.Paths.SnifferTemplate)
	if err != nil {
		return agenterr.Wrap(agenterr.ExitPhaseBFailure, fmt.Errorf("loading sniffer template: %w", err))
	}
	shipperTmpl, err := shipperTemplate(cfg.Paths.ShipperTemplate)
	if err != nil {
		return agenterr.Wrap(agenterr.ExitPhaseBFailure, fmt.Errorf("loading shipper template: %w", err))
	}

	machine := bringup.New(bringup.Deps{
		Config:       cfg,
		Store:        store,
		Orchestrator: orch,
		Resolver:     defaultResolver,
		SnifferTmpl:  snifferTmpl,
		ShipperTmpl:  shipperTmpl,
		History:      history,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := machine.Run(ctx); err != nil {
		return err
	}

	sup, err := buildSupervisor(cfg, store, history)
	if err != nil {
		return agenterr.Wrap(agenterr.ExitUnexpectedFatal, err)
	}

	drained := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(drained)
	}()

	coordinator := &shutdown.Coordinator{
		Store:            store,
		Orchestrator:     orch,
		GracePeriod:      cfg.Policy.ShutdownGracePeriod,
		StopOnExit:       cfg.Policy.StopOnExit,
		StackStartedHere: !cfg.Policy.DryRun,
	}
	coordinator.Wait(cancel, drained)

	return nil
}

// buildSupervisor wires the three steady-state workers into a
// supervisor.Supervisor. Liveness staleness thresholds follow spec.md
// §4.8: 2x the worker's own cadence, or 60s for the metrics endpoint
// (which has no periodic sampling cadence of its own to derive one
// from).
func buildSupervisor(cfg *config.Config, store *state.Store, history *storage.History) (*supervisor.Supervisor, error) {
	resourceMonitor, err := resource.New(resource.Config{
		SampleInterval:   cfg.Worker.SampleInterval,
		ThresholdT1:      cfg.Resource.ThresholdT1,
		ThresholdT2:      cfg.Resource.ThresholdT2,
		ThresholdT3:      cfg.Resource.ThresholdT3,
		CompactThreshold: 65,
	}, store, "/proc")
	if err != nil {
		return nil, fmt.Errorf("building resource monitor: %w", err)
	}

	prober := reachability.New(reachability.Config{
		CheckInterval:    cfg.Worker.CheckInterval,
		ClusterDomain:    cfg.Cluster.Domain,
		RetryBackoffBase: cfg.Policy.RetryBackoffBase,
		RetryBackoffCap:  cfg.Policy.RetryBackoffCap,
		RetryMaxAttempts: cfg.Policy.RetryMaxAttempts,
	}, store, clusterClient(cfg))

	metricsServer := metrics.New(metrics.Config{
		BindAddr: cfg.Worker.MetricsBindAddr,
	}, store, store.WorkerNames())

	return supervisor.New(store, history,
		supervisor.Spec{
			Name:               types.WorkerResource,
			Run:                resourceMonitor.Run,
			StalenessThreshold: 2 * cfg.Worker.SampleInterval,
		},
		supervisor.Spec{
			Name:               types.WorkerReachability,
			Run:                prober.Run,
			StalenessThreshold: 2 * cfg.Worker.CheckInterval,
			Stats: func() map[string]int64 {
				return map[string]int64{"coalesced_cycles": prober.CoalescedCycles()}
			},
		},
		supervisor.Spec{
			Name:               types.WorkerMetrics,
			Run:                metricsServer.Run,
			StalenessThreshold: 60 * time.Second,
		},
	), nil
}

// seedRestartCounts carries each worker's restart count forward from a
// prior process run's history database, so ids2_worker_restarts_total
// doesn't silently reset to 0 across an agent restart.
func seedRestartCounts(logger zerolog.Logger, history *storage.History, store *state.Store) {
	for _, name := range store.WorkerNames() {
		records, err := history.RestartHistory(name)
		if err != nil {
			logger.Warn().Msg(fmt.Sprintf("failed to read restart history for %s: %v", name, err))
			continue
		}
		if len(records) > 0 {
			store.SeedWorkerRestarts(name, len(records))
		}
	}
}

func clusterClient(cfg *config.Config) cluster.Client {
	c := cfg.Cluster
	return cluster.NewHTTPClient(c.Endpoint, c.SentinelIndex, c.PingDocument, nil)
}
