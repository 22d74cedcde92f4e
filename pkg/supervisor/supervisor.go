package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/ids2agent/pkg/log"
	"github.com/cuemby/ids2agent/pkg/state"
	"github.com/cuemby/ids2agent/pkg/storage"
	"github.com/cuemby/ids2agent/pkg/types"
)

// restartBackoffInitial and restartBackoffCap are variables (not consts)
// so tests can shrink them instead of waiting out real restart delays.
var (
	restartBackoffInitial = time.Second
	restartBackoffCap     = 30 * time.Second
)

const (
	restartBackoffReset   = 5 * time.Minute
	statusLogInterval     = 30 * time.Second
	pipelineCheckInterval = time.Second
)

// Spec describes one supervised worker: its run loop and the heartbeat
// staleness threshold the Supervisor uses to detect a hung worker that
// never returns from Run (spec.md §4.8).
type Spec struct {
	Name               types.WorkerName
	Run                func(ctx context.Context, heartbeat func()) error
	StalenessThreshold time.Duration

	// Stats, if set, returns a worker's own internal counters to fold
	// into the 30s status log line (e.g. the reachability prober's
	// coalesced-cycle count). Optional; nil means none to report.
	Stats func() map[string]int64
}

// Supervisor owns the lifecycle of a fixed set of workers, restarting
// them on crash or heartbeat staleness with exponential back-off, and
// emits a periodic status line.
type Supervisor struct {
	specs   []Spec
	store   *state.Store
	history *storage.History // may be nil
}

// New builds a Supervisor for the given worker specs.
func New(store *state.Store, history *storage.History, specs ...Spec) *Supervisor {
	return &Supervisor{specs: specs, store: store, history: history}
}

// Run spawns every worker and blocks until ctx is cancelled and every
// worker has drained. It never returns an error: individual worker
// crashes are handled internally via restart, not surfaced to the
// caller (spec.md §4.8: "no restart cap... survive transient faults
// indefinitely").
func (s *Supervisor) Run(ctx context.Context) error {
	s.store.SetStartedAt(time.Now())

	done := make(chan struct{}, len(s.specs))
	for _, spec := range s.specs {
		spec := spec
		go func() {
			s.runWorker(ctx, spec)
			done <- struct{}{}
		}()
	}

	go s.pipelineLoop(ctx)
	go s.statusLoop(ctx)

	for range s.specs {
		<-done
	}
	return nil
}

// runWorker runs one worker's Spec.Run, restarting it with back-off on
// crash or on heartbeat staleness, until ctx is cancelled. Grounded on
// pkg/worker/worker.go's per-task ticker+stopCh+select loop, generalized
// to N independently restartable workers, and on
// pkg/embedded/containerd.go's monitor(ctx) crash-vs-cancellation
// distinction.
func (s *Supervisor) runWorker(ctx context.Context, spec Spec) {
	backoff := restartBackoffInitial

	for {
		if ctx.Err() != nil {
			return
		}

		workerCtx, cancel := context.WithCancel(ctx)
		startedAt := time.Now()
		s.store.SetWorkerAlive(spec.Name, true)

		runErr := s.runOnce(workerCtx, cancel, spec)

		cancel()
		s.store.SetWorkerAlive(spec.Name, false)

		if ctx.Err() != nil {
			// Parent shutdown, not a crash: do not restart or log a
			// restart event.
			return
		}

		if runErr != nil {
			s.store.SetWorkerLastError(spec.Name, runErr.Error())
		} else {
			s.store.SetWorkerLastError(spec.Name, "heartbeat stale")
		}

		restartID := uuid.New().String()
		count := s.store.IncrementWorkerRestarts(spec.Name)
		restartLogger := log.WithWorker(string(spec.Name))
		log.WithRunID(restartID).Warn().
			Int("restart_count", count).
			Str("worker", string(spec.Name)).
			Str("reason", s.store.WorkerLastError(spec.Name)).
			Msg("worker restarting")

		if s.history != nil {
			rec := storage.RestartRecord{
				ID:        restartID,
				Worker:    spec.Name,
				Timestamp: time.Now(),
				Reason:    s.store.WorkerLastError(spec.Name),
			}
			if err := s.history.RecordRestart(rec); err != nil {
				restartLogger.Warn().Msg(fmt.Sprintf("failed to persist restart record: %v", err))
			}
		}

		if time.Since(startedAt) >= restartBackoffReset {
			backoff = restartBackoffInitial
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > restartBackoffCap {
			backoff = restartBackoffCap
		}
	}
}

// runOnce runs spec.Run to completion, racing it against a staleness
// watchdog that force-cancels workerCtx if the worker's heartbeat goes
// silent for longer than spec.StalenessThreshold — covering workers
// whose Run loop is alive but stuck, not just ones that return an
// error.
func (s *Supervisor) runOnce(workerCtx context.Context, cancel context.CancelFunc, spec Spec) error {
	s.store.Heartbeat(spec.Name)

	runDone := make(chan error, 1)
	go func() {
		runDone <- spec.Run(workerCtx, func() { s.store.Heartbeat(spec.Name) })
	}()

	watchdog := time.NewTicker(spec.StalenessThreshold / 2)
	defer watchdog.Stop()

	for {
		select {
		case err := <-runDone:
			return err
		case <-workerCtx.Done():
			<-runDone
			return nil
		case <-watchdog.C:
			if time.Since(s.store.LastHeartbeat(spec.Name)) > spec.StalenessThreshold {
				cancel()
				<-runDone
				return nil
			}
		}
	}
}

// pipelineLoop keeps pipeline_ok current (spec.md §3 invariant (iv)):
// true iff phase == STEADY and the most recent probe cycle had all
// three checks pass.
func (s *Supervisor) pipelineLoop(ctx context.Context) {
	ticker := time.NewTicker(pipelineCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok := s.store.CurrentPhase() == types.PhaseSteady &&
				s.store.DNSOK() && s.store.TLSOK() && s.store.ClusterOK()
			s.store.SetPipelineOK(ok)
		}
	}
}

// statusLoop emits the 30s status line (spec.md §4.8).
func (s *Supervisor) statusLoop(ctx context.Context) {
	logger := log.WithComponent("supervisor")
	ticker := time.NewTicker(statusLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logStatus(logger)
		}
	}
}

func (s *Supervisor) logStatus(logger zerolog.Logger) {
	ev := logger.Info().
		Str("phase", string(s.store.CurrentPhase())).
		Bool("pipeline_ok", s.store.PipelineOK()).
		Int("throttle_level", int(s.store.ThrottleLevel()))

	for _, spec := range s.specs {
		ev = ev.Bool(fmt.Sprintf("%s_alive", spec.Name), s.store.WorkerAlive(spec.Name)).
			Int(fmt.Sprintf("%s_restarts", spec.Name), s.store.WorkerRestarts(spec.Name))
		if spec.Stats == nil {
			continue
		}
		for name, v := range spec.Stats() {
			ev = ev.Int64(fmt.Sprintf("%s_%s", spec.Name, name), v)
		}
	}
	ev.Msg("status")
}
