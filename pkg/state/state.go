// Package state implements the agent's single cross-component channel: a
// fixed set of typed, independently-atomic slots. There is no global lock;
// each key is owned by exactly one writer (see Store field comments) and
// read by everyone else. Composite snapshots are assembled by reading keys
// independently — cross-key consistency is not required, matching
// spec.md §3 invariant (ii) and §4.1.
package state

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/cuemby/ids2agent/pkg/types"
)

// workerSlot tracks the per-worker fields the Supervisor owns:
// worker_alive[name], worker_restarts[name], and a heartbeat timestamp
// used by the liveness check (spec.md §4.8). The worker set is fixed at
// construction time, so no lock is needed to look up a slot.
type workerSlot struct {
	alive     atomic.Bool
	restarts  atomic.Int64
	lastError atomic.Value // string
	heartbeat atomic.Value // time.Time
}

// Store holds the twelve shared-state keys from spec.md §3 (the two
// per-worker keys live in workers). Every field is
// backed by its own atomic primitive so reads never block writers and
// never observe a partially written value.
type Store struct {
	cpuPercent   atomic.Uint64 // math.Float64bits, writer: resource monitor
	ramPercent   atomic.Uint64 // math.Float64bits, writer: resource monitor
	throttle     atomic.Int32  // writer: resource monitor

	dnsOK     atomic.Bool // writer: reachability prober
	tlsOK     atomic.Bool // writer: reachability prober
	clusterOK atomic.Bool // writer: reachability prober
	latencyMS atomic.Uint64 // math.Float64bits, writer: reachability prober

	phase      atomic.Value // types.Phase, writer: state machine / supervisor
	pipelineOK atomic.Bool  // writer: supervisor

	startedAt atomic.Value // time.Time, writer: supervisor, set once

	workers map[types.WorkerName]*workerSlot
}

// New creates a Store with defined initial values for every key (spec.md
// §3 invariant (i)) and a fixed slot per named worker.
func New(workers ...types.WorkerName) *Store {
	s := &Store{
		workers: make(map[types.WorkerName]*workerSlot, len(workers)),
	}
	s.phase.Store(types.Phase(""))
	s.startedAt.Store(time.Time{})
	for _, w := range workers {
		slot := &workerSlot{}
		slot.lastError.Store("")
		slot.heartbeat.Store(time.Time{})
		s.workers[w] = slot
	}
	return s
}

// --- Resource monitor writes ---

func (s *Store) SetCPUPercent(v float64) { s.cpuPercent.Store(math.Float64bits(v)) }
func (s *Store) CPUPercent() float64     { return math.Float64frombits(s.cpuPercent.Load()) }

func (s *Store) SetRAMPercent(v float64) { s.ramPercent.Store(math.Float64bits(v)) }
func (s *Store) RAMPercent() float64     { return math.Float64frombits(s.ramPercent.Load()) }

func (s *Store) SetThrottleLevel(v types.ThrottleLevel) { s.throttle.Store(int32(v)) }
func (s *Store) ThrottleLevel() types.ThrottleLevel     { return types.ThrottleLevel(s.throttle.Load()) }

// --- Reachability prober writes ---

func (s *Store) SetDNSOK(v bool)     { s.dnsOK.Store(v) }
func (s *Store) DNSOK() bool         { return s.dnsOK.Load() }
func (s *Store) SetTLSOK(v bool)     { s.tlsOK.Store(v) }
func (s *Store) TLSOK() bool         { return s.tlsOK.Load() }
func (s *Store) SetClusterOK(v bool) { s.clusterOK.Store(v) }
func (s *Store) ClusterOK() bool     { return s.clusterOK.Load() }

func (s *Store) SetClusterLatencyMS(v float64) { s.latencyMS.Store(math.Float64bits(v)) }
func (s *Store) ClusterLatencyMS() float64      { return math.Float64frombits(s.latencyMS.Load()) }

// --- State machine / Supervisor writes ---

func (s *Store) SetPhase(p types.Phase) { s.phase.Store(p) }
func (s *Store) CurrentPhase() types.Phase {
	v, _ := s.phase.Load().(types.Phase)
	return v
}

// SetPipelineOK is computed by the Supervisor per spec.md §3 invariant
// (iv): true iff phase == STEADY and the most recent probe cycle had
// dns_ok && tls_ok && cluster_ok.
func (s *Store) SetPipelineOK(v bool) { s.pipelineOK.Store(v) }
func (s *Store) PipelineOK() bool     { return s.pipelineOK.Load() }

func (s *Store) SetStartedAt(t time.Time) { s.startedAt.Store(t) }
func (s *Store) StartedAt() time.Time {
	v, _ := s.startedAt.Load().(time.Time)
	return v
}

// --- Per-worker fields, owned by the Supervisor ---

// Heartbeat records that a worker completed a tick (success or transient
// failure alike). The Supervisor's liveness check reads it; see
// spec.md §4.8.
func (s *Store) Heartbeat(name types.WorkerName) {
	if slot, ok := s.workers[name]; ok {
		slot.heartbeat.Store(time.Now())
	}
}

func (s *Store) LastHeartbeat(name types.WorkerName) time.Time {
	slot, ok := s.workers[name]
	if !ok {
		return time.Time{}
	}
	t, _ := slot.heartbeat.Load().(time.Time)
	return t
}

func (s *Store) SetWorkerAlive(name types.WorkerName, alive bool) {
	if slot, ok := s.workers[name]; ok {
		slot.alive.Store(alive)
	}
}

func (s *Store) WorkerAlive(name types.WorkerName) bool {
	slot, ok := s.workers[name]
	return ok && slot.alive.Load()
}

// IncrementWorkerRestarts increments worker_restarts[name] and returns
// the new value. worker_restarts is monotonically non-decreasing
// (spec.md §8).
func (s *Store) IncrementWorkerRestarts(name types.WorkerName) int {
	if slot, ok := s.workers[name]; ok {
		return int(slot.restarts.Add(1))
	}
	return 0
}

func (s *Store) WorkerRestarts(name types.WorkerName) int {
	slot, ok := s.workers[name]
	if !ok {
		return 0
	}
	return int(slot.restarts.Load())
}

// SeedWorkerRestarts sets worker_restarts[name] to count, overwriting
// whatever is there. Used once at startup to carry a worker's restart
// count forward from durable history recorded by a prior process run
// (spec.md's "worker_restarts does not silently reset to 0 across a
// process restart"); never called once the supervisor is running.
func (s *Store) SeedWorkerRestarts(name types.WorkerName, count int) {
	if slot, ok := s.workers[name]; ok {
		slot.restarts.Store(int64(count))
	}
}

func (s *Store) SetWorkerLastError(name types.WorkerName, errMsg string) {
	if slot, ok := s.workers[name]; ok {
		slot.lastError.Store(errMsg)
	}
}

func (s *Store) WorkerLastError(name types.WorkerName) string {
	slot, ok := s.workers[name]
	if !ok {
		return ""
	}
	v, _ := slot.lastError.Load().(string)
	return v
}

// WorkerNames returns the fixed set of worker names this store tracks.
func (s *Store) WorkerNames() []types.WorkerName {
	names := make([]types.WorkerName, 0, len(s.workers))
	for n := range s.workers {
		names = append(names, n)
	}
	return names
}

// Snapshot is a point-in-time, independently-read copy of every key;
// assembling it takes no lock. The metrics endpoint does not use it: its
// collectors read each key directly at scrape time.
type Snapshot struct {
	CPUPercent        float64
	RAMPercent        float64
	ThrottleLevel     types.ThrottleLevel
	DNSOK             bool
	TLSOK             bool
	ClusterOK         bool
	ClusterLatencyMS  float64
	Phase             types.Phase
	PipelineOK        bool
	StartedAt         time.Time
	Workers           map[types.WorkerName]types.WorkerStatus
}

func (s *Store) Snapshot() Snapshot {
	workers := make(map[types.WorkerName]types.WorkerStatus, len(s.workers))
	for name := range s.workers {
		workers[name] = types.WorkerStatus{
			Name:      name,
			Alive:     s.WorkerAlive(name),
			Restarts:  s.WorkerRestarts(name),
			LastError: s.WorkerLastError(name),
			Heartbeat: s.LastHeartbeat(name),
		}
	}
	return Snapshot{
		CPUPercent:       s.CPUPercent(),
		RAMPercent:       s.RAMPercent(),
		ThrottleLevel:    s.ThrottleLevel(),
		DNSOK:            s.DNSOK(),
		TLSOK:            s.TLSOK(),
		ClusterOK:        s.ClusterOK(),
		ClusterLatencyMS: s.ClusterLatencyMS(),
		Phase:            s.CurrentPhase(),
		PipelineOK:       s.PipelineOK(),
		StartedAt:        s.StartedAt(),
		Workers:          workers,
	}
}
