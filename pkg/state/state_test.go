package state

import (
	"testing"
	"time"

	"github.com/cuemby/ids2agent/pkg/types"
)

func TestInitialValues(t *testing.T) {
	s := New(types.WorkerResource, types.WorkerReachability, types.WorkerMetrics)

	if got := s.CPUPercent(); got != 0 {
		t.Errorf("CPUPercent() = %v, want 0", got)
	}
	if got := s.ThrottleLevel(); got != types.ThrottleNone {
		t.Errorf("ThrottleLevel() = %v, want 0", got)
	}
	if s.DNSOK() || s.TLSOK() || s.ClusterOK() {
		t.Error("probe keys should start false")
	}
	if s.PipelineOK() {
		t.Error("pipeline_ok should start false")
	}
	for _, w := range []types.WorkerName{types.WorkerResource, types.WorkerReachability, types.WorkerMetrics} {
		if s.WorkerAlive(w) {
			t.Errorf("worker %s should start not alive", w)
		}
		if s.WorkerRestarts(w) != 0 {
			t.Errorf("worker %s restarts should start at 0", w)
		}
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	s := New(types.WorkerResource)

	s.SetCPUPercent(42.5)
	s.SetRAMPercent(61.0)
	s.SetThrottleLevel(types.ThrottleModerate)
	s.SetDNSOK(true)
	s.SetPhase(types.PhaseSteady)
	s.SetPipelineOK(true)

	snap := s.Snapshot()
	if snap.CPUPercent != 42.5 {
		t.Errorf("CPUPercent = %v, want 42.5", snap.CPUPercent)
	}
	if snap.RAMPercent != 61.0 {
		t.Errorf("RAMPercent = %v, want 61.0", snap.RAMPercent)
	}
	if snap.ThrottleLevel != types.ThrottleModerate {
		t.Errorf("ThrottleLevel = %v, want %v", snap.ThrottleLevel, types.ThrottleModerate)
	}
	if !snap.DNSOK {
		t.Error("DNSOK should be true")
	}
	if snap.Phase != types.PhaseSteady {
		t.Errorf("Phase = %v, want STEADY", snap.Phase)
	}
	if !snap.PipelineOK {
		t.Error("PipelineOK should be true")
	}
}

func TestWorkerRestartsMonotonic(t *testing.T) {
	s := New(types.WorkerResource)

	for i := 1; i <= 5; i++ {
		got := s.IncrementWorkerRestarts(types.WorkerResource)
		if got != i {
			t.Errorf("IncrementWorkerRestarts() iteration %d = %d, want %d", i, got, i)
		}
	}
	if s.WorkerRestarts(types.WorkerResource) != 5 {
		t.Errorf("WorkerRestarts() = %d, want 5", s.WorkerRestarts(types.WorkerResource))
	}
}

func TestHeartbeatUnknownWorkerIsNoOp(t *testing.T) {
	s := New(types.WorkerResource)
	s.Heartbeat(types.WorkerName("nonexistent"))
	if !s.LastHeartbeat(types.WorkerName("nonexistent")).IsZero() {
		t.Error("heartbeat on unknown worker should not panic or record anything")
	}
}

func TestHeartbeatRecordsRecentTime(t *testing.T) {
	s := New(types.WorkerResource)
	before := time.Now()
	s.Heartbeat(types.WorkerResource)
	hb := s.LastHeartbeat(types.WorkerResource)
	if hb.Before(before) {
		t.Errorf("heartbeat %v should be after %v", hb, before)
	}
}
