package reachability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuemby/ids2agent/pkg/cluster"
	"github.com/cuemby/ids2agent/pkg/state"
	"github.com/cuemby/ids2agent/pkg/types"
)

func testConfig() Config {
	return Config{
		CheckInterval:    20 * time.Millisecond,
		ClusterDomain:    "example.invalid",
		RetryBackoffBase: 1 * time.Millisecond,
		RetryBackoffCap:  4 * time.Millisecond,
		RetryMaxAttempts: 3,
	}
}

func TestRetrySucceedsOnFirstAttempt(t *testing.T) {
	p := New(testConfig(), state.New(types.WorkerReachability), &cluster.FakeClient{})

	var calls int32
	outcome := p.retry(context.Background(), time.Second, func(ctx context.Context) (float64, error) {
		atomic.AddInt32(&calls, 1)
		return 1.5, nil
	})

	if !outcome.ok {
		t.Error("expected success")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryExhaustsAllAttemptsOnPersistentFailure(t *testing.T) {
	p := New(testConfig(), state.New(types.WorkerReachability), &cluster.FakeClient{})

	var calls int32
	outcome := p.retry(context.Background(), time.Second, func(ctx context.Context) (float64, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("boom")
	})

	if outcome.ok {
		t.Error("expected failure after exhausting retries")
	}
	if calls != int32(p.cfg.RetryMaxAttempts) {
		t.Errorf("calls = %d, want %d", calls, p.cfg.RetryMaxAttempts)
	}
}

func TestRetryStopsOnCancellation(t *testing.T) {
	p := New(testConfig(), state.New(types.WorkerReachability), &cluster.FakeClient{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	p.retry(ctx, time.Second, func(ctx context.Context) (float64, error) {
		atomic.AddInt32(&calls, 1)
		return 0, errors.New("boom")
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (cancellation should stop retry loop before the second attempt)", calls)
	}
}

func TestProbeClusterDelegatesToClient(t *testing.T) {
	p := New(testConfig(), state.New(types.WorkerReachability), &cluster.FakeClient{LatencyMS: 12.0})

	latency, err := p.probeCluster(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latency != 12.0 {
		t.Errorf("latency = %v, want 12.0", latency)
	}
}

func TestCoalescedCyclesStartsAtZero(t *testing.T) {
	p := New(testConfig(), state.New(types.WorkerReachability), &cluster.FakeClient{})
	if p.CoalescedCycles() != 0 {
		t.Errorf("CoalescedCycles() = %d, want 0", p.CoalescedCycles())
	}
}
