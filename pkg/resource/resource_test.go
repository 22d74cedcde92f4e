package resource

import (
	"testing"
	"time"

	"github.com/cuemby/ids2agent/pkg/state"
	"github.com/cuemby/ids2agent/pkg/types"
	"github.com/rs/zerolog"
)

func TestThrottleBoundaries(t *testing.T) {
	const t1, t2, t3 = 50.0, 70.0, 90.0

	cases := []struct {
		name     string
		cpu, ram float64
		want     types.ThrottleLevel
	}{
		{"below t1", 10, 20, types.ThrottleNone},
		{"at t1", 50, 0, types.ThrottleLight},
		{"between t1 and t2", 60, 0, types.ThrottleLight},
		{"at t2", 70, 0, types.ThrottleModerate},
		{"between t2 and t3", 80, 0, types.ThrottleModerate},
		{"at t3", 90, 0, types.ThrottleSevere},
		{"above t3", 99, 0, types.ThrottleSevere},
		{"ram drives the max", 10, 95, types.ThrottleSevere},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Throttle(tc.cpu, tc.ram, t1, t2, t3)
			if got != tc.want {
				t.Errorf("Throttle(%v, %v) = %v, want %v", tc.cpu, tc.ram, got, tc.want)
			}
		})
	}
}

func TestThrottleUsesWhicheverMetricIsHigher(t *testing.T) {
	got := Throttle(95, 10, 50, 70, 90)
	if got != types.ThrottleSevere {
		t.Errorf("Throttle should pick the higher of cpu/ram, got %v", got)
	}
}

// TestSampleFirstTickIgnoresThrottle exercises Monitor.sample() directly
// (not just the pure Throttle function) to confirm the first sample after
// startup never reports a throttle level, even when RAM alone would trip
// one on every later tick. Thresholds are pinned to 0 so any real host's
// live ram_percent trips ThrottleSevere from the second tick onward,
// isolating the first-tick special case.
func TestSampleFirstTickIgnoresThrottle(t *testing.T) {
	store := state.New(types.WorkerResource)
	m, err := New(Config{
		SampleInterval:   time.Second,
		ThresholdT1:      0,
		ThresholdT2:      0,
		ThresholdT3:      0,
		CompactThreshold: 101,
	}, store, "/proc")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger := zerolog.Nop()

	m.sample(logger)
	if got := store.ThrottleLevel(); got != types.ThrottleNone {
		t.Errorf("first sample: ThrottleLevel = %v, want ThrottleNone", got)
	}

	m.sample(logger)
	if got := store.ThrottleLevel(); got != types.ThrottleSevere {
		t.Errorf("second sample: ThrottleLevel = %v, want ThrottleSevere (thresholds pinned to 0)", got)
	}
}
