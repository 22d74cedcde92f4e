// Package resource implements the Resource monitor worker (spec.md §4.3):
// samples host CPU% and RAM% at a fixed cadence, computes the throttle
// level, and publishes both into the shared-state store. Grounded on
// pkg/metrics/collector.go's ticker-loop Start/Stop/collect shape.
package resource

import (
	"context"
	"time"

	"github.com/prometheus/procfs"
	"github.com/rs/zerolog"

	"github.com/cuemby/ids2agent/pkg/log"
	"github.com/cuemby/ids2agent/pkg/state"
	"github.com/cuemby/ids2agent/pkg/types"
)

// Config is the subset of pkg/config.Config the monitor needs.
type Config struct {
	SampleInterval time.Duration
	ThresholdT1    float64
	ThresholdT2    float64
	ThresholdT3    float64
	// CompactThreshold is the ram_percent at or above which the monitor
	// requests best-effort memory compaction (spec.md §4.3: 65).
	CompactThreshold float64
}

// Monitor samples CPU/RAM via procfs and writes cpu_percent, ram_percent,
// and throttle_level into the store on each tick.
type Monitor struct {
	cfg   Config
	store *state.Store
	fs    procfs.FS

	havePrevCPU bool
	prevIdle    float64
	prevTotal   float64

	sampleErrors int
}

// New creates a Monitor. procfsMountPoint is typically "/proc".
func New(cfg Config, store *state.Store, procfsMountPoint string) (*Monitor, error) {
	fs, err := procfs.NewFS(procfsMountPoint)
	if err != nil {
		return nil, err
	}
	return &Monitor{cfg: cfg, store: store, fs: fs}, nil
}

// Run samples on SampleInterval until ctx is cancelled. It satisfies the
// pkg/supervisor.RunFunc signature.
func (m *Monitor) Run(ctx context.Context, heartbeat func()) error {
	logger := log.WithComponent("resource")

	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.sample(logger)
			heartbeat()
		}
	}
}

// sample performs one CPU/RAM sample and throttle computation. Transient
// sampling errors retain the previous values and increment an internal
// error counter (spec.md §4.3); they never abort the worker.
func (m *Monitor) sample(logger zerolog.Logger) {
	firstSample := !m.havePrevCPU

	cpuPercent, err := m.sampleCPU()
	if err != nil {
		m.sampleErrors++
		logger.Warn().Err(err).Int("sample_errors", m.sampleErrors).Msg("cpu sample failed, retaining previous value")
		cpuPercent = m.store.CPUPercent()
	}

	ramPercent, err := m.sampleRAM()
	if err != nil {
		m.sampleErrors++
		logger.Warn().Err(err).Int("sample_errors", m.sampleErrors).Msg("ram sample failed, retaining previous value")
		ramPercent = m.store.RAMPercent()
	}

	level := Throttle(cpuPercent, ramPercent, m.cfg.ThresholdT1, m.cfg.ThresholdT2, m.cfg.ThresholdT3)
	if firstSample {
		// No prior CPU delta to trust yet; report no throttling at all
		// rather than just treating CPU as 0, since RAM alone (e.g. an
		// already-busy 8GB edge host at boot) must not trip a throttle
		// level on the very first tick (spec.md §8).
		level = types.ThrottleNone
	}

	m.store.SetCPUPercent(cpuPercent)
	m.store.SetRAMPercent(ramPercent)
	m.store.SetThrottleLevel(level)

	if ramPercent >= m.cfg.CompactThreshold {
		if err := requestMemoryCompaction(); err != nil {
			logger.Warn().Err(err).Msg("memory compaction request failed")
		}
	}
}

// sampleCPU reads the cumulative CPU-jiffy counters from /proc/stat and
// returns a delta-based utilization percentage. The first sample after
// startup has no prior counters to delta against, so it returns 0 and is
// treated as not-yet-valid (spec.md §4.3, §8 boundary behavior).
func (m *Monitor) sampleCPU() (float64, error) {
	stat, err := m.fs.Stat()
	if err != nil {
		return 0, err
	}

	cpu := stat.CPUTotal
	idle := cpu.Idle + cpu.Iowait
	total := cpu.User + cpu.Nice + cpu.System + cpu.Idle + cpu.Iowait + cpu.IRQ + cpu.SoftIRQ + cpu.Steal

	if !m.havePrevCPU {
		m.prevIdle = idle
		m.prevTotal = total
		m.havePrevCPU = true
		return 0, nil
	}

	deltaIdle := idle - m.prevIdle
	deltaTotal := total - m.prevTotal
	m.prevIdle = idle
	m.prevTotal = total

	if deltaTotal <= 0 {
		return 0, nil
	}
	busy := deltaTotal - deltaIdle
	pct := (busy / deltaTotal) * 100.0
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

// sampleRAM reads /proc/meminfo and returns used-memory percentage using
// MemAvailable as the kernel's own estimate of reclaimable-aware
// availability.
func (m *Monitor) sampleRAM() (float64, error) {
	mem, err := m.fs.Meminfo()
	if err != nil {
		return 0, err
	}
	if mem.MemTotal == nil || *mem.MemTotal == 0 {
		return 0, nil
	}
	total := float64(*mem.MemTotal)
	available := total
	if mem.MemAvailable != nil {
		available = float64(*mem.MemAvailable)
	}
	used := total - available
	pct := (used / total) * 100.0
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

// Throttle computes the throttle level from the most recent
// max(cpu_percent, ram_percent) against the three thresholds, per
// spec.md §4.3: 0 if m < t1, 1 if t1 <= m < t2, 2 if t2 <= m < t3, 3 if
// m >= t3.
func Throttle(cpuPercent, ramPercent, t1, t2, t3 float64) types.ThrottleLevel {
	m := cpuPercent
	if ramPercent > m {
		m = ramPercent
	}
	switch {
	case m >= t3:
		return types.ThrottleSevere
	case m >= t2:
		return types.ThrottleModerate
	case m >= t1:
		return types.ThrottleLight
	default:
		return types.ThrottleNone
	}
}
