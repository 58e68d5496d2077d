// ABOUTME: Periodic heartbeat monitor that decays stale agents one state per cycle
// ABOUTME: Guards against overlapping cycles when a sweep overruns its period

package registry

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Monitor periodically evaluates registry entries for staleness and applies
// liveness transitions. It runs as a single task; a cycle that overruns its
// period causes the next tick to be skipped rather than overlapped.
type Monitor struct {
	registry  *Registry
	period    time.Duration
	threshold time.Duration
	missLimit int
	running   atomic.Bool
	logger    *slog.Logger
}

// NewMonitor creates a heartbeat monitor for the given registry.
func NewMonitor(reg *Registry, period, threshold time.Duration, missLimit int, logger *slog.Logger) *Monitor {
	return &Monitor{
		registry:  reg,
		period:    period,
		threshold: threshold,
		missLimit: missLimit,
		logger:    logger.With("component", "monitor"),
	}
}

// Run executes the monitor loop until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("heartbeat monitor started",
		"period", m.period,
		"threshold", m.threshold,
		"miss_limit", m.missLimit,
	)

	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("heartbeat monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(time.Now())
		}
	}
}

// Sweep runs a single monitor cycle. Returns the transitions applied, or
// nil if a previous cycle is still in flight.
func (m *Monitor) Sweep(now time.Time) []Transition {
	if !m.running.CompareAndSwap(false, true) {
		m.logger.Warn("monitor cycle overrun, skipping tick")
		return nil
	}
	defer m.running.Store(false)

	transitions := m.registry.AdvanceStale(now, m.threshold, m.missLimit)
	if len(transitions) > 0 {
		m.logger.Info("liveness sweep applied transitions", "count", len(transitions))
	}
	return transitions
}
