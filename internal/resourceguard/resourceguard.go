// Package resourceguard samples host resource usage and exposes an
// optional dispatch rate limiter through Guard.Allow. It generalizes the
// teacher's ResourceGuard/system_monitor.go (gopsutil CPU/mem sampling
// feeding a connection-rate limiter) to Babble's single-process executor
// pool. The server builds a Guard and runs its sampler, but neither the
// executor pool nor the session calls Allow, so command dispatch is not
// throttled and the samples are only logged.
package resourceguard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/time/rate"
)

// Snapshot is the most recently sampled resource reading.
type Snapshot struct {
	CPUPercent float64
	MemPercent float64
	SampledAt  time.Time
}

// Guard periodically samples CPU/memory and exposes an optional dispatch
// rate limiter. A zero maxDispatchPerSec disables the limiter, matching
// Config.MaxDispatchPerSec's "0 means unlimited" default.
type Guard struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	snapshot Snapshot

	limiter *rate.Limiter
}

// New creates a Guard. maxDispatchPerSec <= 0 disables dispatch
// throttling entirely (Allow always returns true).
func New(logger zerolog.Logger, maxDispatchPerSec int) *Guard {
	g := &Guard{logger: logger.With().Str("component", "resourceguard").Logger()}
	if maxDispatchPerSec > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(maxDispatchPerSec), maxDispatchPerSec)
	}
	return g
}

// Allow reports whether the executor pool may dispatch another
// rate-limited command right now. Always true when no limiter was
// configured.
func (g *Guard) Allow() bool {
	if g.limiter == nil {
		return true
	}
	return g.limiter.Allow()
}

// Snapshot returns the most recent resource sample.
func (g *Guard) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.snapshot
}

// Run samples CPU and memory every interval until ctx is cancelled,
// logging a warning when either crosses 90%, the same threshold the
// teacher's system_monitor uses for alerting.
func (g *Guard) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sample()
		}
	}
}

func (g *Guard) sample() {
	cpuPercents, err := cpu.Percent(0, false)
	if err != nil {
		g.logger.Warn().Err(err).Msg("cpu sampling failed")
		return
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		g.logger.Warn().Err(err).Msg("memory sampling failed")
		return
	}

	var cpuPct float64
	if len(cpuPercents) > 0 {
		cpuPct = cpuPercents[0]
	}

	snap := Snapshot{
		CPUPercent: cpuPct,
		MemPercent: vm.UsedPercent,
		SampledAt:  time.Now(),
	}

	g.mu.Lock()
	g.snapshot = snap
	g.mu.Unlock()

	if snap.CPUPercent > 90 || snap.MemPercent > 90 {
		g.logger.Warn().
			Float64("cpu_percent", snap.CPUPercent).
			Float64("mem_percent", snap.MemPercent).
			Msg("resource usage above threshold")
	}
}
