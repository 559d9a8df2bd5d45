// Package limits provides inbound-frame rate limiting and CPU-based
// connection admission control.
package limits

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/time/rate"
)

// NewInboundLimiter builds the per-connection token bucket guarding the
// dispatch loop. Burst absorbs legitimate spikes (rapid order entry);
// the sustained rate caps misbehaving clients.
func NewInboundLimiter(perSec, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

// ResourceGuard rejects new connections when CPU usage exceeds a
// configured threshold. A zero threshold disables the guard entirely.
// CPU is sampled in the background so admission checks stay cheap.
type ResourceGuard struct {
	threshold float64
	logger    zerolog.Logger

	mu         sync.RWMutex
	cpuPercent float64
}

func NewResourceGuard(threshold float64, logger zerolog.Logger) *ResourceGuard {
	return &ResourceGuard{
		threshold: threshold,
		logger:    logger.With().Str("component", "resource_guard").Logger(),
	}
}

// Start launches the CPU sampler. No-op when the guard is disabled.
// The sampler stops when stop is closed.
func (g *ResourceGuard) Start(interval time.Duration, stop <-chan struct{}) {
	if g.threshold <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				percents, err := cpu.Percent(0, false)
				if err != nil || len(percents) == 0 {
					continue
				}
				g.mu.Lock()
				g.cpuPercent = percents[0]
				g.mu.Unlock()
			}
		}
	}()
}

// ShouldAccept reports whether a new connection may be admitted, with a
// reason string for rejection logging.
func (g *ResourceGuard) ShouldAccept() (bool, string) {
	if g.threshold <= 0 {
		return true, ""
	}
	g.mu.RLock()
	current := g.cpuPercent
	g.mu.RUnlock()
	if current > g.threshold {
		return false, "cpu_overloaded"
	}
	return true, ""
}

// CPUPercent returns the most recent CPU sample.
func (g *ResourceGuard) CPUPercent() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cpuPercent
}
