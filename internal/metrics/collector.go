// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package metrics

import (
	"context"
	"sync"
	"time"

	"grimm.is/sentinel/internal/clock"
	"grimm.is/sentinel/internal/logging"
)

// Sources are the values the collector samples each interval.
type Sources struct {
	// ScanCount is a cumulative scan counter.
	ScanCount func() uint64
	// DegradationLevel is the current system degradation level.
	DegradationLevel func() int
}

// Collector periodically derives gauges that Prometheus cannot compute on
// its own from cumulative sources.
type Collector struct {
	registry *Registry
	sources  Sources
	logger   *logging.Logger
	interval time.Duration
	clk      clock.Clock

	mu       sync.RWMutex
	prevScan uint64
	prevAt   time.Time
	rate     float64
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCollector creates a collector. A non-positive interval defaults to
// 10 seconds.
func NewCollector(registry *Registry, sources Sources, logger *logging.Logger, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Collector{
		registry: registry,
		sources:  sources,
		logger:   logging.Or(logger, "metrics"),
		interval: interval,
		clk:      clock.Default(),
	}
}

// Start begins periodic collection.
func (c *Collector) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.Collect()
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Collect()
			}
		}
	}()
	c.logger.Debug("metrics collector started", "interval", c.interval)
}

// Stop halts collection and waits for the loop to exit.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// Collect samples the sources once.
func (c *Collector) Collect() {
	now := c.clk.Now()

	if c.sources.DegradationLevel != nil {
		c.registry.SetDegradationLevel(c.sources.DegradationLevel())
	}
	if c.sources.ScanCount == nil {
		return
	}
	count := c.sources.ScanCount()

	c.mu.Lock()
	if !c.prevAt.IsZero() {
		c.rate = c.calculateRate(count, c.prevScan, now.Sub(c.prevAt).Seconds())
	}
	c.prevScan, c.prevAt = count, now
	rate := c.rate
	c.mu.Unlock()

	c.registry.ScanRate.Set(rate)
}

// ScanRate returns the last computed scans per second.
func (c *Collector) ScanRate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rate
}

// calculateRate computes a per-second rate, treating a counter that went
// backwards as reset to zero.
func (c *Collector) calculateRate(current, previous uint64, elapsedSeconds float64) float64 {
	if elapsedSeconds <= 0 {
		return 0
	}
	if current < previous {
		return float64(current) / elapsedSeconds
	}
	return float64(current-previous) / elapsedSeconds
}
