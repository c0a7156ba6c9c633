package metrics

import (
	"time"
)

// SchedulerSource exposes the scheduler state the collector samples
type SchedulerSource interface {
	DaemonCount() int
	MonitorCount() int
}

// Collector periodically copies scheduler state into gauges
type Collector struct {
	source   SchedulerSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(src SchedulerSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   src,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	SchedulerDaemons.Set(float64(c.source.DaemonCount()))
	SchedulerMonitors.Set(float64(c.source.MonitorCount()))
}
