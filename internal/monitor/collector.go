package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/model"
)

// UnitSource provides unit snapshots. *supervisor.Supervisor implements it.
type UnitSource interface {
	Stats() []model.UnitStats
}

// ChannelSource provides a frame channel snapshot. *framebuf.Channel
// implements it.
type ChannelSource interface {
	Stats() model.ChannelStats
}

// SystemPublisher publishes system snapshots
type SystemPublisher interface {
	PublishSystemStats(ctx context.Context, stats *model.SystemStats) error
}

// Collector periodically samples units, frame channels and the host
type Collector struct {
	logger    *zap.Logger
	interval  time.Duration
	units     UnitSource
	metrics   *Metrics
	publisher SystemPublisher

	mu       sync.RWMutex
	channels map[int]ChannelSource
	latest   *model.SystemStats
	stop     chan struct{}
	done     chan struct{}
}

// NewCollector creates a collector. metrics and publisher may be nil.
func NewCollector(units UnitSource, metrics *Metrics, publisher SystemPublisher, interval time.Duration, logger *zap.Logger) *Collector {
	return &Collector{
		logger:    logger.Named("metrics-collector"),
		interval:  interval,
		units:     units,
		metrics:   metrics,
		publisher: publisher,
		channels:  make(map[int]ChannelSource),
	}
}

// AddChannel registers a camera's frame channel for sampling
func (c *Collector) AddChannel(camera int, ch ChannelSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[camera] = ch
}

// Start starts the collection loop
func (c *Collector) Start(ctx context.Context) error {
	c.logger.Info("Starting metrics collector", zap.Duration("interval", c.interval))

	c.mu.Lock()
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	stop, done := c.stop, c.done
	c.mu.Unlock()

	go c.collectLoop(ctx, stop, done)
	return nil
}

// Stop stops the collection loop and waits for it to exit
func (c *Collector) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop = nil
	c.mu.Unlock()

	if stop == nil {
		return
	}
	c.logger.Info("Stopping metrics collector")
	close(stop)
	<-done
}

// collectLoop runs the metrics collection loop
func (c *Collector) collectLoop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect takes one sample, updates the metrics and publishes the snapshot
func (c *Collector) Collect(ctx context.Context) *model.SystemStats {
	stats := &model.SystemStats{CollectedAt: time.Now()}

	// a zero interval compares against the previous call instead of blocking
	if cpuPercent, err := cpu.Percent(0, false); err != nil {
		c.logger.Error("Failed to get CPU usage", zap.Error(err))
	} else if len(cpuPercent) > 0 {
		stats.CPUUsage = cpuPercent[0]
	}

	if memInfo, err := mem.VirtualMemory(); err != nil {
		c.logger.Error("Failed to get memory usage", zap.Error(err))
	} else {
		stats.MemoryUsage = memInfo.UsedPercent
	}

	if c.units != nil {
		stats.Units = c.units.Stats()
	}

	if c.metrics != nil {
		c.metrics.ObserveHost(stats.CPUUsage, stats.MemoryUsage)
		for _, unit := range stats.Units {
			c.metrics.ObserveUnit(unit)
		}
		for camera, ch := range c.channelSnapshot() {
			c.metrics.ObserveChannel(camera, ch)
		}
	}

	c.mu.Lock()
	c.latest = stats
	c.mu.Unlock()

	if c.publisher != nil {
		if err := c.publisher.PublishSystemStats(ctx, stats); err != nil {
			c.logger.Error("Failed to publish metrics", zap.Error(err))
		}
	}

	c.logger.Debug("Metrics collected",
		zap.Float64("cpu_usage", stats.CPUUsage),
		zap.Float64("memory_usage", stats.MemoryUsage),
		zap.Int("unit_count", len(stats.Units)))
	return stats
}

// Latest returns the last collected snapshot, or nil
func (c *Collector) Latest() *model.SystemStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// ChannelStats returns the current snapshot of every registered channel,
// ordered by camera index
func (c *Collector) ChannelStats() []CameraChannelStats {
	snapshot := c.channelSnapshot()

	out := make([]CameraChannelStats, 0, len(snapshot))
	for camera, stats := range snapshot {
		out = append(out, CameraChannelStats{Camera: camera, ChannelStats: stats})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Camera < out[j].Camera })
	return out
}

// CameraChannelStats pairs a channel snapshot with its camera index
type CameraChannelStats struct {
	Camera int
	model.ChannelStats
}

func (c *Collector) channelSnapshot() map[int]model.ChannelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[int]model.ChannelStats, len(c.channels))
	for camera, ch := range c.channels {
		out[camera] = ch.Stats()
	}
	return out
}
