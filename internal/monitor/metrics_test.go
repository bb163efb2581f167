package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/model"
)

type staticUnits []model.UnitStats

func (s staticUnits) Stats() []model.UnitStats { return s }

type staticChannel model.ChannelStats

func (s staticChannel) Stats() model.ChannelStats { return model.ChannelStats(s) }

type recordingSystem struct {
	mu    sync.Mutex
	stats []*model.SystemStats
}

func (r *recordingSystem) PublishSystemStats(ctx context.Context, stats *model.SystemStats) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, stats)
	return nil
}

func (r *recordingSystem) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stats)
}

func TestNewMetrics_RegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestMetrics_Observe(t *testing.T) {
	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	metrics.ObserveUnit(model.UnitStats{
		Name:                "CameraAgent 0",
		Status:              model.UnitStatusRunning,
		Running:             true,
		Iterations:          120,
		Errors:              3,
		IterationsPerSecond: 30,
	})
	assert.Equal(t, 120.0, promtest.ToFloat64(metrics.unitIterations.WithLabelValues("CameraAgent 0")))
	assert.Equal(t, 3.0, promtest.ToFloat64(metrics.unitErrors.WithLabelValues("CameraAgent 0")))
	assert.Equal(t, 30.0, promtest.ToFloat64(metrics.unitRate.WithLabelValues("CameraAgent 0")))
	assert.Equal(t, float64(model.UnitStatusRunning.Code()), promtest.ToFloat64(metrics.unitStatus.WithLabelValues("CameraAgent 0")))
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.unitRunning.WithLabelValues("CameraAgent 0")))

	metrics.ObserveRestart("CameraAgent 0")
	metrics.ObserveRestart("CameraAgent 0")
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.restarts.WithLabelValues("CameraAgent 0")))

	metrics.ObserveTransition(model.StatusEvent{UnitName: "CameraAgent 0", To: model.UnitStatusFailed})
	assert.Equal(t, 1.0, promtest.ToFloat64(metrics.transitions.WithLabelValues("CameraAgent 0", "failed")))

	metrics.ObserveChannel(1, model.ChannelStats{Capacity: 128, Size: 7, Overwritten: 42})
	assert.Equal(t, 7.0, promtest.ToFloat64(metrics.channelSize.WithLabelValues("1")))
	assert.Equal(t, 128.0, promtest.ToFloat64(metrics.channelCapacity.WithLabelValues("1")))
	assert.Equal(t, 42.0, promtest.ToFloat64(metrics.channelOverwritten.WithLabelValues("1")))

	metrics.ObserveHost(12.5, 48)
	assert.Equal(t, 12.5, promtest.ToFloat64(metrics.hostCPU))
	assert.Equal(t, 48.0, promtest.ToFloat64(metrics.hostMemory))
}

func TestCollector_Collect(t *testing.T) {
	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	units := staticUnits{{Name: "CameraAgent 0", Status: model.UnitStatusRunning, Running: true, Iterations: 10}}
	publisher := &recordingSystem{}
	collector := NewCollector(units, metrics, publisher, time.Hour, zap.NewNop())
	collector.AddChannel(1, staticChannel{Capacity: 4, Size: 2})
	collector.AddChannel(0, staticChannel{Capacity: 8, Size: 1})

	assert.Nil(t, collector.Latest())

	stats := collector.Collect(context.Background())
	require.NotNil(t, stats)
	assert.Len(t, stats.Units, 1)
	assert.GreaterOrEqual(t, stats.CPUUsage, 0.0)
	assert.Greater(t, stats.MemoryUsage, 0.0)
	assert.Equal(t, stats, collector.Latest())
	assert.Equal(t, 1, publisher.count())

	assert.Equal(t, 10.0, promtest.ToFloat64(metrics.unitIterations.WithLabelValues("CameraAgent 0")))
	assert.Equal(t, 2.0, promtest.ToFloat64(metrics.channelSize.WithLabelValues("1")))

	channels := collector.ChannelStats()
	require.Len(t, channels, 2)
	assert.Equal(t, 0, channels[0].Camera)
	assert.Equal(t, 8, channels[0].Capacity)
}

func TestCollector_StartStop(t *testing.T) {
	publisher := &recordingSystem{}
	collector := NewCollector(staticUnits{}, nil, publisher, 10*time.Millisecond, zap.NewNop())

	require.NoError(t, collector.Start(context.Background()))
	require.Eventually(t, func() bool {
		return publisher.count() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	collector.Stop()
	n := publisher.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, publisher.count())

	// second stop is a no-op
	collector.Stop()
}
