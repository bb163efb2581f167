// Package monitor exports unit and host metrics to Prometheus, publishes
// system snapshots and raises alerts on unit failures.
package monitor

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/t77yq/camera-agents/internal/model"
)

const namespace = "camerad"

// Metrics holds the Prometheus collectors for units, channels and the host
type Metrics struct {
	unitIterations *prometheus.GaugeVec
	unitErrors     *prometheus.GaugeVec
	unitRate       *prometheus.GaugeVec
	unitStatus     *prometheus.GaugeVec
	unitRunning    *prometheus.GaugeVec
	restarts       *prometheus.CounterVec
	transitions    *prometheus.CounterVec

	channelSize        *prometheus.GaugeVec
	channelCapacity    *prometheus.GaugeVec
	channelOverwritten *prometheus.GaugeVec

	hostCPU    prometheus.Gauge
	hostMemory prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		unitIterations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unit_iterations",
			Help:      "Iterations completed by a unit since its last start.",
		}, []string{"unit"}),
		unitErrors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unit_errors",
			Help:      "Errors counted by a unit since its last start.",
		}, []string{"unit"}),
		unitRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unit_iterations_per_second",
			Help:      "Average iteration rate of a unit's current run.",
		}, []string{"unit"}),
		unitStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unit_status",
			Help:      "Numeric status code of a unit (0 not_started ... 7 timeout).",
		}, []string{"unit"}),
		unitRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unit_running",
			Help:      "1 while a unit's goroutine is alive.",
		}, []string{"unit"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_restarts_total",
			Help:      "Restart attempts made by the supervisor.",
		}, []string{"unit"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unit_status_transitions_total",
			Help:      "Status transitions by target status.",
		}, []string{"unit", "status"}),
		channelSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frame_channel_size",
			Help:      "Unread frames in a camera's frame channel.",
		}, []string{"camera"}),
		channelCapacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frame_channel_capacity",
			Help:      "Capacity of a camera's frame channel.",
		}, []string{"camera"}),
		channelOverwritten: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frame_channel_overwritten",
			Help:      "Frames dropped because the channel was full.",
		}, []string{"camera"}),
		hostCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_percent",
			Help:      "Host CPU usage.",
		}),
		hostMemory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_percent",
			Help:      "Host memory usage.",
		}),
	}

	collectors := []prometheus.Collector{
		m.unitIterations, m.unitErrors, m.unitRate, m.unitStatus, m.unitRunning,
		m.restarts, m.transitions,
		m.channelSize, m.channelCapacity, m.channelOverwritten,
		m.hostCPU, m.hostMemory,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metric: %w", err)
		}
	}
	return m, nil
}

// ObserveUnit records a unit snapshot
func (m *Metrics) ObserveUnit(stats model.UnitStats) {
	m.unitIterations.WithLabelValues(stats.Name).Set(float64(stats.Iterations))
	m.unitErrors.WithLabelValues(stats.Name).Set(float64(stats.Errors))
	m.unitRate.WithLabelValues(stats.Name).Set(stats.IterationsPerSecond)
	m.unitStatus.WithLabelValues(stats.Name).Set(float64(stats.Status.Code()))

	running := 0.0
	if stats.Running {
		running = 1
	}
	m.unitRunning.WithLabelValues(stats.Name).Set(running)
}

// ObserveTransition counts a status transition
func (m *Metrics) ObserveTransition(event model.StatusEvent) {
	m.transitions.WithLabelValues(event.UnitName, string(event.To)).Inc()
}

// ObserveRestart counts a restart attempt
func (m *Metrics) ObserveRestart(unitName string) {
	m.restarts.WithLabelValues(unitName).Inc()
}

// ObserveChannel records a frame channel snapshot
func (m *Metrics) ObserveChannel(camera int, stats model.ChannelStats) {
	label := strconv.Itoa(camera)
	m.channelSize.WithLabelValues(label).Set(float64(stats.Size))
	m.channelCapacity.WithLabelValues(label).Set(float64(stats.Capacity))
	m.channelOverwritten.WithLabelValues(label).Set(float64(stats.Overwritten))
}

// ObserveHost records host resource usage
func (m *Metrics) ObserveHost(cpuPercent, memoryPercent float64) {
	m.hostCPU.Set(cpuPercent)
	m.hostMemory.Set(memoryPercent)
}
