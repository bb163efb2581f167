package model

import "time"

// UnitStats is a point-in-time snapshot of a unit's counters and timing
type UnitStats struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name"`
	Status              UnitStatus    `json:"status"`
	Priority            UnitPriority  `json:"priority"`
	Running             bool          `json:"running"`
	Iterations          uint64        `json:"iterations"`
	Errors              uint64        `json:"errors"`
	IterationsPerSecond float64       `json:"iterations_per_second"`
	Runtime             time.Duration `json:"runtime"`
	StartedAt           time.Time     `json:"started_at"`
	EndedAt             time.Time     `json:"ended_at,omitempty"`
}

// StatusEvent records a single status transition of a unit
type StatusEvent struct {
	UnitID   string     `json:"unit_id"`
	UnitName string     `json:"unit_name"`
	From     UnitStatus `json:"from"`
	To       UnitStatus `json:"to"`
	Message  string     `json:"message,omitempty"`
	At       time.Time  `json:"at"`
}

// ChannelStats describes the state of a bounded frame channel
type ChannelStats struct {
	Capacity    int    `json:"capacity"`
	Size        int    `json:"size"`
	Written     uint64 `json:"written"`
	Read        uint64 `json:"read"`
	Overwritten uint64 `json:"overwritten"`
}

// SystemStats represents host resource usage sampled by the monitor
type SystemStats struct {
	CPUUsage    float64     `json:"cpu_usage"`
	MemoryUsage float64     `json:"memory_usage"`
	Units       []UnitStats `json:"units"`
	CollectedAt time.Time   `json:"collected_at"`
}
