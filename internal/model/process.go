package model

import "time"

// ProcessStatus represents the state of a supervised child process
type ProcessStatus string

const (
	ProcessStatusNotStarted ProcessStatus = "not_started"
	ProcessStatusStarting   ProcessStatus = "starting"
	ProcessStatusRunning    ProcessStatus = "running"
	ProcessStatusStopping   ProcessStatus = "stopping"
	ProcessStatusStopped    ProcessStatus = "stopped"
	ProcessStatusFailed     ProcessStatus = "failed"
	ProcessStatusCrashed    ProcessStatus = "crashed"
)

// ProcessStats represents resource usage of a child process
type ProcessStats struct {
	PID         int       `json:"pid"`
	CPUPercent  float64   `json:"cpu_percent"`
	RSS         uint64    `json:"rss"`
	NumThreads  int32     `json:"num_threads"`
	Uptime      float64   `json:"uptime_seconds"`
	CollectedAt time.Time `json:"collected_at"`
}
