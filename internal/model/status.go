package model

// UnitStatus represents the lifecycle state of a supervised unit
type UnitStatus string

const (
	UnitStatusNotStarted   UnitStatus = "not_started"
	UnitStatusInitializing UnitStatus = "initializing"
	UnitStatusRunning      UnitStatus = "running"
	UnitStatusPaused       UnitStatus = "paused"
	UnitStatusStopping     UnitStatus = "stopping"
	UnitStatusCompleted    UnitStatus = "completed"
	UnitStatusFailed       UnitStatus = "failed"
	UnitStatusTimeout      UnitStatus = "timeout"
)

// transitions lists the legal next states for every status.
// Terminal states may only move back to Initializing through a restart.
var transitions = map[UnitStatus][]UnitStatus{
	UnitStatusNotStarted:   {UnitStatusInitializing},
	UnitStatusInitializing: {UnitStatusRunning, UnitStatusFailed, UnitStatusStopping},
	UnitStatusRunning:      {UnitStatusPaused, UnitStatusStopping, UnitStatusCompleted, UnitStatusFailed, UnitStatusTimeout},
	UnitStatusPaused:       {UnitStatusRunning, UnitStatusStopping, UnitStatusFailed, UnitStatusTimeout},
	UnitStatusStopping:     {UnitStatusCompleted, UnitStatusFailed, UnitStatusTimeout},
	UnitStatusCompleted:    {UnitStatusInitializing},
	UnitStatusFailed:       {UnitStatusInitializing},
	UnitStatusTimeout:      {UnitStatusInitializing},
}

// AllUnitStatuses returns every defined status in lifecycle order
func AllUnitStatuses() []UnitStatus {
	return []UnitStatus{
		UnitStatusNotStarted,
		UnitStatusInitializing,
		UnitStatusRunning,
		UnitStatusPaused,
		UnitStatusStopping,
		UnitStatusCompleted,
		UnitStatusFailed,
		UnitStatusTimeout,
	}
}

// IsValid reports whether s is one of the defined statuses
func (s UnitStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether s ends a run
func (s UnitStatus) IsTerminal() bool {
	switch s {
	case UnitStatusCompleted, UnitStatusFailed, UnitStatusTimeout:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is legal
func (s UnitStatus) CanTransitionTo(next UnitStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Code returns a stable numeric code for metrics export
func (s UnitStatus) Code() int {
	for i, status := range AllUnitStatuses() {
		if status == s {
			return i
		}
	}
	return -1
}

// UnitPriority is advisory and only used for logging and ops visibility
type UnitPriority int

const (
	UnitPriorityLow      UnitPriority = 0
	UnitPriorityNormal   UnitPriority = 1
	UnitPriorityHigh     UnitPriority = 2
	UnitPriorityCritical UnitPriority = 3
)

func (p UnitPriority) String() string {
	switch p {
	case UnitPriorityLow:
		return "low"
	case UnitPriorityNormal:
		return "normal"
	case UnitPriorityHigh:
		return "high"
	case UnitPriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}
