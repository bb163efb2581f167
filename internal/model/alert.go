package model

import "time"

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityError    AlertSeverity = "error"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertType represents the type of alert
type AlertType string

const (
	AlertTypeUnitFailure AlertType = "unit_failure"
	AlertTypeUnitTimeout AlertType = "unit_timeout"
	AlertTypeRestartLoop AlertType = "restart_loop"
)

// AlertRule defines a rule for generating alerts
type AlertRule struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Type      AlertType     `json:"type"`
	Threshold int           `json:"threshold,omitempty"`
	Severity  AlertSeverity `json:"severity"`
	Silenced  bool          `json:"silenced"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Alert represents an alert event
type Alert struct {
	ID        string                 `json:"id"`
	RuleID    string                 `json:"rule_id"`
	Type      AlertType              `json:"type"`
	Severity  AlertSeverity          `json:"severity"`
	UnitID    string                 `json:"unit_id"`
	UnitName  string                 `json:"unit_name"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
