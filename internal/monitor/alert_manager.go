package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/model"
)

const (
	maxRecentAlerts = 100

	// DefaultRestartThreshold is used by restart_loop rules without a threshold
	DefaultRestartThreshold = 3

	statusEventSubject = "unit.status.*"
)

// AlertPublisher delivers alerts to the messaging layer
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert *model.Alert) error
}

// AlertManager turns unit failures, timeouts and restart loops into alerts
type AlertManager struct {
	logger    *zap.Logger
	js        nats.JetStreamContext
	publisher AlertPublisher
	rules     sync.Map
	mu        sync.RWMutex
	alerts    []*model.Alert
	sub       *nats.Subscription
}

// NewAlertManager creates a new alert manager. js and publisher may be nil,
// in which case status events must be passed to HandleStatusEvent directly
// and alerts are only kept in memory.
func NewAlertManager(logger *zap.Logger, js nats.JetStreamContext, publisher AlertPublisher) *AlertManager {
	return &AlertManager{
		logger:    logger.Named("alert-manager"),
		js:        js,
		publisher: publisher,
	}
}

// Start subscribes to unit status events on JetStream
func (m *AlertManager) Start(ctx context.Context) error {
	if m.js == nil {
		return nil
	}

	sub, err := m.js.Subscribe(statusEventSubject, m.handleStatusMsg, nats.DeliverNew())
	if err != nil {
		return fmt.Errorf("failed to subscribe to unit status: %w", err)
	}
	m.sub = sub

	m.logger.Info("Alert manager started")
	return nil
}

// Stop ends the status subscription
func (m *AlertManager) Stop() {
	if m.sub != nil {
		if err := m.sub.Unsubscribe(); err != nil {
			m.logger.Debug("Failed to unsubscribe", zap.Error(err))
		}
		m.sub = nil
	}
}

// GetRule returns a rule by ID
func (m *AlertManager) GetRule(id string) (*model.AlertRule, error) {
	value, ok := m.rules.Load(id)
	if !ok {
		return nil, fmt.Errorf("rule not found: %s", id)
	}
	return value.(*model.AlertRule), nil
}

// Rules returns every rule ordered by creation time
func (m *AlertManager) Rules() []*model.AlertRule {
	var rules []*model.AlertRule
	m.rules.Range(func(key, value interface{}) bool {
		rules = append(rules, value.(*model.AlertRule))
		return true
	})
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules
}

// AddRule adds a new alert rule
func (m *AlertManager) AddRule(rule *model.AlertRule) error {
	switch rule.Type {
	case model.AlertTypeUnitFailure, model.AlertTypeUnitTimeout, model.AlertTypeRestartLoop:
	default:
		return fmt.Errorf("unknown alert type: %s", rule.Type)
	}

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.Type == model.AlertTypeRestartLoop && rule.Threshold <= 0 {
		rule.Threshold = DefaultRestartThreshold
	}
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt
	m.rules.Store(rule.ID, rule)
	return nil
}

// UpdateRule updates an existing alert rule
func (m *AlertManager) UpdateRule(rule *model.AlertRule) error {
	if _, ok := m.rules.Load(rule.ID); !ok {
		return fmt.Errorf("rule not found: %s", rule.ID)
	}
	rule.UpdatedAt = time.Now()
	m.rules.Store(rule.ID, rule)
	return nil
}

// DeleteRule deletes an alert rule
func (m *AlertManager) DeleteRule(id string) error {
	if _, ok := m.rules.Load(id); !ok {
		return fmt.Errorf("rule not found: %s", id)
	}
	m.rules.Delete(id)
	return nil
}

// Alerts returns the most recent alerts, oldest first
func (m *AlertManager) Alerts() []*model.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alerts := make([]*model.Alert, len(m.alerts))
	copy(alerts, m.alerts)
	return alerts
}

func (m *AlertManager) handleStatusMsg(msg *nats.Msg) {
	var event model.StatusEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		m.logger.Error("Failed to unmarshal status event", zap.Error(err))
		return
	}
	m.HandleStatusEvent(event)
	if err := msg.Ack(); err != nil {
		m.logger.Debug("Failed to ack status event", zap.Error(err))
	}
}

// HandleStatusEvent raises unit_failure and unit_timeout alerts
func (m *AlertManager) HandleStatusEvent(event model.StatusEvent) {
	var alertType model.AlertType
	switch event.To {
	case model.UnitStatusFailed:
		alertType = model.AlertTypeUnitFailure
	case model.UnitStatusTimeout:
		alertType = model.AlertTypeUnitTimeout
	default:
		return
	}

	m.eachRule(alertType, func(rule *model.AlertRule) {
		m.createAlert(rule, event.UnitID, event.UnitName,
			fmt.Sprintf("Unit %s changed from %s to %s", event.UnitName, event.From, event.To),
			map[string]interface{}{
				"from":    string(event.From),
				"to":      string(event.To),
				"message": event.Message,
			})
	})
}

// HandleRestart raises restart_loop alerts when a unit's consecutive restart
// attempts reach a rule's threshold
func (m *AlertManager) HandleRestart(unitID, unitName string, attempt int) {
	m.eachRule(model.AlertTypeRestartLoop, func(rule *model.AlertRule) {
		if attempt != rule.Threshold {
			return
		}
		m.createAlert(rule, unitID, unitName,
			fmt.Sprintf("Unit %s restarted %d times in a row", unitName, attempt),
			map[string]interface{}{
				"attempt": attempt,
			})
	})
}

func (m *AlertManager) eachRule(alertType model.AlertType, fn func(rule *model.AlertRule)) {
	m.rules.Range(func(key, value interface{}) bool {
		rule := value.(*model.AlertRule)
		if rule.Type == alertType && !rule.Silenced {
			fn(rule)
		}
		return true
	})
}

// createAlert records and publishes a new alert
func (m *AlertManager) createAlert(rule *model.AlertRule, unitID, unitName, message string, data map[string]interface{}) {
	alert := &model.Alert{
		ID:        uuid.New().String(),
		RuleID:    rule.ID,
		Type:      rule.Type,
		Severity:  rule.Severity,
		UnitID:    unitID,
		UnitName:  unitName,
		Message:   message,
		Data:      data,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.alerts = append(m.alerts, alert)
	if len(m.alerts) > maxRecentAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxRecentAlerts:]
	}
	m.mu.Unlock()

	if m.publisher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.publisher.PublishAlert(ctx, alert); err != nil {
			m.logger.Error("Failed to publish alert",
				zap.String("id", alert.ID),
				zap.Error(err))
		}
	}

	m.logger.Info("Alert created",
		zap.String("id", alert.ID),
		zap.String("rule_id", alert.RuleID),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)),
		zap.String("unit", unitName))
}
