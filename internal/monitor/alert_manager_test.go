package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/camera-agents/internal/messaging"
	"github.com/t77yq/camera-agents/internal/model"
	"github.com/t77yq/camera-agents/internal/testutil"
)

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []*model.Alert
}

func (r *recordingAlerts) PublishAlert(ctx context.Context, alert *model.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingAlerts) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

func TestAlertManager_Rules(t *testing.T) {
	manager := NewAlertManager(zap.NewNop(), nil, nil)

	rule1 := &model.AlertRule{
		Name:     "Unit Failure",
		Type:     model.AlertTypeUnitFailure,
		Severity: model.AlertSeverityError,
	}
	require.NoError(t, manager.AddRule(rule1))
	require.NotEmpty(t, rule1.ID)
	require.False(t, rule1.CreatedAt.IsZero())
	require.Equal(t, rule1.CreatedAt, rule1.UpdatedAt)

	rule2 := &model.AlertRule{
		Name:     "Restart Loop",
		Type:     model.AlertTypeRestartLoop,
		Severity: model.AlertSeverityCritical,
	}
	require.NoError(t, manager.AddRule(rule2))
	require.NotEqual(t, rule1.ID, rule2.ID)
	assert.Equal(t, DefaultRestartThreshold, rule2.Threshold)

	assert.Error(t, manager.AddRule(&model.AlertRule{Name: "bogus", Type: "disk_full"}))

	rules := manager.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, rule1.ID, rules[0].ID)

	time.Sleep(time.Millisecond)
	rule2.Threshold = 5
	require.NoError(t, manager.UpdateRule(rule2))
	updated, err := manager.GetRule(rule2.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, updated.Threshold)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	require.NoError(t, manager.DeleteRule(rule1.ID))
	_, err = manager.GetRule(rule1.ID)
	assert.Error(t, err)
	assert.Error(t, manager.DeleteRule(rule1.ID))
	assert.Error(t, manager.UpdateRule(&model.AlertRule{ID: "missing"}))
}

func TestAlertManager_HandleStatusEvent(t *testing.T) {
	publisher := &recordingAlerts{}
	manager := NewAlertManager(zaptest.NewLogger(t), nil, publisher)

	failure := &model.AlertRule{Name: "failure", Type: model.AlertTypeUnitFailure, Severity: model.AlertSeverityError}
	timeout := &model.AlertRule{Name: "timeout", Type: model.AlertTypeUnitTimeout, Severity: model.AlertSeverityWarning}
	silenced := &model.AlertRule{Name: "muted", Type: model.AlertTypeUnitFailure, Severity: model.AlertSeverityInfo, Silenced: true}
	require.NoError(t, manager.AddRule(failure))
	require.NoError(t, manager.AddRule(timeout))
	require.NoError(t, manager.AddRule(silenced))

	manager.HandleStatusEvent(model.StatusEvent{
		UnitID: "u1", UnitName: "CameraAgent 0",
		From: model.UnitStatusRunning, To: model.UnitStatusCompleted,
	})
	assert.Empty(t, manager.Alerts())

	manager.HandleStatusEvent(model.StatusEvent{
		UnitID: "u1", UnitName: "CameraAgent 0",
		From: model.UnitStatusInitializing, To: model.UnitStatusFailed,
		Message: "camera missing",
	})
	manager.HandleStatusEvent(model.StatusEvent{
		UnitID: "u2", UnitName: "FrameProcessor 0",
		From: model.UnitStatusRunning, To: model.UnitStatusTimeout,
	})

	alerts := manager.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, failure.ID, alerts[0].RuleID)
	assert.Equal(t, model.AlertTypeUnitFailure, alerts[0].Type)
	assert.Equal(t, "CameraAgent 0", alerts[0].UnitName)
	assert.Equal(t, "camera missing", alerts[0].Data["message"])
	assert.Equal(t, model.AlertTypeUnitTimeout, alerts[1].Type)
	assert.Equal(t, 2, publisher.count())
}

func TestAlertManager_HandleRestart(t *testing.T) {
	manager := NewAlertManager(zap.NewNop(), nil, nil)
	rule := &model.AlertRule{Name: "loop", Type: model.AlertTypeRestartLoop, Threshold: 2, Severity: model.AlertSeverityCritical}
	require.NoError(t, manager.AddRule(rule))

	for attempt := 1; attempt <= 4; attempt++ {
		manager.HandleRestart("u1", "CameraAgent 1", attempt)
	}

	alerts := manager.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertTypeRestartLoop, alerts[0].Type)
	assert.Equal(t, 2, alerts[0].Data["attempt"])
}

func TestAlertManager_RecentAlertsBounded(t *testing.T) {
	manager := NewAlertManager(zap.NewNop(), nil, nil)
	require.NoError(t, manager.AddRule(&model.AlertRule{Name: "failure", Type: model.AlertTypeUnitFailure}))

	for i := 0; i < maxRecentAlerts+10; i++ {
		manager.HandleStatusEvent(model.StatusEvent{UnitName: "u", To: model.UnitStatusFailed})
	}
	assert.Len(t, manager.Alerts(), maxRecentAlerts)
}

func TestAlertManager_ConsumesEventStream(t *testing.T) {
	logger := zaptest.NewLogger(t)
	_, _, js := testutil.StartJetStream(t)

	events, err := messaging.NewEventPublisher(js, logger)
	require.NoError(t, err)

	manager := NewAlertManager(logger, js, events)
	rule := &model.AlertRule{Name: "failure", Type: model.AlertTypeUnitFailure, Severity: model.AlertSeverityError}
	require.NoError(t, manager.AddRule(rule))

	alertReceived := make(chan model.Alert, 1)
	sub, err := js.Subscribe(messaging.AlertSubject(model.AlertTypeUnitFailure), func(msg *nats.Msg) {
		var alert model.Alert
		if err := json.Unmarshal(msg.Data, &alert); err == nil {
			alertReceived <- alert
		}
		msg.Ack()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, manager.Start(ctx))
	defer manager.Stop()

	require.NoError(t, events.PublishStatus(ctx, model.StatusEvent{
		UnitID:   "cam_0",
		UnitName: "CameraAgent 0",
		From:     model.UnitStatusRunning,
		To:       model.UnitStatusFailed,
		At:       time.Now(),
	}))

	select {
	case alert := <-alertReceived:
		assert.Equal(t, rule.ID, alert.RuleID)
		assert.Equal(t, "cam_0", alert.UnitID)
		assert.Equal(t, model.AlertSeverityError, alert.Severity)
	case <-ctx.Done():
		t.Fatal("timeout waiting for alert")
	}
}
