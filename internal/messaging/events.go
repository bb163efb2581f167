package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/model"
)

const (
	EventStreamName       = "UNITS"
	unitStatusSubject     = "unit.status"
	alertSubject          = "alert"
	SystemMetricsSubject  = "metrics.system"
	eventStreamMaxAge     = 24 * time.Hour
	eventOperationTimeout = 10 * time.Second
)

// EventPublisher persists unit status events, alerts and system snapshots in
// a JetStream stream
type EventPublisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

// NewEventPublisher creates the publisher and makes sure the stream exists
func NewEventPublisher(js nats.JetStreamContext, logger *zap.Logger) (*EventPublisher, error) {
	p := &EventPublisher{
		js:     js,
		logger: logger.Named("event-publisher"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventOperationTimeout)
	defer cancel()

	if err := p.setupStream(ctx); err != nil {
		return nil, fmt.Errorf("failed to setup event stream: %w", err)
	}
	return p, nil
}

func (p *EventPublisher) setupStream(ctx context.Context) error {
	config := &nats.StreamConfig{
		Name: EventStreamName,
		Subjects: []string{
			unitStatusSubject + ".*",
			alertSubject + ".*",
			SystemMetricsSubject,
		},
		Storage: nats.FileStorage,
		MaxAge:  eventStreamMaxAge,
		MaxMsgs: -1,
	}

	if _, err := p.js.StreamInfo(EventStreamName, nats.Context(ctx)); err == nil {
		if _, err := p.js.UpdateStream(config, nats.Context(ctx)); err != nil {
			return fmt.Errorf("failed to update stream: %w", err)
		}
		p.logger.Info("Stream updated", zap.String("stream", EventStreamName))
		return nil
	} else if err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	if _, err := p.js.AddStream(config, nats.Context(ctx)); err != nil {
		if err == nats.ErrStreamNameAlreadyInUse {
			return nil
		}
		return fmt.Errorf("failed to create stream: %w", err)
	}

	p.logger.Info("Stream created", zap.String("stream", EventStreamName))
	return nil
}

// StatusSubject returns the subject a unit's status events are published on
func StatusSubject(unitName string) string {
	return unitStatusSubject + "." + subjectToken(unitName)
}

// AlertSubject returns the subject alerts of a type are published on
func AlertSubject(alertType model.AlertType) string {
	return alertSubject + "." + subjectToken(string(alertType))
}

// PublishStatus publishes one status transition
func (p *EventPublisher) PublishStatus(ctx context.Context, event model.StatusEvent) error {
	return p.publish(ctx, StatusSubject(event.UnitName), event)
}

// PublishAlert publishes an alert
func (p *EventPublisher) PublishAlert(ctx context.Context, alert *model.Alert) error {
	return p.publish(ctx, AlertSubject(alert.Type), alert)
}

// PublishSystemStats publishes a system snapshot
func (p *EventPublisher) PublishSystemStats(ctx context.Context, stats *model.SystemStats) error {
	return p.publish(ctx, SystemMetricsSubject, stats)
}

func (p *EventPublisher) publish(ctx context.Context, subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.js.Publish(subject, data, nats.Context(ctx)); err != nil {
		p.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// subjectToken turns a free-form name into a single subject token
func subjectToken(name string) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '*', '>', '\t':
			return '_'
		}
		return r
	}, strings.ToLower(name))
	if token == "" {
		return "_"
	}
	return token
}
