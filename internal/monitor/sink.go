package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/model"
)

const (
	sinkQueueSize    = 256
	sinkWriteTimeout = 5 * time.Second
)

// StatusRecorder persists status transitions. *storage.SQLiteHistory
// implements it.
type StatusRecorder interface {
	Record(ctx context.Context, event model.StatusEvent) error
}

// StatusPublisher publishes status transitions. *messaging.EventPublisher
// implements it.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, event model.StatusEvent) error
}

// EventSink fans unit status transitions out to history, the event stream,
// metrics and alerts on its own goroutine, so status changes never wait on
// I/O. Any destination may be nil.
type EventSink struct {
	logger    *zap.Logger
	history   StatusRecorder
	publisher StatusPublisher
	metrics   *Metrics
	alerts    *AlertManager

	queue   chan model.StatusEvent
	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// NewEventSink creates a sink. Pass alerts only when the alert manager does
// not already consume the event stream.
func NewEventSink(history StatusRecorder, publisher StatusPublisher, metrics *Metrics, alerts *AlertManager, logger *zap.Logger) *EventSink {
	return &EventSink{
		logger:    logger.Named("event-sink"),
		history:   history,
		publisher: publisher,
		metrics:   metrics,
		alerts:    alerts,
		queue:     make(chan model.StatusEvent, sinkQueueSize),
		done:      make(chan struct{}),
	}
}

// Start launches the delivery goroutine
func (s *EventSink) Start() {
	s.once.Do(func() {
		go s.loop()
	})
}

// Handle queues an event. It never blocks; events are dropped when the queue
// is full. Its signature matches agent.StatusChangeFunc.
func (s *EventSink) Handle(event model.StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.queue <- event:
	default:
		s.dropped++
		s.logger.Warn("Status event queue full, dropping event",
			zap.String("unit", event.UnitName),
			zap.String("to", string(event.To)),
			zap.Uint64("dropped", s.dropped))
	}
}

// Close stops accepting events, delivers what is queued and waits
func (s *EventSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.Start()
	<-s.done
}

func (s *EventSink) loop() {
	defer close(s.done)
	for event := range s.queue {
		s.deliver(event)
	}
}

func (s *EventSink) deliver(event model.StatusEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
	defer cancel()

	if s.metrics != nil {
		s.metrics.ObserveTransition(event)
	}
	if s.history != nil {
		if err := s.history.Record(ctx, event); err != nil {
			s.logger.Error("Failed to record status event",
				zap.String("unit", event.UnitName),
				zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishStatus(ctx, event); err != nil {
			s.logger.Error("Failed to publish status event",
				zap.String("unit", event.UnitName),
				zap.Error(err))
		}
	}
	if s.alerts != nil {
		s.alerts.HandleStatusEvent(event)
	}
}
