package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/model"
)

const DefaultFramePrefix = "frames.camera"

// FrameMessage is the wire form of one published frame
type FrameMessage struct {
	CameraID    int       `json:"camera_id"`
	FrameNumber uint64    `json:"frame_number"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	Encoding    string    `json:"encoding"`
	CapturedAt  time.Time `json:"captured_at"`
	PublishedAt time.Time `json:"published_at"`
	Data        []byte    `json:"data"`
}

// NewFrameMessage builds the outbound message for a frame
func NewFrameMessage(frame *model.Frame) *FrameMessage {
	return &FrameMessage{
		CameraID:    frame.CameraID,
		FrameNumber: frame.Seq,
		Width:       frame.Width,
		Height:      frame.Height,
		Encoding:    frame.Encoding,
		CapturedAt:  frame.Timestamp,
		Data:        frame.Data,
	}
}

// FrameSubject returns the subject frames of a camera are published on
func FrameSubject(prefix string, cameraIndex int) string {
	if prefix == "" {
		prefix = DefaultFramePrefix
	}
	return fmt.Sprintf("%s.%d", prefix, cameraIndex)
}

// FramePublisher sends frames to the messaging layer
type FramePublisher interface {
	SendFrame(ctx context.Context, subject string, msg *FrameMessage) error
}

// NATSPublisher publishes frames on core NATS
type NATSPublisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewNATSPublisher creates a frame publisher on an existing connection
func NewNATSPublisher(nc *nats.Conn, logger *zap.Logger) *NATSPublisher {
	return &NATSPublisher{
		nc:     nc,
		logger: logger.Named("frame-publisher"),
	}
}

// SendFrame encodes msg and publishes it on subject
func (p *NATSPublisher) SendFrame(ctx context.Context, subject string, msg *FrameMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.nc == nil || p.nc.IsClosed() {
		return ErrNotConnected
	}

	msg.PublishedAt = time.Now()
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	if max := p.nc.MaxPayload(); max > 0 && int64(len(data)) > max {
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(data), max)
	}

	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish frame: %w", err)
	}
	return nil
}

// FrameSubscriber receives frames published by NATSPublisher
type FrameSubscriber struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewFrameSubscriber creates a frame subscriber on an existing connection
func NewFrameSubscriber(nc *nats.Conn, logger *zap.Logger) *FrameSubscriber {
	return &FrameSubscriber{
		nc:     nc,
		logger: logger.Named("frame-subscriber"),
	}
}

// Subscribe delivers every frame on subject to handler until ctx is done.
// Wildcards are allowed.
func (s *FrameSubscriber) Subscribe(ctx context.Context, subject string, handler func(*FrameMessage)) error {
	sub, err := s.nc.Subscribe(subject, func(msg *nats.Msg) {
		var frame FrameMessage
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			s.logger.Error("Failed to unmarshal frame",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return
		}
		handler(&frame)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			s.logger.Warn("Failed to unsubscribe", zap.Error(err))
		}
	}()
	return nil
}
