package units

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/t77yq/camera-agents/internal/agent"
	"github.com/t77yq/camera-agents/internal/framebuf"
	"github.com/t77yq/camera-agents/internal/messaging"
)

// ErrNoSubject is returned by Setup when no publish subject is set
var ErrNoSubject = errors.New("no publish subject configured")

// how long an idle processor sleeps when it misses a ready signal
const idleWait = 10 * time.Millisecond

// FrameProcessorUnit drains a channel and publishes each frame
type FrameProcessorUnit struct {
	channel   *framebuf.Channel
	publisher messaging.FramePublisher
	subject   string
	logger    *zap.Logger
	limiter   *rate.Limiter
}

var _ agent.Behavior = (*FrameProcessorUnit)(nil)

// NewProcessor creates the processor behavior
func NewProcessor(channel *framebuf.Channel, publisher messaging.FramePublisher, subject string, logger *zap.Logger) *FrameProcessorUnit {
	return &FrameProcessorUnit{
		channel:   channel,
		publisher: publisher,
		subject:   subject,
		logger:    logger.Named("processor").With(zap.String("subject", subject)),
		limiter:   rate.NewLimiter(rate.Every(warnEvery), 1),
	}
}

func (p *FrameProcessorUnit) Setup() error {
	if p.subject == "" {
		return ErrNoSubject
	}
	return nil
}

func (p *FrameProcessorUnit) Initialize(ctx context.Context) error {
	p.logger.Info("Frame processor ready")
	return nil
}

// Execute publishes frames until stop is requested
func (p *FrameProcessorUnit) Execute(ctx context.Context, ctl agent.Control) error {
	idle := time.NewTimer(idleWait)
	defer idle.Stop()

	for !ctl.ShouldStop() {
		ctl.HandlePause()
		if ctl.ShouldStop() {
			break
		}
		if ctl.CheckTimeout() {
			return nil
		}

		frame, ok := p.channel.Read()
		if !ok {
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(idleWait)

			select {
			case <-ctx.Done():
			case <-p.channel.Ready():
			case <-idle.C:
			}
			continue
		}

		if err := p.publisher.SendFrame(ctx, p.subject, messaging.NewFrameMessage(frame)); err != nil {
			if ctx.Err() != nil {
				break
			}
			ctl.IncrementErrors()
			if p.limiter.Allow() {
				p.logger.Warn("Failed to publish frame",
					zap.Int("camera", frame.CameraID),
					zap.Uint64("frame", frame.Seq),
					zap.Error(err))
			}
			continue
		}
		ctl.IncrementIterations()
	}
	return nil
}

func (p *FrameProcessorUnit) Cleanup() error {
	p.logger.Info("Frame processor stopped",
		zap.Int("pending", p.channel.Size()))
	return nil
}
