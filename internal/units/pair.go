package units

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/agent"
	"github.com/t77yq/camera-agents/internal/camera"
	"github.com/t77yq/camera-agents/internal/framebuf"
	"github.com/t77yq/camera-agents/internal/messaging"
	"github.com/t77yq/camera-agents/internal/model"
)

// PairConfig configures the capture and processor units of one camera
type PairConfig struct {
	CameraIndex          int
	Width                int
	Height               int
	BufferSize           int
	Subject              string
	MaxConsecutiveErrors int
}

// Pair is one camera's capture unit, processor unit and the channel between them
type Pair struct {
	Index     int
	Channel   *framebuf.Channel
	Capture   *agent.Unit
	Processor *agent.Unit
}

// NewPair wires a camera to a publisher through a new frame channel
func NewPair(config PairConfig, cam camera.Camera, publisher messaging.FramePublisher, logger *zap.Logger) (*Pair, error) {
	channel, err := framebuf.New(config.BufferSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create frame channel for camera %d: %w", config.CameraIndex, err)
	}

	logger = logger.With(zap.Int("camera", config.CameraIndex))

	capture := agent.New(
		fmt.Sprintf("CameraAgent %d", config.CameraIndex),
		NewCapture(cam, channel, CaptureConfig{
			Width:                config.Width,
			Height:               config.Height,
			MaxConsecutiveErrors: config.MaxConsecutiveErrors,
		}, logger),
		logger)
	capture.SetPriority(model.UnitPriorityHigh)

	processor := agent.New(
		fmt.Sprintf("FrameProcessor %d", config.CameraIndex),
		NewProcessor(channel, publisher, config.Subject, logger),
		logger)

	return &Pair{
		Index:     config.CameraIndex,
		Channel:   channel,
		Capture:   capture,
		Processor: processor,
	}, nil
}

// Units returns the pair's units, capture first
func (p *Pair) Units() []*agent.Unit {
	return []*agent.Unit{p.Capture, p.Processor}
}
