// Package units holds the concrete behaviors run by the supervisor: a capture
// unit that moves camera frames into a frame channel and a processor unit that
// drains the channel into the messaging layer.
package units

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/t77yq/camera-agents/internal/agent"
	"github.com/t77yq/camera-agents/internal/camera"
	"github.com/t77yq/camera-agents/internal/framebuf"
)

// ErrCaptureStalled is returned when the camera keeps failing to deliver frames
var ErrCaptureStalled = errors.New("camera stopped delivering frames")

// warnings about bad captures or overwrites are logged at most this often
const warnEvery = 5 * time.Second

// CaptureConfig configures a CaptureUnit
type CaptureConfig struct {
	Width  int
	Height int
	// MaxConsecutiveErrors fails the unit after that many capture errors in a
	// row. Zero keeps retrying forever.
	MaxConsecutiveErrors int
}

// CaptureUnit reads frames from a camera and writes them to a channel
type CaptureUnit struct {
	camera  camera.Camera
	channel *framebuf.Channel
	config  CaptureConfig
	logger  *zap.Logger

	errorLimiter     *rate.Limiter
	overwriteLimiter *rate.Limiter
}

var _ agent.Behavior = (*CaptureUnit)(nil)

// NewCapture creates the capture behavior
func NewCapture(cam camera.Camera, channel *framebuf.Channel, config CaptureConfig, logger *zap.Logger) *CaptureUnit {
	return &CaptureUnit{
		camera:           cam,
		channel:          channel,
		config:           config,
		logger:           logger.Named("capture"),
		errorLimiter:     rate.NewLimiter(rate.Every(warnEvery), 1),
		overwriteLimiter: rate.NewLimiter(rate.Every(warnEvery), 1),
	}
}

// Setup applies the configured resolution before the camera is opened
func (c *CaptureUnit) Setup() error {
	if c.config.Width <= 0 && c.config.Height <= 0 {
		return nil
	}
	if err := c.camera.SetResolution(c.config.Width, c.config.Height); err != nil {
		return fmt.Errorf("failed to set resolution: %w", err)
	}
	return nil
}

// Initialize opens and configures the camera if needed
func (c *CaptureUnit) Initialize(ctx context.Context) error {
	if !c.camera.IsOpen() {
		if err := c.camera.Open(); err != nil {
			return fmt.Errorf("failed to open camera: %w", err)
		}
	}
	if !c.camera.IsConfigured() {
		if err := c.camera.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize camera: %w", err)
		}
	}
	return nil
}

// Execute captures until stop is requested
func (c *CaptureUnit) Execute(ctx context.Context, ctl agent.Control) error {
	if err := c.camera.StartCapture(); err != nil {
		return fmt.Errorf("failed to start capture: %w", err)
	}
	defer func() {
		if err := c.camera.StopCapture(); err != nil {
			c.logger.Warn("Failed to stop capture", zap.Error(err))
		}
	}()

	consecutive := 0
	for !ctl.ShouldStop() {
		ctl.HandlePause()
		if ctl.ShouldStop() {
			break
		}
		if ctl.CheckTimeout() {
			return nil
		}

		frame, err := c.camera.NextFrame(ctx)
		if err == nil && frame.Empty() {
			err = camera.ErrNoFrame
		}
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			ctl.IncrementErrors()
			consecutive++
			if c.errorLimiter.Allow() {
				c.logger.Warn("Failed to capture frame",
					zap.Int("consecutive", consecutive),
					zap.Error(err))
			}
			if c.config.MaxConsecutiveErrors > 0 && consecutive >= c.config.MaxConsecutiveErrors {
				return fmt.Errorf("%w: %d errors in a row: %w", ErrCaptureStalled, consecutive, err)
			}
			continue
		}
		consecutive = 0

		if c.channel.Write(frame) && c.overwriteLimiter.Allow() {
			c.logger.Warn("Frame buffer full, dropping oldest frame",
				zap.Int("capacity", c.channel.Capacity()),
				zap.Uint64("overwritten", c.channel.Stats().Overwritten))
		}
		ctl.IncrementIterations()
	}
	return nil
}

// Cleanup closes the camera
func (c *CaptureUnit) Cleanup() error {
	return c.camera.Close()
}
