// Package camera defines the capture collaborator used by capture units and a
// simulated implementation for hosts without camera hardware.
package camera

import (
	"context"
	"errors"

	"github.com/t77yq/camera-agents/internal/model"
)

var (
	// ErrNoFrame is returned by NextFrame when no frame was produced
	ErrNoFrame = errors.New("no frame available")

	// ErrNotOpen is returned when the camera has not been opened
	ErrNotOpen = errors.New("camera not open")

	// ErrNotConfigured is returned when capture starts before Initialize
	ErrNotConfigured = errors.New("camera not configured")

	// ErrNotCapturing is returned by NextFrame outside StartCapture/StopCapture
	ErrNotCapturing = errors.New("camera not capturing")

	// ErrInvalidResolution is returned for non-positive dimensions
	ErrInvalidResolution = errors.New("invalid resolution")
)

// Camera is the hardware abstraction a capture unit drives
type Camera interface {
	Open() error
	Close() error
	IsOpen() bool
	// Initialize applies the configured resolution and format
	Initialize() error
	IsConfigured() bool
	SetResolution(width, height int) error
	StartCapture() error
	StopCapture() error
	// NextFrame blocks until a frame is captured or ctx is done. It returns
	// ErrNoFrame when a capture produced nothing usable.
	NextFrame(ctx context.Context) (*model.Frame, error)
}
