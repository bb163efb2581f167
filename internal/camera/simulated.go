package camera

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/model"
)

const (
	DefaultWidth  = 640
	DefaultHeight = 480
	DefaultFPS    = 30

	EncodingGray8 = "gray8"
)

// SimulatedConfig configures a SimulatedCamera
type SimulatedConfig struct {
	Index  int
	Width  int
	Height int
	FPS    int
	// DropEvery makes every Nth capture come back empty. Zero disables it.
	DropEvery int
}

// SimulatedCamera produces synthetic gray frames at a fixed rate
type SimulatedCamera struct {
	config SimulatedConfig
	logger *zap.Logger

	mu         sync.Mutex
	open       bool
	configured bool
	capturing  bool
	ticker     *time.Ticker
	seq        uint64
	captures   uint64
}

// NewSimulated creates a simulated camera
func NewSimulated(config SimulatedConfig, logger *zap.Logger) *SimulatedCamera {
	if config.Width <= 0 {
		config.Width = DefaultWidth
	}
	if config.Height <= 0 {
		config.Height = DefaultHeight
	}
	if config.FPS <= 0 {
		config.FPS = DefaultFPS
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SimulatedCamera{
		config: config,
		logger: logger.Named("camera").With(zap.Int("camera", config.Index)),
	}
}

func (c *SimulatedCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.open = true
	c.logger.Info("Camera opened")
	return nil
}

func (c *SimulatedCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil
	}
	c.stopLocked()
	c.open = false
	c.configured = false
	c.logger.Info("Camera closed")
	return nil
}

func (c *SimulatedCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *SimulatedCamera) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return ErrNotOpen
	}
	c.configured = true
	c.logger.Info("Camera configured",
		zap.Int("width", c.config.Width),
		zap.Int("height", c.config.Height),
		zap.Int("fps", c.config.FPS))
	return nil
}

func (c *SimulatedCamera) IsConfigured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configured
}

func (c *SimulatedCamera) SetResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidResolution, width, height)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.config.Width = width
	c.config.Height = height
	// a new resolution needs a fresh Initialize
	c.configured = false
	return nil
}

func (c *SimulatedCamera) StartCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return ErrNotOpen
	}
	if !c.configured {
		return ErrNotConfigured
	}
	if c.capturing {
		return nil
	}

	c.ticker = time.NewTicker(time.Second / time.Duration(c.config.FPS))
	c.capturing = true
	c.logger.Info("Capture started")
	return nil
}

func (c *SimulatedCamera) StopCapture() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	return nil
}

func (c *SimulatedCamera) stopLocked() {
	if !c.capturing {
		return
	}
	c.ticker.Stop()
	c.capturing = false
	c.logger.Info("Capture stopped")
}

func (c *SimulatedCamera) NextFrame(ctx context.Context) (*model.Frame, error) {
	c.mu.Lock()
	if !c.capturing {
		c.mu.Unlock()
		return nil, ErrNotCapturing
	}
	tick := c.ticker.C
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-tick:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.captures++
	if c.config.DropEvery > 0 && c.captures%uint64(c.config.DropEvery) == 0 {
		return nil, ErrNoFrame
	}

	c.seq++
	return &model.Frame{
		CameraID:  c.config.Index,
		Seq:       c.seq,
		Width:     c.config.Width,
		Height:    c.config.Height,
		Encoding:  EncodingGray8,
		Data:      gradient(c.config.Width, c.config.Height, c.seq),
		Timestamp: time.Now(),
	}, nil
}

// gradient renders a diagonal ramp that shifts by one step per frame
func gradient(width, height int, seq uint64) []byte {
	data := make([]byte, width*height)
	offset := int(seq % 256)
	for y := 0; y < height; y++ {
		row := data[y*width : (y+1)*width]
		for x := range row {
			row[x] = byte(x + y + offset)
		}
	}
	return data
}
