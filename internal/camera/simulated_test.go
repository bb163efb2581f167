package camera

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSimulatedCamera_Lifecycle(t *testing.T) {
	cam := NewSimulated(SimulatedConfig{Index: 1, Width: 8, Height: 4, FPS: 200}, zap.NewNop())
	var _ Camera = cam

	assert.False(t, cam.IsOpen())
	assert.ErrorIs(t, cam.Initialize(), ErrNotOpen)
	assert.ErrorIs(t, cam.StartCapture(), ErrNotOpen)

	require.NoError(t, cam.Open())
	assert.True(t, cam.IsOpen())
	assert.ErrorIs(t, cam.StartCapture(), ErrNotConfigured)

	require.NoError(t, cam.Initialize())
	assert.True(t, cam.IsConfigured())

	_, err := cam.NextFrame(context.Background())
	assert.ErrorIs(t, err, ErrNotCapturing)

	require.NoError(t, cam.StartCapture())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := cam.NextFrame(ctx)
	require.NoError(t, err)
	second, err := cam.NextFrame(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, first.CameraID)
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, 8, first.Width)
	assert.Equal(t, 4, first.Height)
	assert.Equal(t, EncodingGray8, first.Encoding)
	assert.Len(t, first.Data, 32)
	assert.NotEqual(t, first.Data, second.Data)

	require.NoError(t, cam.StopCapture())
	require.NoError(t, cam.Close())
	assert.False(t, cam.IsOpen())
	assert.False(t, cam.IsConfigured())
	assert.NoError(t, cam.Close())
}

func TestSimulatedCamera_Defaults(t *testing.T) {
	cam := NewSimulated(SimulatedConfig{}, nil)
	assert.Equal(t, DefaultWidth, cam.config.Width)
	assert.Equal(t, DefaultHeight, cam.config.Height)
	assert.Equal(t, DefaultFPS, cam.config.FPS)
}

func TestSimulatedCamera_SetResolution(t *testing.T) {
	cam := NewSimulated(SimulatedConfig{}, zap.NewNop())
	require.NoError(t, cam.Open())
	require.NoError(t, cam.Initialize())

	assert.ErrorIs(t, cam.SetResolution(0, 10), ErrInvalidResolution)
	require.NoError(t, cam.SetResolution(16, 16))
	assert.False(t, cam.IsConfigured())
}

func TestSimulatedCamera_DropEvery(t *testing.T) {
	cam := NewSimulated(SimulatedConfig{Width: 2, Height: 2, FPS: 500, DropEvery: 3}, zap.NewNop())
	require.NoError(t, cam.Open())
	require.NoError(t, cam.Initialize())
	require.NoError(t, cam.StartCapture())
	defer cam.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var dropped int
	for i := 0; i < 6; i++ {
		_, err := cam.NextFrame(ctx)
		if err != nil {
			require.ErrorIs(t, err, ErrNoFrame)
			dropped++
		}
	}
	assert.Equal(t, 2, dropped)
}

func TestSimulatedCamera_NextFrameHonorsContext(t *testing.T) {
	cam := NewSimulated(SimulatedConfig{FPS: 1}, zap.NewNop())
	require.NoError(t, cam.Open())
	require.NoError(t, cam.Initialize())
	require.NoError(t, cam.StartCapture())
	defer cam.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := cam.NextFrame(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
