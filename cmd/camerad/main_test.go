package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/t77yq/camera-agents/internal/config"
	"github.com/t77yq/camera-agents/internal/messaging"
)

func TestNewLogger(t *testing.T) {
	l, err := newLogger(config.AppConfig{Name: "camerad", LogLevel: "debug"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = newLogger(config.AppConfig{Name: "camerad", LogLevel: "warn", Development: true})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))

	_, err = newLogger(config.AppConfig{LogLevel: "chatty"})
	assert.Error(t, err)
}

func TestFrameCounter(t *testing.T) {
	c := &frameCounter{counts: make(map[int]int), last: make(map[int]uint64)}
	c.add(&messaging.FrameMessage{CameraID: 0, FrameNumber: 1})
	c.add(&messaging.FrameMessage{CameraID: 0, FrameNumber: 2})
	c.add(&messaging.FrameMessage{CameraID: 1, FrameNumber: 7})

	counts, last := c.drain()
	assert.Equal(t, 2, counts[0])
	assert.Equal(t, uint64(7), last[1])

	counts, last = c.drain()
	assert.Empty(t, counts)
	assert.Equal(t, uint64(2), last[0])
}

func TestConfigFileLoads(t *testing.T) {
	cfg, err := config.Load("../../config/config.yaml")
	require.NoError(t, err)
	assert.Len(t, cfg.Cameras, 2)
	assert.Equal(t, "frames.camera.1", cfg.Cameras[1].Subject)
}

func TestExitCodeError(t *testing.T) {
	assert.Equal(t, "child exited with code 3", exitCodeError(3).Error())
}

func TestIntervalsMustBePositive(t *testing.T) {
	assert.NoError(t, requirePositive("interval", time.Second))
	assert.Error(t, requirePositive("interval", 0))
	assert.Error(t, requirePositive("interval", -time.Second))

	// both commands fail before spawning a child or dialing NATS
	prevStats, prevWatch := statsInterval, watchInterval
	t.Cleanup(func() {
		statsInterval, watchInterval = prevStats, prevWatch
	})

	statsInterval = 0
	err := launchCmd.RunE(launchCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--stats-interval")

	watchInterval = -time.Second
	err = watchCmd.RunE(watchCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--interval")
}
