package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/model"
	"github.com/t77yq/camera-agents/internal/testutil"
)

func testFrame(seq uint64, size int) *model.Frame {
	return &model.Frame{
		CameraID:  1,
		Seq:       seq,
		Width:     size,
		Height:    1,
		Encoding:  "gray8",
		Data:      make([]byte, size),
		Timestamp: time.Now(),
	}
}

func TestFrameSubject(t *testing.T) {
	assert.Equal(t, "frames.camera.0", FrameSubject("", 0))
	assert.Equal(t, "lab.cam.3", FrameSubject("lab.cam", 3))
}

func TestStatusSubject(t *testing.T) {
	assert.Equal(t, "unit.status.cameraagent_0", StatusSubject("CameraAgent 0"))
	assert.Equal(t, "unit.status.a_b_c", StatusSubject("a.b*c"))
	assert.Equal(t, "unit.status._", StatusSubject(""))
	assert.Equal(t, "alert.unit_failure", AlertSubject(model.AlertTypeUnitFailure))
}

func TestNATSPublisher_SendFrame(t *testing.T) {
	_, nc := testutil.StartNATS(t)
	logger := zap.NewNop()

	publisher := NewNATSPublisher(nc, logger)
	subscriber := NewFrameSubscriber(nc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *FrameMessage, 1)
	require.NoError(t, subscriber.Subscribe(ctx, "frames.camera.*", func(msg *FrameMessage) {
		received <- msg
	}))
	require.NoError(t, nc.Flush())

	frame := testFrame(7, 16)
	frame.Data[0] = 42
	require.NoError(t, publisher.SendFrame(ctx, FrameSubject("", 1), NewFrameMessage(frame)))

	select {
	case msg := <-received:
		assert.Equal(t, 1, msg.CameraID)
		assert.Equal(t, uint64(7), msg.FrameNumber)
		assert.Equal(t, 16, msg.Width)
		assert.Equal(t, "gray8", msg.Encoding)
		assert.Equal(t, byte(42), msg.Data[0])
		assert.False(t, msg.PublishedAt.IsZero())
		assert.WithinDuration(t, frame.Timestamp, msg.CapturedAt, time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not received")
	}
}

func TestNATSPublisher_PayloadTooLarge(t *testing.T) {
	_, nc := testutil.StartNATS(t)
	publisher := NewNATSPublisher(nc, zap.NewNop())

	frame := testFrame(1, int(nc.MaxPayload()))
	err := publisher.SendFrame(context.Background(), "frames.camera.1", NewFrameMessage(frame))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestNATSPublisher_Closed(t *testing.T) {
	_, nc := testutil.StartNATS(t)
	publisher := NewNATSPublisher(nc, zap.NewNop())
	nc.Close()

	err := publisher.SendFrame(context.Background(), "frames.camera.1", NewFrameMessage(testFrame(1, 4)))
	assert.ErrorIs(t, err, ErrNotConnected)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = publisher.SendFrame(ctx, "frames.camera.1", NewFrameMessage(testFrame(1, 4)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventPublisher(t *testing.T) {
	_, _, js := testutil.StartJetStream(t)
	logger := zap.NewNop()

	publisher, err := NewEventPublisher(js, logger)
	require.NoError(t, err)

	t.Run("Setup", func(t *testing.T) {
		stream, err := js.StreamInfo(EventStreamName)
		require.NoError(t, err)
		assert.Equal(t, []string{"unit.status.*", "alert.*", "metrics.system"}, stream.Config.Subjects)

		// setting up again updates the existing stream
		_, err = NewEventPublisher(js, logger)
		require.NoError(t, err)
	})

	t.Run("Status", func(t *testing.T) {
		event := model.StatusEvent{
			UnitID:   "cam_1",
			UnitName: "CameraAgent 1",
			From:     model.UnitStatusRunning,
			To:       model.UnitStatusFailed,
			Message:  "capture failed",
			At:       time.Now(),
		}
		require.NoError(t, publisher.PublishStatus(context.Background(), event))

		msgs := testutil.FetchStreamMessages(t, js, "unit.status.cameraagent_1", 1)
		require.Len(t, msgs, 1)

		var got model.StatusEvent
		require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
		assert.Equal(t, event.UnitID, got.UnitID)
		assert.Equal(t, model.UnitStatusFailed, got.To)
	})

	t.Run("Alert", func(t *testing.T) {
		alert := &model.Alert{
			ID:       "a1",
			Type:     model.AlertTypeRestartLoop,
			Severity: model.AlertSeverityCritical,
			UnitName: "CameraAgent 1",
			Message:  "restarted 5 times",
		}
		require.NoError(t, publisher.PublishAlert(context.Background(), alert))

		msgs := testutil.FetchStreamMessages(t, js, "alert.restart_loop", 1)
		require.Len(t, msgs, 1)
	})

	t.Run("SystemStats", func(t *testing.T) {
		stats := &model.SystemStats{CPUUsage: 12.5, MemoryUsage: 40, CollectedAt: time.Now()}
		require.NoError(t, publisher.PublishSystemStats(context.Background(), stats))

		msgs := testutil.FetchStreamMessages(t, js, SystemMetricsSubject, 1)
		require.Len(t, msgs, 1)

		var got model.SystemStats
		require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
		assert.Equal(t, 12.5, got.CPUUsage)
	})
}
