package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/model"
)

func newHistory(t *testing.T) (*SQLiteHistory, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "history.db")
	history, err := NewSQLiteHistory(zap.NewNop(), path)
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })
	return history, path
}

func event(unit string, from, to model.UnitStatus, at time.Time) model.StatusEvent {
	return model.StatusEvent{
		UnitID:   unit + "_id",
		UnitName: unit,
		From:     from,
		To:       to,
		At:       at,
	}
}

func TestSQLiteHistory(t *testing.T) {
	history, _ := newHistory(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, history.Record(ctx, event("CameraAgent 0", model.UnitStatusNotStarted, model.UnitStatusInitializing, base)))
	require.NoError(t, history.Record(ctx, event("CameraAgent 0", model.UnitStatusInitializing, model.UnitStatusFailed, base.Add(time.Minute))))
	failed := event("FrameProcessor 0", model.UnitStatusRunning, model.UnitStatusFailed, base.Add(2*time.Minute))
	failed.Message = "publish failed"
	require.NoError(t, history.Record(ctx, failed))

	t.Run("List", func(t *testing.T) {
		records, err := history.List(ctx, Filter{}, 0, 10)
		require.NoError(t, err)
		require.Len(t, records, 3)

		// newest first
		assert.Equal(t, "FrameProcessor 0", records[0].UnitName)
		assert.Equal(t, "publish failed", records[0].Message)
		assert.Equal(t, model.UnitStatusRunning, records[0].FromStatus)
		assert.Equal(t, model.UnitStatusInitializing, records[2].ToStatus)
		assert.NotEmpty(t, records[0].ID)
	})

	t.Run("Filter", func(t *testing.T) {
		records, err := history.List(ctx, Filter{UnitName: "CameraAgent 0"}, 0, 10)
		require.NoError(t, err)
		assert.Len(t, records, 2)

		count, err := history.Count(ctx, Filter{ToStatus: model.UnitStatusFailed})
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		count, err = history.Count(ctx, Filter{UnitID: "CameraAgent 0_id", ToStatus: model.UnitStatusFailed})
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		count, err = history.Count(ctx, Filter{Since: base.Add(90 * time.Second)})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("Pagination", func(t *testing.T) {
		records, err := history.List(ctx, Filter{}, 1, 1)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, model.UnitStatusFailed, records[0].ToStatus)
		assert.Equal(t, "CameraAgent 0", records[0].UnitName)
	})

	t.Run("DeleteBefore", func(t *testing.T) {
		deleted, err := history.DeleteBefore(ctx, base.Add(90*time.Second))
		require.NoError(t, err)
		assert.Equal(t, int64(2), deleted)

		count, err := history.Count(ctx, Filter{})
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}

func TestSQLiteHistory_ZeroTimestamp(t *testing.T) {
	history, _ := newHistory(t)
	ctx := context.Background()

	require.NoError(t, history.Record(ctx, event("unit", model.UnitStatusNotStarted, model.UnitStatusInitializing, time.Time{})))

	records, err := history.List(ctx, Filter{}, 0, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.WithinDuration(t, time.Now(), records[0].At, time.Minute)
}

func TestSQLiteHistory_Reopen(t *testing.T) {
	history, path := newHistory(t)
	ctx := context.Background()

	require.NoError(t, history.Record(ctx, event("unit", model.UnitStatusNotStarted, model.UnitStatusInitializing, time.Now())))
	require.NoError(t, history.Close())

	reopened, err := NewSQLiteHistory(zap.NewNop(), path)
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.Count(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
