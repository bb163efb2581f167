package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/t77yq/camera-agents/internal/model"
)

type fakePruner struct {
	before time.Time
	err    error
}

func (p *fakePruner) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	p.before = before
	return 7, p.err
}

type fakeStats []model.UnitStats

func (f fakeStats) Stats() []model.UnitStats { return f }

func TestScheduler_Add(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	noop := func(ctx context.Context) error { return nil }

	require.NoError(t, s.Add("a", "*/5 * * * * *", noop))
	require.NoError(t, s.Add("b", "@every 1h", noop))

	err := s.Add("a", "* * * * * *", noop)
	assert.ErrorIs(t, err, ErrDuplicateJob)

	err = s.Add("c", "not a cron", noop)
	assert.Error(t, err)

	// five fields are rejected, seconds are required
	err = s.Add("d", "0 * * * *", noop)
	assert.Error(t, err)

	entries := s.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Name)
	assert.Equal(t, "@every 1h", entries[1].Expression)

	require.NoError(t, s.Remove("a"))
	assert.ErrorIs(t, s.Remove("a"), ErrJobNotFound)
	assert.Len(t, s.Entries(), 1)
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := NewScheduler(zap.NewNop())

	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "* * * * * *", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	require.Eventually(t, func() bool {
		return runs.Load() >= 1
	}, 3*time.Second, 20*time.Millisecond)
	s.Stop()

	entries := s.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Prev.IsZero())
}

func TestScheduler_RunNowRecoversPanics(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewScheduler(zap.New(core))

	require.NoError(t, s.Add("panics", "@every 1h", func(ctx context.Context) error {
		panic("boom")
	}))
	require.NoError(t, s.Add("fails", "@every 1h", func(ctx context.Context) error {
		return errors.New("bad")
	}))

	assert.NotPanics(t, func() {
		require.NoError(t, s.RunNow("panics"))
	})
	require.NoError(t, s.RunNow("fails"))
	assert.ErrorIs(t, s.RunNow("missing"), ErrJobNotFound)

	assert.Equal(t, 1, logs.FilterMessage("panic").Len())
	assert.Equal(t, 1, logs.FilterMessage("Job failed").Len())
}

func TestScheduler_StopCancelsContext(t *testing.T) {
	s := NewScheduler(zap.NewNop())

	var sawCancel atomic.Bool
	require.NoError(t, s.Add("wait", "@every 1h", func(ctx context.Context) error {
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.RunNow("wait")
	}()

	s.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not observe cancellation")
	}
	assert.True(t, sawCancel.Load())
}

func TestRetentionJob(t *testing.T) {
	pruner := &fakePruner{}
	job := RetentionJob(pruner, 24*time.Hour, zap.NewNop())

	require.NoError(t, job(context.Background()))
	assert.WithinDuration(t, time.Now().Add(-24*time.Hour), pruner.before, time.Minute)

	pruner.err = errors.New("locked")
	assert.Error(t, job(context.Background()))
}

func TestReportJob(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	job := ReportJob(fakeStats{
		{Name: "CameraAgent 0", Status: model.UnitStatusRunning, Iterations: 10},
		{Name: "FrameProcessor 0", Status: model.UnitStatusRunning, Iterations: 9},
	}, zap.New(core))

	require.NoError(t, job(context.Background()))

	entries := logs.FilterMessage("Unit stats").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "CameraAgent 0", entries[0].ContextMap()["unit"])
	assert.Equal(t, uint64(10), entries[0].ContextMap()["iterations"])
}
