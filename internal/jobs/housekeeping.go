package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/model"
)

const (
	RetentionJobName = "history-retention"
	ReportJobName    = "stats-report"
)

// Pruner deletes history older than a cutoff. *storage.SQLiteHistory
// implements it.
type Pruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// StatsSource provides unit snapshots
type StatsSource interface {
	Stats() []model.UnitStats
}

// RetentionJob deletes status history older than retention
func RetentionJob(history Pruner, retention time.Duration, logger *zap.Logger) Func {
	logger = logger.Named("retention")
	return func(ctx context.Context) error {
		cutoff := time.Now().Add(-retention)
		deleted, err := history.DeleteBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("failed to prune history: %w", err)
		}
		logger.Info("Pruned status history",
			zap.Time("before", cutoff),
			zap.Int64("deleted", deleted))
		return nil
	}
}

// ReportJob logs one line per unit with its counters
func ReportJob(source StatsSource, logger *zap.Logger) Func {
	logger = logger.Named("report")
	return func(ctx context.Context) error {
		for _, stats := range source.Stats() {
			logger.Info("Unit stats",
				zap.String("unit", stats.Name),
				zap.String("status", string(stats.Status)),
				zap.Bool("running", stats.Running),
				zap.Uint64("iterations", stats.Iterations),
				zap.Uint64("errors", stats.Errors),
				zap.Float64("iterations_per_second", stats.IterationsPerSecond),
				zap.Duration("runtime", stats.Runtime))
		}
		return nil
	}
}
