package cron

import (
	"context"

	use_cases "eventrelay/internal/application/use-cases"

	"go.uber.org/zap"
)

// CleanupJob removes PUBLISHED records older than the retention window.
type CleanupJob struct {
	usecase use_cases.UseCaser
	logger  *zap.SugaredLogger
}

func NewCleanupJob(usecase use_cases.UseCaser, logger *zap.SugaredLogger) *CleanupJob {
	return &CleanupJob{
		usecase: usecase,
		logger:  logger,
	}
}

func (j *CleanupJob) Run(ctx context.Context) {
	j.logger.Info("retention cleanup sweep starting")

	defer func() {
		if r := recover(); r != nil {
			j.logger.Errorf("panic in retention cleanup sweep: %v", r)
		}
	}()

	j.usecase.RunCleanup(ctx)
	j.logger.Info("retention cleanup sweep finished")
}

// StatsLogJob snapshots dispatcher stats into the log on a fixed period.
type StatsLogJob struct {
	usecase use_cases.UseCaser
	logger  *zap.SugaredLogger
}

func NewStatsLogJob(usecase use_cases.UseCaser, logger *zap.SugaredLogger) *StatsLogJob {
	return &StatsLogJob{
		usecase: usecase,
		logger:  logger,
	}
}

func (j *StatsLogJob) Run(ctx context.Context) {
	stats, err := j.usecase.Stats(ctx)
	if err != nil {
		j.logger.Warnw("stats snapshot failed", "err", err)
		return
	}
	j.logger.Infow("dispatcher stats",
		"pending", stats.PendingTotal,
		"published", stats.PublishedTotal,
		"failed", stats.FailedTotal,
		"sessionPublished", stats.SessionPublished,
		"sessionFailed", stats.SessionFailed,
		"breaker", stats.BreakerState,
		"sinceLastSuccessSecs", stats.SinceLastSuccessSecs,
	)
}
