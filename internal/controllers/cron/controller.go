package cron

import (
	"context"
	"fmt"
	"time"

	use_cases "eventrelay/internal/application/use-cases"
	"eventrelay/pkg/config"

	"go.uber.org/zap"
)

type Controller struct {
	scheduler *Scheduler
	logger    *zap.SugaredLogger
}

func NewController(ctx context.Context, logger *zap.SugaredLogger) *Controller {
	return &Controller{
		scheduler: NewScheduler(ctx),
		logger:    logger,
	}
}

// RegisterCleanupJob wires the retention sweep. Two modes:
// a cron expression ("0 0 3 * * *") or an interval ("@every 1h");
// Schedule wins when both are set.
func (c *Controller) RegisterCleanupJob(usecase use_cases.UseCaser, conf config.Cleanup) error {
	job := NewCleanupJob(usecase, c.logger)

	var spec string

	switch {
	case conf.Schedule != "":
		spec = conf.Schedule
		c.logger.Infof("registering retention cleanup on schedule: %s", spec)
	case conf.Interval != "":
		spec = conf.Interval
		c.logger.Infof("registering retention cleanup on interval: %s", spec)
	default:
		spec = "@every 1h"
		c.logger.Warnf("no cleanup schedule configured, defaulting to %s", spec)
	}

	entryID, err := c.scheduler.Add(spec, job)
	if err != nil {
		return fmt.Errorf("register retention cleanup job: %w", err)
	}

	c.logger.Infof("retention cleanup job registered, id=%d spec=%s", entryID, spec)
	return nil
}

// RegisterStatsLogJob periodically writes a dispatcher stats snapshot to the
// log. Disabled when period is zero.
func (c *Controller) RegisterStatsLogJob(usecase use_cases.UseCaser, period time.Duration) error {
	if period <= 0 {
		return nil
	}

	spec := fmt.Sprintf("@every %s", period)
	entryID, err := c.scheduler.Add(spec, NewStatsLogJob(usecase, c.logger))
	if err != nil {
		return fmt.Errorf("register stats log job: %w", err)
	}

	c.logger.Infof("stats log job registered, id=%d spec=%s", entryID, spec)
	return nil
}

func (c *Controller) Start() {
	c.logger.Info("starting cron scheduler")
	c.scheduler.Start()
}

func (c *Controller) Stop() {
	c.logger.Info("stopping cron scheduler")
	c.scheduler.Stop()
	c.logger.Info("cron scheduler stopped")
}
