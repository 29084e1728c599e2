package cron

import (
	"context"
	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.coinpayportal.com/engine/internal/config"
	"go.coinpayportal.com/engine/internal/cron/tasks"
	"go.coinpayportal.com/engine/service"
	"go.uber.org/zap"
)

type Cron struct {
	cfg       config.MonitorConfig
	monitor   service.MonitorService
	scheduler gocron.Scheduler
	logger    *zap.Logger
}

func NewCron(cfg config.MonitorConfig, monitor service.MonitorService, clock clockwork.Clock, logger *zap.Logger) (*Cron, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, err
	}

	return &Cron{
		cfg:       cfg,
		monitor:   monitor,
		scheduler: scheduler,
		logger:    logger.Named("cron"),
	}, nil
}

// RegisterTasks schedules the monitor cycle. A cycle still running when the next one is due
// causes that run to be skipped.
func (c *Cron) RegisterTasks(ctx context.Context) error {
	if !c.cfg.Enabled {
		c.logger.Info("payment monitor schedule disabled")
		return nil
	}

	_, err := c.scheduler.NewJob(
		gocron.DurationJob(c.cfg.Interval),
		gocron.NewTask(func() error {
			return tasks.MonitorCycle(ctx, c.monitor, c.logger)
		}),
		gocron.WithName(tasks.CronTaskMonitorCycle),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithEventListeners(
			gocron.AfterJobRunsWithError(func(_ uuid.UUID, name string, err error) {
				c.logger.Error("cron task failed", zap.String("task", name), zap.Error(err))
			}),
		),
	)
	if err != nil {
		return err
	}

	c.logger.Info("payment monitor scheduled", zap.Duration("interval", c.cfg.Interval))

	return nil
}

func (c *Cron) Start() {
	c.scheduler.Start()
}

func (c *Cron) Jobs() []gocron.Job {
	return c.scheduler.Jobs()
}

func (c *Cron) Shutdown() error {
	return c.scheduler.Shutdown()
}
