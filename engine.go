// Package engine assembles the payment monitor, forwarding engine, webhook dispatcher and HTTP API
// from a resolved configuration.
package engine

import (
	"context"
	"errors"
	"fmt"
	"github.com/jonboulle/clockwork"
	"go.coinpayportal.com/engine/internal/api"
	"go.coinpayportal.com/engine/internal/broadcast"
	"go.coinpayportal.com/engine/internal/config"
	"go.coinpayportal.com/engine/internal/cron"
	"go.coinpayportal.com/engine/internal/db"
	"go.coinpayportal.com/engine/internal/repository"
	"go.coinpayportal.com/engine/internal/retry"
	"go.coinpayportal.com/engine/internal/service"
	"go.coinpayportal.com/engine/internal/task"
	"go.coinpayportal.com/engine/internal/vault"
	"go.coinpayportal.com/engine/internal/webhook"
	publicService "go.coinpayportal.com/engine/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"net/http"
)

var ErrNoEncryptionKey = errors.New("forwarding.encryption_key is required")

type Engine struct {
	cfg    *config.Config
	db     *gorm.DB
	tasks  *task.Group
	cron   *cron.Cron
	api    *api.API
	logger *zap.Logger

	monitor    *service.MonitorServiceDefault
	forwarding *service.ForwardingServiceDefault

	closeChains func()
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Engine, error) {
	if cfg.Forwarding.EncryptionKey == "" {
		return nil, ErrNoEncryptionKey
	}

	v, err := vault.New(cfg.Forwarding.EncryptionKey)
	if err != nil {
		return nil, err
	}

	gdb, err := db.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	registry, closeChains, err := dialChains(ctx, cfg.Chains, logger)
	if err != nil {
		_ = closeDB(gdb)
		return nil, err
	}

	clock := clockwork.NewRealClock()
	tasks := task.NewGroup(logger, task.WithTimeout(cfg.Forwarding.Timeout))

	payments := repository.NewPaymentRepository(gdb, clock)
	businesses := repository.NewBusinessRepository(gdb)

	broadcaster := broadcast.New(registry, retry.Policy{
		Attempts: cfg.Broadcast.Attempts,
		Delay:    cfg.Broadcast.Delay,
	}, cfg.Broadcast.Timeout, logger)

	sender := webhook.NewSender(webhook.SenderConfig{
		Policy:    retry.Policy{Attempts: cfg.Webhook.Attempts, Delay: cfg.Webhook.Delay},
		Timeout:   cfg.Webhook.Timeout,
		UserAgent: cfg.Webhook.UserAgent,
	}, clock, logger)

	oracle := service.NewBalanceOracle(registry, cfg.Monitor.BalanceTimeout, logger)
	webhooks := service.NewWebhookService(businesses, repository.NewWebhookLogRepository(gdb), sender, tasks, clock, logger)

	forwarding := service.NewForwardingService(cfg.Forwarding, service.ForwardingDeps{
		Payments:    payments,
		Businesses:  businesses,
		Adapters:    registry,
		Broadcaster: broadcaster,
		Vault:       v,
		Notifier:    webhooks,
		Clock:       clock,
	}, logger)

	monitor := service.NewMonitorService(cfg.Monitor, service.MonitorDeps{
		Payments:  payments,
		Oracle:    oracle,
		Forwarder: forwarding,
		Notifier:  webhooks,
		Tasks:     tasks,
		Clock:     clock,
	}, logger)

	prepared := service.NewPreparedService(repository.NewPreparedRepository(gdb, clock), broadcaster, clock, logger)
	status := service.NewStatusService(cfg.Monitor, payments, oracle, clock)

	scheduler, err := cron.NewCron(cfg.Monitor, monitor, clock, logger)
	if err != nil {
		closeChains()
		_ = closeDB(gdb)
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	return &Engine{
		cfg:    cfg,
		db:     gdb,
		tasks:  tasks,
		cron:   scheduler,
		logger: logger,
		api: api.NewAPI(cfg.HTTP, cfg.Internal, api.Services{
			Monitor:    monitor,
			Forwarding: forwarding,
			Prepared:   prepared,
			Webhooks:   webhooks,
			Status:     status,
		}, logger),
		monitor:     monitor,
		forwarding:  forwarding,
		closeChains: closeChains,
	}, nil
}

func (e *Engine) Monitor() publicService.MonitorService {
	return e.monitor
}

func (e *Engine) Forwarding() publicService.ForwardingService {
	return e.forwarding
}

func (e *Engine) Handler() http.Handler {
	return e.api.Handler()
}

// Serve runs the scheduler and HTTP server until ctx is cancelled, then shuts both down and
// waits for in-flight forwarding and webhook deliveries.
func (e *Engine) Serve(ctx context.Context) error {
	if err := e.cron.RegisterTasks(ctx); err != nil {
		return err
	}
	e.cron.Start()

	srv := &http.Server{
		Addr:    e.cfg.HTTP.Listen,
		Handler: e.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		e.logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		e.logger.Error("http shutdown", zap.Error(err))
	}
	if err := e.cron.Shutdown(); err != nil {
		e.logger.Error("scheduler shutdown", zap.Error(err))
	}

	e.monitor.Wait()

	return serveErr
}

// Close waits for background tasks and releases connections.
func (e *Engine) Close() error {
	e.tasks.Close()
	e.closeChains()

	return closeDB(e.db)
}

func closeDB(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
