package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.coinpayportal.com/engine/internal/chain"
	"go.coinpayportal.com/engine/internal/config"
	"go.coinpayportal.com/engine/internal/db"
	"go.coinpayportal.com/engine/internal/repository"
	"go.coinpayportal.com/engine/internal/task"
	"go.coinpayportal.com/engine/internal/webhook"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"time"
)

const MONITOR_SERVICE = "monitor"

type CycleResult struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Expired   int `json:"expired"`
	Errors    int `json:"errors"`
}

type MonitorServiceDefault struct {
	cfg       config.MonitorConfig
	payments  *repository.PaymentRepository
	oracle    *BalanceOracle
	forwarder Forwarder
	notifier  Notifier
	tasks     *task.Group
	clock     clockwork.Clock
	logger    *zap.Logger
}

type MonitorDeps struct {
	Payments  *repository.PaymentRepository
	Oracle    *BalanceOracle
	Forwarder Forwarder
	Notifier  Notifier
	Tasks     *task.Group
	Clock     clockwork.Clock
}

func NewMonitorService(cfg config.MonitorConfig, deps MonitorDeps, logger *zap.Logger) *MonitorServiceDefault {
	return &MonitorServiceDefault{
		cfg:       cfg,
		payments:  deps.Payments,
		oracle:    deps.Oracle,
		forwarder: deps.Forwarder,
		notifier:  deps.Notifier,
		tasks:     deps.Tasks,
		clock:     deps.Clock,
		logger:    logger.Named(MONITOR_SERVICE),
	}
}

func (m *MonitorServiceDefault) ID() string {
	return MONITOR_SERVICE
}

// RunCycle processes one batch of pending payments: expired ones are closed without a balance
// check, the rest are checked concurrently and confirmed when funded within tolerance. Losing a
// status race to another cycle is not an error.
func (m *MonitorServiceDefault) RunCycle(ctx context.Context) (CycleResult, error) {
	var result CycleResult

	pending, err := m.payments.ListPending(ctx, m.cfg.BatchSize)
	if err != nil {
		return result, err
	}
	if len(pending) == 0 {
		return result, nil
	}

	now := m.clock.Now()
	var errs *multierror.Error

	live := make([]*db.Payment, 0, len(pending))
	for i := range pending {
		p := &pending[i]
		if !p.Expired(now) {
			live = append(live, p)
			continue
		}

		if ctx.Err() != nil {
			break
		}

		expired, err := m.expire(ctx, p)
		if err != nil {
			result.Errors++
			errs = multierror.Append(errs, err)
			continue
		}
		if expired {
			result.Expired++
		}
	}

	checks := m.checkBalances(ctx, live)

	for i, p := range live {
		if ctx.Err() != nil {
			break
		}

		result.Checked++
		check := checks[i]
		if check.Err != nil {
			result.Errors++
			errs = multierror.Append(errs, fmt.Errorf("balance of payment %s: %w", p.ID, check.Err))
			continue
		}

		confirmed, err := m.evaluate(ctx, p, check.Balance, now)
		if err != nil {
			result.Errors++
			errs = multierror.Append(errs, err)
			continue
		}
		if confirmed {
			result.Confirmed++
		}
	}

	fields := []zap.Field{
		zap.Int("checked", result.Checked),
		zap.Int("confirmed", result.Confirmed),
		zap.Int("expired", result.Expired),
		zap.Int("errors", result.Errors),
	}
	if err := errs.ErrorOrNil(); err != nil {
		m.logger.Warn("monitor cycle finished with errors", append(fields, zap.Error(err))...)
	} else {
		m.logger.Info("monitor cycle finished", fields...)
	}

	return result, nil
}

// Wait blocks until forwarding and webhook deliveries started by earlier cycles have finished.
func (m *MonitorServiceDefault) Wait() {
	m.tasks.Wait()
}

func (m *MonitorServiceDefault) checkBalances(ctx context.Context, payments []*db.Payment) []BalanceCheck {
	checks := make([]BalanceCheck, len(payments))

	var g errgroup.Group
	g.SetLimit(max(m.cfg.Concurrency, 1))

	for i, p := range payments {
		c, _ := chain.Parse(p.Blockchain)
		i := i
		address := p.PaymentAddress

		g.Go(func() error {
			checks[i] = m.oracle.Check(ctx, address, c)
			return nil
		})
	}
	_ = g.Wait()

	return checks
}

func (m *MonitorServiceDefault) expire(ctx context.Context, p *db.Payment) (bool, error) {
	err := m.payments.Transition(ctx, p.ID, []db.PaymentStatus{db.PaymentStatusPending}, db.PaymentStatusExpired, nil)
	if errors.Is(err, repository.ErrStatusConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	p.Status = db.PaymentStatusExpired
	m.logger.Info("payment expired", zap.String("payment_id", p.ID), zap.Time("expires_at", p.ExpiresAt))
	m.notifier.Notify(ctx, p, webhook.EventPaymentExpired)

	return true, nil
}

func (m *MonitorServiceDefault) evaluate(ctx context.Context, p *db.Payment, balance decimal.Decimal, now time.Time) (bool, error) {
	logger := m.logger.With(zap.String("payment_id", p.ID), zap.String("chain", p.Blockchain))

	if !balance.IsPositive() {
		return false, nil
	}

	threshold := p.CryptoAmount.Sub(p.CryptoAmount.Mul(m.cfg.ToleranceRate()))
	if balance.LessThan(threshold) {
		logger.Info("partial payment",
			zap.String("balance", balance.String()),
			zap.String("expected", p.CryptoAmount.String()),
		)
		return false, nil
	}

	confirmedAt := now.UTC()
	err := m.payments.Transition(ctx, p.ID, []db.PaymentStatus{db.PaymentStatusPending}, db.PaymentStatusConfirmed, map[string]any{
		"received_amount": decimal.NewNullDecimal(balance),
		"confirmed_at":    confirmedAt,
	})
	if errors.Is(err, repository.ErrStatusConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	p.Status = db.PaymentStatusConfirmed
	p.ReceivedAmount = decimal.NewNullDecimal(balance)
	p.ConfirmedAt = &confirmedAt

	logger.Info("payment confirmed", zap.String("received", balance.String()))
	m.notifier.Notify(ctx, p, webhook.EventPaymentConfirmed)

	id := p.ID
	m.tasks.Go(ctx, "forward "+id, func(ctx context.Context) error {
		_, err := m.forwarder.Forward(ctx, id)
		return err
	})

	return true, nil
}
