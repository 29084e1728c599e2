package service

import (
	"context"
	"github.com/shopspring/decimal"
	"go.coinpayportal.com/engine/internal/chain"
	"go.uber.org/zap"
	"time"
)

const ORACLE_SERVICE = "oracle"

// Adapters resolves a chain to its adapter. chain.Registry never returns nil.
type Adapters interface {
	Get(c chain.Chain) chain.Adapter
}

// BalanceCheck is the outcome of one balance lookup. Balance is zero whenever Err is set.
type BalanceCheck struct {
	Balance decimal.Decimal
	Err     error
}

type BalanceOracle struct {
	adapters Adapters
	timeout  time.Duration
	logger   *zap.Logger
}

func NewBalanceOracle(adapters Adapters, timeout time.Duration, logger *zap.Logger) *BalanceOracle {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &BalanceOracle{
		adapters: adapters,
		timeout:  timeout,
		logger:   logger.Named(ORACLE_SERVICE),
	}
}

func (o *BalanceOracle) ID() string {
	return ORACLE_SERVICE
}

// Check looks up the balance of address in human units, bounded by the oracle's timeout.
func (o *BalanceOracle) Check(ctx context.Context, address string, c chain.Chain) BalanceCheck {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	balance, err := o.adapters.Get(c).GetBalance(ctx, address)
	if err != nil {
		o.logger.Warn("balance check failed",
			zap.String("chain", c.String()),
			zap.String("address", address),
			zap.Error(err),
		)
		return BalanceCheck{Balance: decimal.Zero, Err: err}
	}

	return BalanceCheck{Balance: balance}
}

// GetBalance returns zero when the lookup fails. The failure is logged.
func (o *BalanceOracle) GetBalance(ctx context.Context, address string, c chain.Chain) decimal.Decimal {
	return o.Check(ctx, address, c).Balance
}
