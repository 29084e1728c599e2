package broadcast

import (
	"context"
	"errors"
	"fmt"
	"go.coinpayportal.com/engine/internal/chain"
	"go.coinpayportal.com/engine/internal/retry"
	"go.uber.org/zap"
	"time"
)

var ErrEmptyTransaction = errors.New("signed transaction is empty")

const DefaultTimeout = 30 * time.Second

// Adapters resolves the chain a transaction is submitted to.
type Adapters interface {
	Get(c chain.Chain) chain.Adapter
}

type Broadcaster struct {
	adapters Adapters
	policy   retry.Policy
	timeout  time.Duration
	logger   *zap.Logger
}

func New(adapters Adapters, policy retry.Policy, timeout time.Duration, logger *zap.Logger) *Broadcaster {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Broadcaster{
		adapters: adapters,
		policy:   policy,
		timeout:  timeout,
		logger:   logger.Named("broadcast"),
	}
}

// Broadcast submits a signed transaction, retrying transient failures. Every attempt is logged.
func (b *Broadcaster) Broadcast(ctx context.Context, c chain.Chain, signedTx []byte) (string, error) {
	if len(signedTx) == 0 {
		return "", ErrEmptyTransaction
	}

	adapter := b.adapters.Get(c)

	var txHash string
	err := b.policy.Do(ctx, func(ctx context.Context, attempt uint) error {
		attemptCtx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()

		hash, err := adapter.Broadcast(attemptCtx, signedTx)

		fields := []zap.Field{
			zap.String("chain", c.String()),
			zap.Uint("attempt", attempt),
		}
		if err != nil {
			fields = append(fields, zap.Error(err), zap.Bool("fatal", retry.IsFatal(err)))
			b.logger.Warn("broadcast attempt", fields...)
			return err
		}

		b.logger.Info("broadcast attempt", append(fields, zap.String("tx_hash", hash))...)
		txHash = hash
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("broadcast %s transaction: %w", c, err)
	}

	return txHash, nil
}
