package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/jonboulle/clockwork"
	"go.coinpayportal.com/engine/internal/chain"
	"go.coinpayportal.com/engine/internal/db"
	"go.coinpayportal.com/engine/internal/repository"
	"go.uber.org/zap"
)

const PREPARED_SERVICE = "prepared"

var (
	ErrPreparedNotFound   = errors.New("prepared transaction not found")
	ErrChainMismatch      = errors.New("chain does not match prepared transaction")
	ErrPreparedExpired    = errors.New("prepared transaction expired")
	ErrPreparedNotPending = errors.New("prepared transaction is not pending")
)

type PreparedServiceDefault struct {
	prepared    *repository.PreparedRepository
	broadcaster TxBroadcaster
	clock       clockwork.Clock
	logger      *zap.Logger
}

func NewPreparedService(prepared *repository.PreparedRepository, broadcaster TxBroadcaster, clock clockwork.Clock, logger *zap.Logger) *PreparedServiceDefault {
	return &PreparedServiceDefault{
		prepared:    prepared,
		broadcaster: broadcaster,
		clock:       clock,
		logger:      logger.Named(PREPARED_SERVICE),
	}
}

func (s *PreparedServiceDefault) ID() string {
	return PREPARED_SERVICE
}

// BroadcastPrepared submits a transaction the client signed for a prepared transfer.
func (s *PreparedServiceDefault) BroadcastPrepared(ctx context.Context, id, chainName string, signedTx []byte) (string, error) {
	prepared, err := s.prepared.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("%s: %w", id, ErrPreparedNotFound)
	}
	if err != nil {
		return "", err
	}

	want, _ := chain.Parse(prepared.Chain)
	got, _ := chain.Parse(chainName)
	if want != got {
		return "", fmt.Errorf("%s is for %s, not %s: %w", id, want, got, ErrChainMismatch)
	}

	if s.clock.Now().After(prepared.ExpiresAt) {
		return "", fmt.Errorf("%s: %w", id, ErrPreparedExpired)
	}

	if prepared.Status != db.PreparedStatusPending {
		return "", fmt.Errorf("%s is %s: %w", id, prepared.Status, ErrPreparedNotPending)
	}

	err = s.prepared.Transition(ctx, id, db.PreparedStatusPending, db.PreparedStatusBroadcasting, nil)
	if errors.Is(err, repository.ErrStatusConflict) {
		return "", fmt.Errorf("%s: %w", id, ErrPreparedNotPending)
	}
	if err != nil {
		return "", err
	}

	logger := s.logger.With(zap.String("prepared_id", id), zap.String("chain", want.String()))

	txHash, err := s.broadcaster.Broadcast(ctx, want, signedTx)
	if err != nil {
		terr := s.prepared.Transition(context.WithoutCancel(ctx), id, db.PreparedStatusBroadcasting, db.PreparedStatusFailed, map[string]any{
			"error_message": err.Error(),
		})
		if terr != nil {
			logger.Error("mark prepared transaction failed", zap.Error(terr))
		}
		return "", err
	}

	err = s.prepared.Transition(context.WithoutCancel(ctx), id, db.PreparedStatusBroadcasting, db.PreparedStatusBroadcast, map[string]any{
		"tx_hash": txHash,
	})
	if err != nil {
		logger.Error("broadcast transaction could not be recorded", zap.String("tx_hash", txHash), zap.Error(err))
		return txHash, fmt.Errorf("record broadcast: %w", err)
	}

	logger.Info("prepared transaction broadcast", zap.String("tx_hash", txHash))

	return txHash, nil
}
