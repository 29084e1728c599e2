package service

import (
	"context"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.coinpayportal.com/engine/internal/chain"
	"go.coinpayportal.com/engine/internal/config"
	"go.coinpayportal.com/engine/internal/db"
	"go.coinpayportal.com/engine/internal/repository"
	"time"
)

const STATUS_SERVICE = "status"

// PaymentView is the public polling representation of a payment. Balance, Partial and Remaining
// are only filled while the payment is pending and its window is open.
type PaymentView struct {
	ID                     string           `json:"id"`
	Status                 db.PaymentStatus `json:"status"`
	Blockchain             string           `json:"blockchain"`
	CryptoAmount           decimal.Decimal  `json:"crypto_amount"`
	PaymentAddress         string           `json:"payment_address"`
	ExpiresAt              time.Time        `json:"expires_at"`
	ReceivedAmount         *decimal.Decimal `json:"received_amount,omitempty"`
	MerchantReceivedAmount *decimal.Decimal `json:"merchant_received_amount,omitempty"`
	FeeAmount              *decimal.Decimal `json:"fee_amount,omitempty"`
	ForwardTxHash          string           `json:"forward_tx_hash,omitempty"`
	ForwardError           string           `json:"forward_error,omitempty"`
	Balance                *decimal.Decimal `json:"balance,omitempty"`
	Partial                bool             `json:"partial"`
	Remaining              *decimal.Decimal `json:"remaining,omitempty"`
}

type StatusServiceDefault struct {
	payments  *repository.PaymentRepository
	oracle    *BalanceOracle
	clock     clockwork.Clock
	tolerance decimal.Decimal
}

func NewStatusService(cfg config.MonitorConfig, payments *repository.PaymentRepository, oracle *BalanceOracle, clock clockwork.Clock) *StatusServiceDefault {
	return &StatusServiceDefault{payments: payments, oracle: oracle, clock: clock, tolerance: cfg.ToleranceRate()}
}

func (s *StatusServiceDefault) ID() string {
	return STATUS_SERVICE
}

// PaymentStatus reads the payment and, while it is pending, its live deposit balance. A pending
// payment past its window is reported as expired without a balance lookup; the monitor closes it
// on its next cycle. A partial balance is informational and never changes the payment's status.
func (s *StatusServiceDefault) PaymentStatus(ctx context.Context, id string) (*PaymentView, error) {
	p, err := s.payments.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &PaymentView{
		ID:                     p.ID,
		Status:                 p.Status,
		Blockchain:             p.Blockchain,
		CryptoAmount:           p.CryptoAmount,
		PaymentAddress:         p.PaymentAddress,
		ExpiresAt:              p.ExpiresAt,
		ReceivedAmount:         nullDecimalPtr(p.ReceivedAmount),
		MerchantReceivedAmount: nullDecimalPtr(p.MerchantReceivedAmount),
		FeeAmount:              nullDecimalPtr(p.FeeAmount),
		ForwardTxHash:          p.ForwardTxHash,
		ForwardError:           p.ForwardError,
	}

	if p.Status != db.PaymentStatusPending {
		return view, nil
	}
	if p.Expired(s.clock.Now()) {
		view.Status = db.PaymentStatusExpired
		return view, nil
	}

	c, _ := chain.Parse(p.Blockchain)
	balance := s.oracle.GetBalance(ctx, p.PaymentAddress, c)
	remaining := decimal.Max(p.CryptoAmount.Sub(balance), decimal.Zero)
	threshold := p.CryptoAmount.Sub(p.CryptoAmount.Mul(s.tolerance))

	view.Balance = &balance
	view.Remaining = &remaining
	view.Partial = balance.IsPositive() && balance.LessThan(threshold)

	return view, nil
}

func nullDecimalPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
