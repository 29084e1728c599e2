package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.coinpayportal.com/engine/internal/chain"
	"go.coinpayportal.com/engine/internal/config"
	"go.coinpayportal.com/engine/internal/db"
	"go.coinpayportal.com/engine/internal/repository"
	"go.coinpayportal.com/engine/internal/vault"
	"go.coinpayportal.com/engine/internal/webhook"
	"go.uber.org/zap"
	"strings"
)

const FORWARDING_SERVICE = "forwarding"

var (
	ErrPaymentNotConfirmed = errors.New("payment is not confirmed")
	ErrNoMerchantWallet    = errors.New("payment has no merchant wallet")
	ErrNoCommissionWallet  = errors.New("no commission wallet for chain")
	// ErrForwardNotRecorded means every transfer was accepted but the forwarded status could not be
	// stored. The payment stays in forwarding for manual repair.
	ErrForwardNotRecorded  = errors.New("forwarded payment could not be recorded")
)

// TxBroadcaster submits a signed transaction with retries.
type TxBroadcaster interface {
	Broadcast(ctx context.Context, c chain.Chain, signedTx []byte) (string, error)
}

// Forwarder moves confirmed funds out of a deposit address.
type Forwarder interface {
	Forward(ctx context.Context, paymentID string) (*ForwardResult, error)
}

var _ Forwarder = (*ForwardingServiceDefault)(nil)

type ForwardResult struct {
	PaymentID      string           `json:"payment_id"`
	Status         db.PaymentStatus `json:"status"`
	ForwardTxHash  string           `json:"forward_tx_hash"`
	MerchantAmount decimal.Decimal  `json:"merchant_amount"`
	FeeAmount      decimal.Decimal  `json:"fee_amount"`
}

type ForwardingServiceDefault struct {
	cfg         config.ForwardingConfig
	payments    *repository.PaymentRepository
	businesses  *repository.BusinessRepository
	adapters    Adapters
	broadcaster TxBroadcaster
	vault       *vault.Vault
	notifier    Notifier
	clock       clockwork.Clock
	logger      *zap.Logger
}

type ForwardingDeps struct {
	Payments    *repository.PaymentRepository
	Businesses  *repository.BusinessRepository
	Adapters    Adapters
	Broadcaster TxBroadcaster
	Vault       *vault.Vault
	Notifier    Notifier
	Clock       clockwork.Clock
}

func NewForwardingService(cfg config.ForwardingConfig, deps ForwardingDeps, logger *zap.Logger) *ForwardingServiceDefault {
	return &ForwardingServiceDefault{
		cfg:         cfg,
		payments:    deps.Payments,
		businesses:  deps.Businesses,
		adapters:    deps.Adapters,
		broadcaster: deps.Broadcaster,
		vault:       deps.Vault,
		notifier:    deps.Notifier,
		clock:       deps.Clock,
		logger:      logger.Named(FORWARDING_SERVICE),
	}
}

func (f *ForwardingServiceDefault) ID() string {
	return FORWARDING_SERVICE
}

// Forward claims a confirmed (or previously failed) payment and sends its funds to the merchant
// and commission wallets. Once claimed, the transfer runs detached from ctx, bounded by the
// forwarding timeout. A failure before every transfer is accepted leaves the payment in
// forwarding_failed with the accepted hashes kept, so a retry only signs the remaining outputs.
func (f *ForwardingServiceDefault) Forward(ctx context.Context, paymentID string) (*ForwardResult, error) {
	payment, err := f.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if payment.Status != db.PaymentStatusConfirmed && payment.Status != db.PaymentStatusForwardingFailed {
		return nil, fmt.Errorf("payment %s is %s: %w", paymentID, payment.Status, ErrPaymentNotConfirmed)
	}

	err = f.payments.Transition(ctx, paymentID,
		[]db.PaymentStatus{db.PaymentStatusConfirmed, db.PaymentStatusForwardingFailed},
		db.PaymentStatusForwarding,
		map[string]any{"forward_error": ""},
	)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return nil, fmt.Errorf("payment %s already claimed: %w", paymentID, ErrPaymentNotConfirmed)
		}
		return nil, err
	}
	payment.Status = db.PaymentStatusForwarding
	payment.ForwardError = ""

	ctx, cancel := f.detach(ctx)
	defer cancel()

	logger := f.logger.With(zap.String("payment_id", paymentID), zap.String("chain", payment.Blockchain))
	logger.Info("forwarding payment", zap.String("received", payment.Received().String()))

	result, err := f.forward(ctx, payment, logger)
	switch {
	case errors.Is(err, ErrForwardNotRecorded):
		return nil, err
	case err != nil:
		f.fail(ctx, payment, err, logger)
		return nil, err
	}

	return result, nil
}

func (f *ForwardingServiceDefault) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if f.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.cfg.Timeout)
}

func (f *ForwardingServiceDefault) forward(ctx context.Context, payment *db.Payment, logger *zap.Logger) (*ForwardResult, error) {
	c, _ := chain.Parse(payment.Blockchain)

	address, err := f.payments.GetAddress(ctx, payment.ID)
	if err != nil {
		return nil, fmt.Errorf("load payment address: %w", err)
	}

	business, err := f.businesses.Get(ctx, payment.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("load business: %w", err)
	}

	w := wallets{
		merchant:   lo.Ternary(address.MerchantWallet != "", address.MerchantWallet, payment.MerchantWalletAddress),
		commission: lo.Ternary(address.CommissionWallet != "", address.CommissionWallet, f.cfg.CommissionWallet(c.String())),
	}
	if w.merchant == "" {
		return nil, ErrNoMerchantWallet
	}
	if w.commission == "" {
		return nil, fmt.Errorf("%w %s", ErrNoCommissionWallet, c)
	}

	split := ComputeSplit(payment.Received(), f.cfg.FeeRate(business.Tier), c.Decimals())

	outputs := lo.Filter([]chain.Output{
		{Address: w.merchant, Amount: split.Merchant, PaysFee: true},
		{Address: w.commission, Amount: split.Fee},
	}, func(o chain.Output, _ int) bool {
		return !payment.Forwarded(o.Address)
	})

	if payment.ForwardedTo != "" {
		logger.Info("resuming partially forwarded payment",
			zap.String("forwarded_to", payment.ForwardedTo),
			zap.String("forward_tx_hash", payment.ForwardTxHash),
		)
	}

	if len(outputs) > 0 {
		if err := f.transfer(ctx, payment, address, c, outputs, w, logger); err != nil {
			return nil, err
		}
	}

	return f.complete(ctx, payment, logger)
}

type wallets struct {
	merchant   string
	commission string
}

// transfer signs outputs with the deposit key and broadcasts every resulting transaction,
// recording each accepted one before the next is sent.
func (f *ForwardingServiceDefault) transfer(ctx context.Context, payment *db.Payment, address *db.PaymentAddress, c chain.Chain, outputs []chain.Output, w wallets, logger *zap.Logger) error {
	secret, err := f.vault.Decrypt(address.EncryptedPrivateKey)
	if err != nil {
		logger.Error("deposit key could not be decrypted")
		return err
	}
	defer secret.Wipe()

	from := lo.Ternary(address.Address != "", address.Address, payment.PaymentAddress)

	signed, err := f.adapters.Get(c).SignTransfer(ctx, chain.TransferRequest{
		From:    from,
		Key:     secret.Trimmed(),
		Outputs: outputs,
	})
	secret.Wipe()
	if err != nil {
		return fmt.Errorf("sign forwarding transfer: %w", err)
	}

	for _, tx := range signed {
		hash, err := f.broadcaster.Broadcast(ctx, c, tx.Raw)
		if err != nil {
			return err
		}

		f.accept(payment, tx, hash, w)
		logger.Info("forwarding transaction accepted", zap.String("tx_hash", hash))

		err = f.payments.Transition(context.WithoutCancel(ctx), payment.ID,
			[]db.PaymentStatus{db.PaymentStatusForwarding},
			db.PaymentStatusForwarding,
			progressFields(payment),
		)
		if err != nil {
			return fmt.Errorf("record accepted transaction %s: %w", hash, err)
		}
	}

	return nil
}

// accept folds an accepted transaction into the payment's forwarding progress.
func (f *ForwardingServiceDefault) accept(payment *db.Payment, tx chain.SignedTx, hash string, w wallets) {
	merchant, fee := realizedSplit([]chain.SignedTx{tx}, w.merchant, w.commission)

	payment.ForwardTxHash = appendList(payment.ForwardTxHash, hash)
	for _, o := range tx.Outputs {
		if !payment.Forwarded(o.Address) {
			payment.ForwardedTo = appendList(payment.ForwardedTo, o.Address)
		}
	}
	payment.MerchantReceivedAmount = decimal.NewNullDecimal(payment.MerchantReceivedAmount.Decimal.Add(merchant))
	payment.FeeAmount = decimal.NewNullDecimal(payment.FeeAmount.Decimal.Add(fee))
}

// complete records the payment as forwarded. The funds have already moved, so the update does not
// observe cancellation and a failure keeps the payment in forwarding.
func (f *ForwardingServiceDefault) complete(ctx context.Context, payment *db.Payment, logger *zap.Logger) (*ForwardResult, error) {
	ctx = context.WithoutCancel(ctx)
	now := f.clock.Now().UTC()

	fields := progressFields(payment)
	fields["forwarded_at"] = now

	err := f.payments.Transition(ctx, payment.ID,
		[]db.PaymentStatus{db.PaymentStatusForwarding},
		db.PaymentStatusForwarded,
		fields,
	)
	if err != nil {
		logger.Error("forwarded payment could not be recorded", zap.String("forward_tx_hash", payment.ForwardTxHash), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrForwardNotRecorded, err)
	}

	payment.Status = db.PaymentStatusForwarded
	payment.ForwardedAt = &now

	merchantAmount := payment.MerchantReceivedAmount.Decimal
	feeAmount := payment.FeeAmount.Decimal

	logger.Info("payment forwarded",
		zap.String("forward_tx_hash", payment.ForwardTxHash),
		zap.String("merchant_amount", merchantAmount.String()),
		zap.String("fee_amount", feeAmount.String()),
	)
	f.notifier.Notify(ctx, payment, webhook.EventPaymentForwarded)

	return &ForwardResult{
		PaymentID:      payment.ID,
		Status:         payment.Status,
		ForwardTxHash:  payment.ForwardTxHash,
		MerchantAmount: merchantAmount,
		FeeAmount:      feeAmount,
	}, nil
}

func (f *ForwardingServiceDefault) fail(ctx context.Context, payment *db.Payment, cause error, logger *zap.Logger) {
	ctx = context.WithoutCancel(ctx)

	fields := progressFields(payment)
	fields["forward_error"] = cause.Error()

	err := f.payments.Transition(ctx, payment.ID,
		[]db.PaymentStatus{db.PaymentStatusForwarding},
		db.PaymentStatusForwardingFailed,
		fields,
	)
	if err != nil {
		logger.Error("mark payment forwarding_failed", zap.NamedError("cause", cause), zap.Error(err))
		return
	}

	payment.Status = db.PaymentStatusForwardingFailed
	payment.ForwardError = cause.Error()

	logger.Warn("payment forwarding failed", zap.Error(cause), zap.String("forwarded_to", payment.ForwardedTo))
	f.notifier.Notify(ctx, payment, webhook.EventPaymentFailed)
}

func progressFields(p *db.Payment) map[string]any {
	return map[string]any{
		"forward_tx_hash":          p.ForwardTxHash,
		"forwarded_to":             p.ForwardedTo,
		"merchant_received_amount": p.MerchantReceivedAmount,
		"fee_amount":               p.FeeAmount,
	}
}

func appendList(list, item string) string {
	if list == "" {
		return item
	}
	return list + "," + item
}

// realizedSplit sums what the signed transactions actually send to each wallet.
func realizedSplit(signed []chain.SignedTx, merchantWallet, commissionWallet string) (merchant, fee decimal.Decimal) {
	for _, tx := range signed {
		for _, o := range tx.Outputs {
			switch {
			case strings.EqualFold(o.Address, merchantWallet):
				merchant = merchant.Add(o.Amount)
			case strings.EqualFold(o.Address, commissionWallet):
				fee = fee.Add(o.Amount)
			}
		}
	}
	return merchant, fee
}
