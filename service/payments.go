package service

import (
	"context"
	"go.coinpayportal.com/engine/internal/service"
)

const (
	MONITOR_SERVICE    = service.MONITOR_SERVICE
	FORWARDING_SERVICE = service.FORWARDING_SERVICE
	PREPARED_SERVICE   = service.PREPARED_SERVICE
	WEBHOOK_SERVICE    = service.WEBHOOK_SERVICE
	STATUS_SERVICE     = service.STATUS_SERVICE
)

type (
	CycleResult   = service.CycleResult
	ForwardResult = service.ForwardResult
	PaymentView   = service.PaymentView
	TestResult    = service.TestResult
)

var (
	ErrPaymentNotConfirmed = service.ErrPaymentNotConfirmed
	ErrForwardNotRecorded  = service.ErrForwardNotRecorded
	ErrPreparedNotFound    = service.ErrPreparedNotFound
	ErrChainMismatch       = service.ErrChainMismatch
	ErrPreparedExpired     = service.ErrPreparedExpired
	ErrPreparedNotPending  = service.ErrPreparedNotPending
)

type MonitorService interface {
	// RunCycle checks one batch of pending payments, expiring or confirming them
	RunCycle(ctx context.Context) (CycleResult, error)

	// Wait blocks until background work started by previous cycles is done
	Wait()
}

type ForwardingService interface {
	// Forward sends a confirmed or previously failed payment to the merchant and platform wallets
	Forward(ctx context.Context, paymentID string) (*ForwardResult, error)
}

type PreparedService interface {
	// BroadcastPrepared submits a client-signed transaction for a prepared transfer
	BroadcastPrepared(ctx context.Context, id, chain string, signedTx []byte) (string, error)
}

type WebhookService interface {
	// SendTest posts a sample event to a business endpoint
	SendTest(ctx context.Context, businessID string) (*TestResult, error)
}

type StatusService interface {
	// PaymentStatus returns a payment with its live balance while pending
	PaymentStatus(ctx context.Context, id string) (*PaymentView, error)
}

var _ MonitorService = (*service.MonitorServiceDefault)(nil)
var _ ForwardingService = (*service.ForwardingServiceDefault)(nil)
var _ PreparedService = (*service.PreparedServiceDefault)(nil)
var _ WebhookService = (*service.WebhookServiceDefault)(nil)
var _ StatusService = (*service.StatusServiceDefault)(nil)
