package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/jonboulle/clockwork"
	"go.coinpayportal.com/engine/internal/db"
	"go.coinpayportal.com/engine/internal/repository"
	"go.coinpayportal.com/engine/internal/task"
	"go.coinpayportal.com/engine/internal/webhook"
	"go.uber.org/zap"
)

const WEBHOOK_SERVICE = "webhook"

const testEvent = "test"

// Notifier emits payment lifecycle events. Implementations must not block on delivery.
type Notifier interface {
	Notify(ctx context.Context, payment *db.Payment, eventType webhook.EventType)
}

var _ Notifier = (*WebhookServiceDefault)(nil)

type WebhookServiceDefault struct {
	businesses *repository.BusinessRepository
	logs       *repository.WebhookLogRepository
	sender     *webhook.Sender
	tasks      *task.Group
	clock      clockwork.Clock
	logger     *zap.Logger
}

func NewWebhookService(businesses *repository.BusinessRepository, logs *repository.WebhookLogRepository, sender *webhook.Sender, tasks *task.Group, clock clockwork.Clock, logger *zap.Logger) *WebhookServiceDefault {
	return &WebhookServiceDefault{
		businesses: businesses,
		logs:       logs,
		sender:     sender,
		tasks:      tasks,
		clock:      clock,
		logger:     logger.Named(WEBHOOK_SERVICE),
	}
}

func (s *WebhookServiceDefault) ID() string {
	return WEBHOOK_SERVICE
}

// Notify delivers the event in the background. Delivery failures are logged and dropped.
func (s *WebhookServiceDefault) Notify(ctx context.Context, payment *db.Payment, eventType webhook.EventType) {
	snapshot := *payment

	s.tasks.Go(ctx, fmt.Sprintf("webhook %s %s", eventType, payment.ID), func(ctx context.Context) error {
		s.Dispatch(ctx, &snapshot, eventType)
		return nil
	})
}

// Dispatch delivers the event synchronously, appending one log row per attempt. It never fails.
func (s *WebhookServiceDefault) Dispatch(ctx context.Context, payment *db.Payment, eventType webhook.EventType) {
	logger := s.logger.With(zap.String("payment_id", payment.ID), zap.String("event", string(eventType)))

	business, err := s.businesses.Get(ctx, payment.BusinessID)
	if err != nil {
		logger.Warn("webhook skipped: business lookup failed", zap.Error(err))
		return
	}
	if business.WebhookURL == "" {
		logger.Debug("webhook skipped: no webhook url configured")
		return
	}

	ev := webhook.NewEvent(eventType, business.ID, PaymentEventData(payment), s.clock.Now())
	target := webhook.Target{URL: business.WebhookURL, Secret: business.WebhookSecret}

	last, err := s.sender.Deliver(ctx, target, ev, s.recorder(business, payment.ID, string(eventType)))
	if err != nil {
		logger.Warn("webhook delivery failed",
			zap.String("event_id", ev.ID),
			zap.Uint("attempts", last.Number),
			zap.Error(err),
		)
		return
	}

	logger.Info("webhook delivered", zap.String("event_id", ev.ID), zap.Uint("attempts", last.Number))
}

// TestResult is what a merchant sees after a test delivery.
type TestResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Error      string `json:"error,omitempty"`
}

// SendTest posts a sample payment.confirmed event to the business endpoint, signed under the test header.
func (s *WebhookServiceDefault) SendTest(ctx context.Context, businessID string) (*TestResult, error) {
	business, err := s.businesses.Get(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if business.WebhookURL == "" {
		return nil, webhook.ErrNoEndpoint
	}

	data := webhook.PaymentData{
		PaymentID:      "test_" + business.ID,
		Status:         string(db.PaymentStatusConfirmed),
		Blockchain:     "BTC",
		Amount:         "0.001",
		PaymentAddress: "bc1qtest",
		ReceivedAmount: "0.001",
		Test:           true,
	}
	ev := webhook.NewEvent(webhook.EventPaymentConfirmed, business.ID, data, s.clock.Now())
	target := webhook.Target{URL: business.WebhookURL, Secret: business.WebhookSecret, Test: true}

	last, err := s.sender.Deliver(ctx, target, ev, s.recorder(business, "", testEvent))

	result := &TestResult{Success: last.Success, StatusCode: last.StatusCode}
	if err != nil {
		var se *webhook.StatusError
		if !errors.As(err, &se) && last.Number == 0 {
			return nil, err
		}
		result.Error = err.Error()
	}

	return result, nil
}

func (s *WebhookServiceDefault) recorder(business *db.Business, paymentID, event string) webhook.AttemptRecorder {
	return func(ctx context.Context, attempt webhook.Attempt) {
		entry := &db.WebhookLog{
			BusinessID:     business.ID,
			PaymentID:      paymentID,
			Event:          event,
			WebhookURL:     business.WebhookURL,
			Success:        attempt.Success,
			StatusCode:     attempt.StatusCode,
			AttemptNumber:  int(attempt.Number),
			ResponseTimeMs: attempt.Duration.Milliseconds(),
			CreatedAt:      s.clock.Now().UTC(),
		}
		if attempt.Err != nil {
			entry.ErrorMessage = attempt.Err.Error()
		}

		if err := s.logs.Append(context.WithoutCancel(ctx), entry); err != nil {
			s.logger.Error("write webhook log", zap.String("payment_id", paymentID), zap.Error(err))
		}
	}
}

// PaymentEventData renders the data object of a payment.* event.
func PaymentEventData(p *db.Payment) webhook.PaymentData {
	data := webhook.PaymentData{
		PaymentID:             p.ID,
		Status:                string(p.Status),
		Blockchain:            p.Blockchain,
		Amount:                p.CryptoAmount.String(),
		PaymentAddress:        p.PaymentAddress,
		TxHash:                p.TxHash,
		ForwardTxHash:         p.ForwardTxHash,
		Error:                 p.ForwardError,
		MerchantWalletAddress: p.MerchantWalletAddress,
	}

	if p.ReceivedAmount.Valid {
		data.ReceivedAmount = p.ReceivedAmount.Decimal.String()
	}
	if p.MerchantReceivedAmount.Valid {
		data.MerchantAmount = p.MerchantReceivedAmount.Decimal.String()
	}
	if p.FeeAmount.Valid {
		data.FeeAmount = p.FeeAmount.Decimal.String()
	}

	return data
}
