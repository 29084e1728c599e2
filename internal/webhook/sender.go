package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/jonboulle/clockwork"
	"go.coinpayportal.com/engine/internal/retry"
	"go.uber.org/zap"
	"io"
	"net/http"
	"time"
)

const (
	SignatureHeader     = "X-CoinPay-Signature"
	TestSignatureHeader = "X-Webhook-Signature"
	DefaultUserAgent    = "CoinPay-Webhook/1.0"
)

var ErrNoEndpoint = errors.New("business has no webhook url")

// StatusError is a non-2xx response from the merchant endpoint.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook endpoint returned status %d", e.StatusCode)
}

// Retryable is true for 5xx, 408 and 429. Other 4xx responses will not change on retry.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests
}

type Target struct {
	URL    string
	Secret string
	// Test deliveries are signed under TestSignatureHeader.
	Test bool
}

type Attempt struct {
	Number     uint
	Success    bool
	StatusCode int
	Err        error
	Duration   time.Duration
}

// AttemptRecorder is called after every delivery attempt.
type AttemptRecorder func(ctx context.Context, attempt Attempt)

type SenderConfig struct {
	Policy    retry.Policy
	Timeout   time.Duration
	UserAgent string
}

type Sender struct {
	client    *http.Client
	policy    retry.Policy
	userAgent string
	clock     clockwork.Clock
	logger    *zap.Logger
}

func NewSender(cfg SenderConfig, clock clockwork.Clock, logger *zap.Logger) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}

	policy := cfg.Policy
	policy.Classify = func(err error) bool {
		var se *StatusError
		if errors.As(err, &se) {
			return !se.Retryable()
		}
		return retry.IsFatal(err)
	}

	return &Sender{
		client:    &http.Client{Timeout: cfg.Timeout},
		policy:    policy,
		userAgent: cfg.UserAgent,
		clock:     clock,
		logger:    logger.Named("webhook"),
	}
}

// Deliver posts the signed event, retrying per the sender's policy. It returns the last attempt.
func (s *Sender) Deliver(ctx context.Context, target Target, ev *Event, record AttemptRecorder) (Attempt, error) {
	if target.URL == "" {
		return Attempt{}, ErrNoEndpoint
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return Attempt{}, fmt.Errorf("marshal webhook event: %w", err)
	}

	header := SignatureHeader
	if target.Test {
		header = TestSignatureHeader
	}

	var last Attempt
	err = s.policy.Do(ctx, func(ctx context.Context, n uint) error {
		last = s.attempt(ctx, target, header, payload, n)

		if record != nil {
			record(ctx, last)
		}

		s.logger.Debug("webhook attempt",
			zap.String("event_id", ev.ID),
			zap.String("type", string(ev.Type)),
			zap.Uint("attempt", n),
			zap.Int("status_code", last.StatusCode),
			zap.Bool("success", last.Success),
		)

		return last.Err
	})

	return last, err
}

func (s *Sender) attempt(ctx context.Context, target Target, header string, payload []byte, n uint) Attempt {
	start := s.clock.Now()
	result := Attempt{Number: n}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(payload))
	if err != nil {
		result.Err = retry.Fatal(fmt.Errorf("create webhook request: %w", err))
		return result
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set(header, Sign(payload, target.Secret, s.clock.Now()))

	resp, err := s.client.Do(req)
	result.Duration = s.clock.Since(start)
	if err != nil {
		result.Err = fmt.Errorf("webhook request failed: %w", err)
		return result
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	result.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Err = &StatusError{StatusCode: resp.StatusCode}
		return result
	}

	result.Success = true
	return result
}
