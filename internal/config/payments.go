package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/shopspring/decimal"
	"strings"
	"time"
)

var _ Defaults = (*MonitorConfig)(nil)
var _ Defaults = (*ForwardingConfig)(nil)
var _ Defaults = (*BroadcastConfig)(nil)
var _ Defaults = (*WebhookConfig)(nil)
var _ Validator = (*MonitorConfig)(nil)
var _ Validator = (*ForwardingConfig)(nil)
var _ Validator = (*BroadcastConfig)(nil)
var _ Validator = (*WebhookConfig)(nil)

const (
	TierFree = "free"
	TierPro  = "pro"
)

type MonitorConfig struct {
	Enabled        bool          `config:"enabled"`
	Interval       time.Duration `config:"interval"`
	BatchSize      int           `config:"batch_size"`
	Concurrency    int           `config:"concurrency"`
	BalanceTimeout time.Duration `config:"balance_timeout"`
	Tolerance      string        `config:"tolerance"`
}

func (c MonitorConfig) Defaults() map[string]any {
	return map[string]any{
		"enabled":         true,
		"interval":        time.Minute,
		"batch_size":      100,
		"concurrency":     5,
		"balance_timeout": 10 * time.Second,
		"tolerance":       "0.01",
	}
}

func (c MonitorConfig) Validate() error {
	if c.BatchSize <= 0 {
		return errors.New("monitor.batch_size must be positive")
	}
	if c.Concurrency <= 0 {
		return errors.New("monitor.concurrency must be positive")
	}
	if c.Interval <= 0 {
		return errors.New("monitor.interval must be positive")
	}
	if _, err := parseRate(c.Tolerance); err != nil {
		return fmt.Errorf("monitor.tolerance: %w", err)
	}
	return nil
}

// ToleranceRate is the fraction of the requested amount a payment may fall short by and still confirm.
func (c MonitorConfig) ToleranceRate() decimal.Decimal {
	rate, err := parseRate(c.Tolerance)
	if err != nil {
		return decimal.NewFromFloat(0.01)
	}
	return rate
}

type FeeRatesConfig struct {
	Free string `config:"free"`
	Pro  string `config:"pro"`
}

type ForwardingConfig struct {
	EncryptionKey     string            `config:"encryption_key"`
	FeeRates          FeeRatesConfig    `config:"fee_rates"`
	CommissionWallets map[string]string `config:"commission_wallets"`
	Timeout           time.Duration     `config:"timeout"`
}

func (c ForwardingConfig) Defaults() map[string]any {
	return map[string]any{
		"fee_rates.free": "0.01",
		"fee_rates.pro":  "0.005",
		"timeout":        5 * time.Minute,
	}
}

func (c ForwardingConfig) Validate() error {
	if c.EncryptionKey != "" {
		key, err := hex.DecodeString(c.EncryptionKey)
		if err != nil || len(key) != 32 {
			return errors.New("forwarding.encryption_key must be 64 hex characters")
		}
	}

	if _, err := parseRate(c.FeeRates.Free); err != nil {
		return fmt.Errorf("forwarding.fee_rates.free: %w", err)
	}
	if _, err := parseRate(c.FeeRates.Pro); err != nil {
		return fmt.Errorf("forwarding.fee_rates.pro: %w", err)
	}

	return nil
}

// FeeRate returns the platform commission rate for a business tier. Unknown tiers pay the free rate.
func (c ForwardingConfig) FeeRate(tier string) decimal.Decimal {
	raw := c.FeeRates.Free
	if strings.EqualFold(tier, TierPro) {
		raw = c.FeeRates.Pro
	}

	rate, err := parseRate(raw)
	if err != nil {
		return decimal.NewFromFloat(0.01)
	}
	return rate
}

// CommissionWallet returns the configured platform wallet for a chain, if any.
func (c ForwardingConfig) CommissionWallet(chain string) string {
	return c.CommissionWallets[strings.ToLower(chain)]
}

type BroadcastConfig struct {
	Attempts uint          `config:"attempts"`
	Delay    time.Duration `config:"delay"`
	Timeout  time.Duration `config:"timeout"`
}

func (c BroadcastConfig) Defaults() map[string]any {
	return map[string]any{
		"attempts": 3,
		"delay":    time.Second,
		"timeout":  30 * time.Second,
	}
}

func (c BroadcastConfig) Validate() error {
	if c.Attempts == 0 {
		return errors.New("broadcast.attempts must be at least 1")
	}
	return nil
}

type WebhookConfig struct {
	Attempts  uint          `config:"attempts"`
	Delay     time.Duration `config:"delay"`
	Timeout   time.Duration `config:"timeout"`
	UserAgent string        `config:"user_agent"`
}

func (c WebhookConfig) Defaults() map[string]any {
	return map[string]any{
		"attempts":   3,
		"delay":      time.Second,
		"timeout":    10 * time.Second,
		"user_agent": "CoinPay-Webhook/1.0",
	}
}

func (c WebhookConfig) Validate() error {
	if c.Attempts == 0 {
		return errors.New("webhook.attempts must be at least 1")
	}
	return nil
}

func parseRate(raw string) (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, err
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("rate %s out of range [0, 1)", raw)
	}
	return rate, nil
}
