package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.coinpayportal.com/engine/internal/broadcast"
	"go.coinpayportal.com/engine/internal/chain"
	"go.coinpayportal.com/engine/internal/config"
	"go.coinpayportal.com/engine/internal/db"
	"go.coinpayportal.com/engine/internal/repository"
	"go.coinpayportal.com/engine/internal/retry"
	"go.coinpayportal.com/engine/internal/task"
	"go.coinpayportal.com/engine/internal/vault"
	"go.coinpayportal.com/engine/internal/webhook"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const testVaultKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// fakeAdapter records every call and echoes requested outputs as the realized ones. With
// perOutput set it signs one transaction per output, as account-based chains do.
type fakeAdapter struct {
	mu sync.Mutex

	chain         chain.Chain
	balances      map[string]decimal.Decimal
	balanceErr    error
	balanceCalls  map[string]int
	signErr       error
	signedKeys    []string
	requests      []chain.TransferRequest
	broadcastErrs []error
	broadcasts    int
	perOutput     bool
	// accepted runs after each successful broadcast.
	accepted func(hash string)
}

func newFakeAdapter(c chain.Chain) *fakeAdapter {
	return &fakeAdapter{
		chain:        c,
		balances:     map[string]decimal.Decimal{},
		balanceCalls: map[string]int{},
	}
}

func (a *fakeAdapter) Chain() chain.Chain {
	return a.chain
}

func (a *fakeAdapter) setBalance(address, amount string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balances[address] = decimal.RequireFromString(amount)
}

func (a *fakeAdapter) calls(address string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balanceCalls[address]
}

func (a *fakeAdapter) GetBalance(_ context.Context, address string) (decimal.Decimal, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.balanceCalls[address]++
	if a.balanceErr != nil {
		return decimal.Zero, a.balanceErr
	}
	return a.balances[address], nil
}

func (a *fakeAdapter) SignTransfer(_ context.Context, req chain.TransferRequest) ([]chain.SignedTx, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.requests = append(a.requests, req)
	if a.signErr != nil {
		return nil, a.signErr
	}
	a.signedKeys = append(a.signedKeys, string(req.Key))

	if !a.perOutput {
		return []chain.SignedTx{{
			Raw:     []byte("signed"),
			Hash:    "local",
			Outputs: append([]chain.Output(nil), req.Outputs...),
		}}, nil
	}

	signed := make([]chain.SignedTx, 0, len(req.Outputs))
	for i, o := range req.Outputs {
		signed = append(signed, chain.SignedTx{
			Raw:     []byte(fmt.Sprintf("signed-%d", i)),
			Hash:    fmt.Sprintf("local-%d", i),
			Outputs: []chain.Output{o},
		})
	}
	return signed, nil
}

func (a *fakeAdapter) Broadcast(context.Context, []byte) (string, error) {
	a.mu.Lock()
	a.broadcasts++
	n := a.broadcasts
	var err error
	if n <= len(a.broadcastErrs) {
		err = a.broadcastErrs[n-1]
	}
	accepted := a.accepted
	a.mu.Unlock()

	if err != nil {
		return "", err
	}

	hash := fmt.Sprintf("tx%d", n)
	if accepted != nil {
		accepted(hash)
	}
	return hash, nil
}

// wiped reports whether the key handed to the signer in request i has been zeroed.
func (a *fakeAdapter) wiped(i int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := a.requests[i].Key
	if len(key) == 0 {
		return false
	}
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}

type fixture struct {
	db         *gorm.DB
	payments   *repository.PaymentRepository
	businesses *repository.BusinessRepository
	logs       *repository.WebhookLogRepository
	prepared   *repository.PreparedRepository
	adapter    *fakeAdapter
	clock      clockwork.FakeClock
	vault      *vault.Vault
	tasks      *task.Group
	observed   *observer.ObservedLogs

	oracle     *BalanceOracle
	webhooks   *WebhookServiceDefault
	forwarding *ForwardingServiceDefault
	monitor    *MonitorServiceDefault
	preparedTx *PreparedServiceDefault
	status     *StatusServiceDefault
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	core, observed := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	gdb, err := db.Open(config.DatabaseConfig{
		Driver:      "sqlite",
		DSN:         filepath.Join(t.TempDir(), "engine.db") + "?_busy_timeout=5000",
		AutoMigrate: true,
	}, logger)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	v, err := vault.New(testVaultKey)
	if err != nil {
		t.Fatal(err)
	}

	clock := clockwork.NewFakeClockAt(t0)

	f := &fixture{
		db:         gdb,
		payments:   repository.NewPaymentRepository(gdb, clock),
		businesses: repository.NewBusinessRepository(gdb),
		logs:       repository.NewWebhookLogRepository(gdb),
		prepared:   repository.NewPreparedRepository(gdb, clock),
		adapter:    newFakeAdapter(chain.BTC),
		clock:      clock,
		vault:      v,
		tasks:      task.NewGroup(logger),
		observed:   observed,
	}
	t.Cleanup(f.tasks.Close)

	policy := retry.Policy{Attempts: 3, Delay: time.Millisecond}
	registry := chain.NewRegistry(f.adapter)
	broadcaster := broadcast.New(registry, policy, time.Second, logger)
	sender := webhook.NewSender(webhook.SenderConfig{Policy: policy, Timeout: time.Second}, clockwork.NewRealClock(), logger)

	monitorCfg := config.MonitorConfig{BatchSize: 100, Concurrency: 5, BalanceTimeout: time.Second, Tolerance: "0.01"}
	forwardingCfg := config.ForwardingConfig{
		FeeRates:          config.FeeRatesConfig{Free: "0.01", Pro: "0.005"},
		CommissionWallets: map[string]string{"btc": "bc1qplatform"},
	}

	f.oracle = NewBalanceOracle(registry, time.Second, logger)
	f.webhooks = NewWebhookService(f.businesses, f.logs, sender, f.tasks, f.clock, logger)
	f.forwarding = NewForwardingService(forwardingCfg, ForwardingDeps{
		Payments:    f.payments,
		Businesses:  f.businesses,
		Adapters:    registry,
		Broadcaster: broadcaster,
		Vault:       v,
		Notifier:    f.webhooks,
		Clock:       f.clock,
	}, logger)
	f.monitor = NewMonitorService(monitorCfg, MonitorDeps{
		Payments:  f.payments,
		Oracle:    f.oracle,
		Forwarder: f.forwarding,
		Notifier:  f.webhooks,
		Tasks:     f.tasks,
		Clock:     f.clock,
	}, logger)
	f.preparedTx = NewPreparedService(f.prepared, broadcaster, f.clock, logger)
	f.status = NewStatusService(monitorCfg, f.payments, f.oracle, f.clock)

	return f
}

func (f *fixture) business(t *testing.T, tier, url string) *db.Business {
	t.Helper()

	b := &db.Business{ID: "biz-" + tier, Name: "Shop", Tier: tier, WebhookURL: url, WebhookSecret: "whsec"}
	if err := f.businesses.Save(context.Background(), b); err != nil {
		t.Fatalf("save business: %v", err)
	}
	return b
}

// payment stores a pending BTC payment created at t0 with its encrypted deposit key.
func (f *fixture) payment(t *testing.T, business *db.Business, id, amount string) *db.Payment {
	t.Helper()
	ctx := context.Background()

	p := &db.Payment{
		ID:                    id,
		BusinessID:            business.ID,
		Blockchain:            "BTC",
		CryptoAmount:          decimal.RequireFromString(amount),
		PaymentAddress:        "bc1qdeposit-" + id,
		MerchantWalletAddress: "bc1qmerchant",
		CreatedAt:             t0,
	}
	if err := f.payments.Create(ctx, p); err != nil {
		t.Fatalf("create payment: %v", err)
	}

	encrypted, err := f.vault.Encrypt([]byte("key-" + id))
	if err != nil {
		t.Fatal(err)
	}

	err = f.payments.CreateAddress(ctx, &db.PaymentAddress{
		PaymentID:           id,
		Address:             p.PaymentAddress,
		Cryptocurrency:      "BTC",
		EncryptedPrivateKey: encrypted,
		MerchantWallet:      "bc1qmerchant",
		CreatedAt:           t0,
	})
	if err != nil {
		t.Fatalf("create address: %v", err)
	}

	return p
}

func (f *fixture) reload(t *testing.T, id string) *db.Payment {
	t.Helper()

	p, err := f.payments.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get payment %s: %v", id, err)
	}
	return p
}

func (f *fixture) confirm(t *testing.T, id, received string) {
	t.Helper()

	err := f.payments.Transition(context.Background(), id, []db.PaymentStatus{db.PaymentStatusPending}, db.PaymentStatusConfirmed, map[string]any{
		"received_amount": decimal.NewNullDecimal(decimal.RequireFromString(received)),
		"confirmed_at":    t0,
	})
	if err != nil {
		t.Fatalf("confirm %s: %v", id, err)
	}
}

var errConnectionReset = errors.New("read tcp: connection reset by peer")
