package service

import (
	"context"
	"github.com/shopspring/decimal"
	"go.coinpayportal.com/engine/internal/db"
	"sync"
	"testing"
	"time"
)

func TestRunCycleConfirmsAndForwardsWithinTolerance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.payment(t, f.business(t, "free", ""), "p1", "0.001")
	f.adapter.setBalance(p.PaymentAddress, "0.00099")
	f.clock.Advance(2 * time.Minute)

	result, err := f.monitor.RunCycle(ctx)
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if result != (CycleResult{Checked: 1, Confirmed: 1}) {
		t.Fatalf("unexpected result %+v", result)
	}

	f.monitor.Wait()

	got := f.reload(t, "p1")
	if got.Status != db.PaymentStatusForwarded {
		t.Fatalf("status = %s, want forwarded", got.Status)
	}
	if !got.ReceivedAmount.Decimal.Equal(decimal.RequireFromString("0.00099")) || got.ConfirmedAt == nil {
		t.Errorf("confirmation not recorded: %+v", got)
	}
	if !got.FeeAmount.Decimal.Equal(decimal.RequireFromString("0.0000099")) {
		t.Errorf("fee = %s, want 0.0000099", got.FeeAmount.Decimal)
	}
	if !got.MerchantReceivedAmount.Decimal.Equal(decimal.RequireFromString("0.0009801")) {
		t.Errorf("merchant = %s, want 0.0009801", got.MerchantReceivedAmount.Decimal)
	}
	if got.ForwardTxHash != "tx1" {
		t.Errorf("forward_tx_hash = %q", got.ForwardTxHash)
	}

	if len(f.adapter.signedKeys) != 1 || f.adapter.signedKeys[0] != "key-p1" {
		t.Errorf("signer received %v", f.adapter.signedKeys)
	}

	outputs := f.adapter.requests[0].Outputs
	if outputs[0].Address != "bc1qmerchant" || !outputs[0].PaysFee || outputs[1].Address != "bc1qplatform" {
		t.Errorf("unexpected outputs %+v", outputs)
	}
}

func TestRunCycleExpiresWithoutCheckingBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.payment(t, f.business(t, "free", ""), "p1", "0.001")
	f.adapter.setBalance(p.PaymentAddress, "0.001")
	f.clock.Advance(db.PaymentTTL + time.Second)

	result, err := f.monitor.RunCycle(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result != (CycleResult{Expired: 1}) {
		t.Fatalf("unexpected result %+v", result)
	}

	if got := f.reload(t, "p1"); got.Status != db.PaymentStatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	if n := f.adapter.calls(p.PaymentAddress); n != 0 {
		t.Fatalf("balance checked %d times after expiry", n)
	}

	// Expired payments are no longer picked up.
	result, _ = f.monitor.RunCycle(ctx)
	if result != (CycleResult{}) {
		t.Fatalf("second cycle touched the payment: %+v", result)
	}
}

func TestRunCycleLeavesPartialPaymentPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.payment(t, f.business(t, "free", ""), "p1", "0.001")
	f.adapter.setBalance(p.PaymentAddress, "0.0005")

	result, err := f.monitor.RunCycle(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result != (CycleResult{Checked: 1}) {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := f.reload(t, "p1"); got.Status != db.PaymentStatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if f.observed.FilterMessage("partial payment").Len() != 1 {
		t.Error("partial payment not logged")
	}

	view, err := f.status.PaymentStatus(ctx, "p1")
	if err != nil {
		t.Fatal(err)
	}
	if !view.Partial || !view.Remaining.Equal(decimal.RequireFromString("0.0005")) {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestRunCycleCountsFailedBalanceChecks(t *testing.T) {
	f := newFixture(t)

	f.payment(t, f.business(t, "free", ""), "p1", "0.001")
	f.adapter.balanceErr = errConnectionReset

	result, err := f.monitor.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result != (CycleResult{Checked: 1, Errors: 1}) {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := f.reload(t, "p1"); got.Status != db.PaymentStatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
}

func TestConcurrentCyclesConfirmEachPaymentOnce(t *testing.T) {
	f := newFixture(t)
	business := f.business(t, "free", "")

	ids := []string{"p1", "p2", "p3", "p4", "p5"}
	for _, id := range ids {
		p := f.payment(t, business, id, "0.01")
		f.adapter.setBalance(p.PaymentAddress, "0.01")
	}

	var (
		mu        sync.Mutex
		confirmed int
		wg        sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.monitor.RunCycle(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			confirmed += result.Confirmed
			mu.Unlock()
		}()
	}
	wg.Wait()
	f.monitor.Wait()

	if confirmed != len(ids) {
		t.Fatalf("confirmed %d times across cycles, want %d", confirmed, len(ids))
	}
	if n := len(f.adapter.requests); n != len(ids) {
		t.Fatalf("signed %d forwarding transfers, want %d", n, len(ids))
	}
	for _, id := range ids {
		if got := f.reload(t, id); got.Status != db.PaymentStatusForwarded {
			t.Errorf("%s is %s", id, got.Status)
		}
	}
}

func TestPaymentStatusOfSettledPaymentSkipsBalance(t *testing.T) {
	f := newFixture(t)

	p := f.payment(t, f.business(t, "free", ""), "p1", "0.001")
	f.confirm(t, "p1", "0.001")

	view, err := f.status.PaymentStatus(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != db.PaymentStatusConfirmed || view.Balance != nil || view.Partial {
		t.Fatalf("unexpected view %+v", view)
	}
	if f.adapter.calls(p.PaymentAddress) != 0 {
		t.Fatal("balance looked up for a confirmed payment")
	}
}

func TestPaymentStatusAfterExpirySkipsBalance(t *testing.T) {
	f := newFixture(t)

	p := f.payment(t, f.business(t, "free", ""), "p1", "0.001")
	f.adapter.setBalance(p.PaymentAddress, "0.001")
	f.clock.Advance(20 * time.Minute)

	view, err := f.status.PaymentStatus(context.Background(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if view.Status != db.PaymentStatusExpired || view.Balance != nil || view.Remaining != nil {
		t.Fatalf("unexpected view %+v", view)
	}
	if f.adapter.calls(p.PaymentAddress) != 0 {
		t.Fatal("balance looked up after expiry")
	}
	if got := f.reload(t, "p1"); got.Status != db.PaymentStatusPending {
		t.Fatalf("status view changed the stored status to %s", got.Status)
	}
}
