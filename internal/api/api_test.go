package api

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/shopspring/decimal"
	"go.coinpayportal.com/engine/internal/config"
	"go.coinpayportal.com/engine/internal/repository"
	"go.coinpayportal.com/engine/service"
	"go.uber.org/zap/zaptest"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testToken = "internal-secret"

type fakeServices struct {
	cycle      service.CycleResult
	forwardErr error
	broadcast  struct {
		id    string
		chain string
		raw   []byte
		err   error
	}
	testResult *service.TestResult
}

func (f *fakeServices) RunCycle(context.Context) (service.CycleResult, error) {
	return f.cycle, nil
}

func (f *fakeServices) Wait() {}

func (f *fakeServices) Forward(_ context.Context, id string) (*service.ForwardResult, error) {
	if f.forwardErr != nil {
		return nil, f.forwardErr
	}
	return &service.ForwardResult{
		PaymentID:      id,
		Status:         "forwarded",
		ForwardTxHash:  "abc",
		MerchantAmount: decimal.RequireFromString("0.0009801"),
		FeeAmount:      decimal.RequireFromString("0.0000099"),
	}, nil
}

func (f *fakeServices) BroadcastPrepared(_ context.Context, id, chain string, raw []byte) (string, error) {
	f.broadcast.id, f.broadcast.chain, f.broadcast.raw = id, chain, raw
	if f.broadcast.err != nil {
		return "", f.broadcast.err
	}
	return "hash-" + id, nil
}

func (f *fakeServices) SendTest(context.Context, string) (*service.TestResult, error) {
	return f.testResult, nil
}

func (f *fakeServices) PaymentStatus(_ context.Context, id string) (*service.PaymentView, error) {
	if id == "missing" {
		return nil, fmt.Errorf("payment %s: %w", id, repository.ErrNotFound)
	}
	return &service.PaymentView{ID: id, Status: "pending", Partial: true}, nil
}

func newTestAPI(t *testing.T) (http.Handler, *fakeServices) {
	t.Helper()

	fake := &fakeServices{testResult: &service.TestResult{Success: true, StatusCode: 200}}
	a := NewAPI(
		config.HTTPConfig{CORSOrigins: []string{"https://shop.example"}},
		config.InternalConfig{Token: testToken},
		Services{Monitor: fake, Forwarding: fake, Prepared: fake, Webhooks: fake, Status: fake},
		zaptest.NewLogger(t),
	)
	return a.Handler(), fake
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestInternalRoutesRequireToken(t *testing.T) {
	h, _ := newTestAPI(t)

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "nope", http.StatusUnauthorized},
		{"valid", testToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/internal/monitor/run", tt.token, "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRunMonitor(t *testing.T) {
	h, fake := newTestAPI(t)
	fake.cycle = service.CycleResult{Checked: 4, Confirmed: 2, Expired: 1, Errors: 1}

	rec := do(t, h, http.MethodPost, "/internal/monitor/run", testToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["checked"] != 4 || got["confirmed"] != 2 || got["expired"] != 1 || got["errors"] != 1 {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestForwardPayment(t *testing.T) {
	h, fake := newTestAPI(t)

	rec := do(t, h, http.MethodPost, "/internal/payments/p1/forward", testToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["payment_id"] != "p1" || got["merchant_amount"] != "0.0009801" || got["fee_amount"] != "0.0000099" {
		t.Fatalf("unexpected body %v", got)
	}

	fake.forwardErr = fmt.Errorf("payment p1 is pending: %w", service.ErrPaymentNotConfirmed)
	if rec := do(t, h, http.MethodPost, "/internal/payments/p1/forward", testToken, ""); rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestBroadcastPrepared(t *testing.T) {
	h, fake := newTestAPI(t)

	rec := do(t, h, http.MethodPost, "/internal/transactions/t1/broadcast", testToken, `{"chain":"ETH","signed_tx":"0xdeadbeef"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if fake.broadcast.id != "t1" || fake.broadcast.chain != "ETH" || string(fake.broadcast.raw) != "\xde\xad\xbe\xef" {
		t.Fatalf("unexpected call %+v", fake.broadcast)
	}

	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["tx_hash"] != "hash-t1" {
		t.Fatalf("unexpected body %v", got)
	}

	errs := []struct {
		err  error
		want int
	}{
		{service.ErrPreparedNotFound, http.StatusNotFound},
		{service.ErrChainMismatch, http.StatusUnprocessableEntity},
		{service.ErrPreparedExpired, http.StatusGone},
		{service.ErrPreparedNotPending, http.StatusConflict},
	}
	for _, e := range errs {
		fake.broadcast.err = e.err
		rec := do(t, h, http.MethodPost, "/internal/transactions/t1/broadcast", testToken, `{"chain":"ETH","signed_tx":"AQID"}`)
		if rec.Code != e.want {
			t.Errorf("%v: status = %d, want %d", e.err, rec.Code, e.want)
		}
	}

	if rec := do(t, h, http.MethodPost, "/internal/transactions/t1/broadcast", testToken, `{"chain":"ETH","signed_tx":"%%"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid signed_tx: status = %d", rec.Code)
	}
}

func TestTestWebhook(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := do(t, h, http.MethodPost, "/internal/businesses/b1/webhook/test", testToken, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["success"] != true || got["status_code"] != float64(200) {
		t.Fatalf("unexpected body %v", got)
	}
}

func TestPublicPaymentStatus(t *testing.T) {
	h, _ := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/payments/p1", nil)
	req.Header.Set("Origin", "https://shop.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://shop.example" {
		t.Errorf("missing CORS header: %v", rec.Header())
	}

	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["id"] != "p1" || got["partial"] != true {
		t.Fatalf("unexpected body %v", got)
	}

	if rec := do(t, h, http.MethodGet, "/api/payments/missing", "", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing payment: status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestAPI(t)

	if rec := do(t, h, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
