package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/jonboulle/clockwork"
	"go.coinpayportal.com/engine/internal/retry"
	"go.uber.org/zap/zaptest"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSignVerify(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"payment.confirmed"}`)
	now := time.Unix(1700000000, 0)
	header := Sign(payload, "whsec_test", now)

	if !strings.HasPrefix(header, "t=1700000000,v1=") {
		t.Fatalf("unexpected header %s", header)
	}

	if err := Verify(payload, header, "whsec_test", now, DefaultTolerance); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	tampered := strings.Replace(header, "v1=", "v1=00", 1)
	tests := []struct {
		name    string
		payload []byte
		header  string
		secret  string
		now     time.Time
		want    error
	}{
		{"altered payload", []byte(`{"id":"evt_2"}`), header, "whsec_test", now, ErrInvalidSignature},
		{"altered secret", payload, header, "whsec_other", now, ErrInvalidSignature},
		{"altered signature", payload, tampered, "whsec_test", now, ErrInvalidSignature},
		{"missing parts", payload, "t=1700000000", "whsec_test", now, ErrMalformedSignature},
		{"stale", payload, header, "whsec_test", now.Add(10 * time.Minute), ErrSignatureExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Verify(tt.payload, tt.header, tt.secret, tt.now, DefaultTolerance); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

type receiver struct {
	mu       sync.Mutex
	statuses []int
	requests []*http.Request
	bodies   [][]byte
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.requests)
	r.requests = append(r.requests, req)
	r.bodies = append(r.bodies, body)

	status := http.StatusOK
	if n < len(r.statuses) {
		status = r.statuses[n]
	}
	w.WriteHeader(status)
}

func newSender(t *testing.T) *Sender {
	return NewSender(SenderConfig{
		Policy: retry.Policy{Attempts: 3, Delay: time.Millisecond},
	}, clockwork.NewRealClock(), zaptest.NewLogger(t))
}

func TestDeliverSignsAndRecords(t *testing.T) {
	rcv := &receiver{}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	ev := NewEvent(EventPaymentConfirmed, "biz_1", PaymentData{PaymentID: "p1", Status: "confirmed"}, time.Now())

	var attempts []Attempt
	last, err := newSender(t).Deliver(context.Background(), Target{URL: srv.URL, Secret: "s3cret"}, ev, func(_ context.Context, a Attempt) {
		attempts = append(attempts, a)
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !last.Success || last.StatusCode != http.StatusOK || len(attempts) != 1 {
		t.Fatalf("unexpected result %+v (%d attempts)", last, len(attempts))
	}

	req := rcv.requests[0]
	if req.Header.Get("User-Agent") != DefaultUserAgent || req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("unexpected headers %v", req.Header)
	}
	if err := Verify(rcv.bodies[0], req.Header.Get(SignatureHeader), "s3cret", time.Now(), DefaultTolerance); err != nil {
		t.Errorf("delivered signature does not verify: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(rcv.bodies[0], &decoded); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"id", "type", "data", "created_at", "business_id"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("payload missing %s", key)
		}
	}
}

func TestDeliverRetriesServerErrors(t *testing.T) {
	rcv := &receiver{statuses: []int{http.StatusBadGateway, http.StatusTooManyRequests}}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	var attempts []Attempt
	_, err := newSender(t).Deliver(context.Background(), Target{URL: srv.URL}, NewEvent(EventPaymentExpired, "b", nil, time.Now()), func(_ context.Context, a Attempt) {
		attempts = append(attempts, a)
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(attempts) != 3 || attempts[0].Success || !attempts[2].Success {
		t.Fatalf("unexpected attempts %+v", attempts)
	}
}

func TestDeliverDoesNotRetryClientErrors(t *testing.T) {
	rcv := &receiver{statuses: []int{http.StatusNotFound, http.StatusNotFound, http.StatusNotFound}}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	last, err := newSender(t).Deliver(context.Background(), Target{URL: srv.URL}, NewEvent(EventPaymentFailed, "b", nil, time.Now()), nil)

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	if last.Number != 1 || len(rcv.requests) != 1 {
		t.Fatalf("4xx was retried: %d requests", len(rcv.requests))
	}
}

func TestTestDeliveryUsesTestHeader(t *testing.T) {
	rcv := &receiver{}
	srv := httptest.NewServer(rcv)
	defer srv.Close()

	_, err := newSender(t).Deliver(context.Background(), Target{URL: srv.URL, Secret: "k", Test: true}, NewEvent(EventPaymentConfirmed, "b", PaymentData{Test: true}, time.Now()), nil)
	if err != nil {
		t.Fatal(err)
	}

	req := rcv.requests[0]
	if req.Header.Get(TestSignatureHeader) == "" || req.Header.Get(SignatureHeader) != "" {
		t.Fatalf("unexpected signature headers %v", req.Header)
	}
}

func TestDeliverWithoutURL(t *testing.T) {
	if _, err := newSender(t).Deliver(context.Background(), Target{}, NewEvent(EventPaymentFailed, "b", nil, time.Now()), nil); !errors.Is(err, ErrNoEndpoint) {
		t.Fatalf("expected ErrNoEndpoint, got %v", err)
	}
}
