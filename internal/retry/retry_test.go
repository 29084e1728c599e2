package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err   error
		fatal bool
	}{
		{errors.New("nonce too low"), true},
		{errors.New("Nonce Too Low: next nonce 4"), true},
		{errors.New("already known"), true},
		{errors.New("insufficient funds for gas * price + value"), true},
		{errors.New("sendrawtransaction RPC error: TX decode failed"), true},
		{fmt.Errorf("push: %w", errors.New("Unauthorized")), true},
		{Fatal(errors.New("anything")), true},
		{context.Canceled, true},
		{errors.New("connection reset by peer"), false},
		{errors.New("503 service unavailable"), false},
		{context.DeadlineExceeded, false},
		{nil, false},
	}

	for _, tt := range tests {
		if got := IsFatal(tt.err); got != tt.fatal {
			t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.fatal)
		}
	}
}

func TestTransientErrorUsesAllAttempts(t *testing.T) {
	p := Policy{Attempts: 3, Delay: time.Millisecond}
	calls := 0

	err := p.Do(context.Background(), func(ctx context.Context, attempt uint) error {
		calls++
		if uint(calls) != attempt {
			t.Errorf("attempt %d reported as %d", calls, attempt)
		}
		return errors.New("connection reset")
	})

	if err == nil || err.Error() != "connection reset" {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestFatalErrorStopsImmediately(t *testing.T) {
	p := Policy{Attempts: 3, Delay: time.Millisecond}
	calls := 0

	err := p.Do(context.Background(), func(ctx context.Context, attempt uint) error {
		calls++
		return errors.New("nonce too low")
	})

	if err == nil || err.Error() != "nonce too low" {
		t.Fatalf("unexpected error %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestSucceedsAfterTransientFailures(t *testing.T) {
	p := Policy{Attempts: 3, Delay: time.Millisecond}
	calls := 0

	err := p.Do(context.Background(), func(ctx context.Context, attempt uint) error {
		calls++
		if attempt < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestBackoffDoubles(t *testing.T) {
	p := Policy{Attempts: 3, Delay: 20 * time.Millisecond}
	var stamps []time.Time

	_ = p.Do(context.Background(), func(ctx context.Context, attempt uint) error {
		stamps = append(stamps, time.Now())
		return errors.New("timeout")
	})

	if len(stamps) != 3 {
		t.Fatalf("attempts = %d", len(stamps))
	}
	first, second := stamps[1].Sub(stamps[0]), stamps[2].Sub(stamps[1])
	if first < 20*time.Millisecond || second < 40*time.Millisecond {
		t.Fatalf("delays %s, %s do not back off", first, second)
	}
}
