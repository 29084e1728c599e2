package retry

import (
	"context"
	"errors"
	retrygo "github.com/avast/retry-go/v4"
	"strings"
	"time"
)

const (
	DefaultAttempts = 3
	DefaultDelay    = time.Second
)

// Messages that mean retrying cannot help: the transaction or request itself is wrong, or it
// already landed.
var fatalMessages = []string{
	"nonce too low",
	"already known",
	"known transaction",
	"already in block chain",
	"txn-already-known",
	"txn-mempool-conflict",
	"missingorspent",
	"insufficient funds",
	"insufficient balance",
	"malformed",
	"invalid transaction",
	"invalid signature",
	"tx decode failed",
	"failed to decode",
	"decode failed",
	"missing credentials",
	"unauthorized",
	"forbidden",
	"unsupported chain",
}

type fatalError struct {
	err error
}

func (e *fatalError) Error() string {
	return e.err.Error()
}

func (e *fatalError) Unwrap() error {
	return e.err
}

// Fatal marks err as not worth retrying regardless of its message.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal classifies err. Anything not recognised as fatal is transient.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var fe *fatalError
	if errors.As(err, &fe) {
		return true
	}

	if errors.Is(err, context.Canceled) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range fatalMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}

	return false
}

// Policy is the retry discipline shared by broadcasts and webhook deliveries: a fixed number of
// attempts with exponential backoff starting at Delay.
type Policy struct {
	Attempts uint
	Delay    time.Duration

	// Classify overrides IsFatal when set.
	Classify func(error) bool
}

func DefaultPolicy() Policy {
	return Policy{Attempts: DefaultAttempts, Delay: DefaultDelay}
}

// Do calls fn until it succeeds, returns a fatal error or attempts run out. attempt starts at 1.
// The last error is returned unwrapped.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt uint) error) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = DefaultAttempts
	}

	classify := p.Classify
	if classify == nil {
		classify = IsFatal
	}

	var attempt uint

	return retrygo.Do(
		func() error {
			attempt++
			err := fn(ctx, attempt)
			if err != nil && classify(err) {
				return retrygo.Unrecoverable(err)
			}
			return err
		},
		retrygo.Context(ctx),
		retrygo.Attempts(attempts),
		retrygo.Delay(p.Delay),
		retrygo.DelayType(retrygo.BackOffDelay),
		retrygo.LastErrorOnly(true),
	)
}
