package graphstore

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	retry "github.com/avast/retry-go"
)

var (
	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("graph store closed")
	// ErrConnectionLost marks a failure the store can recover from by reconnecting.
	ErrConnectionLost = errors.New("graph store connection lost")
)

// RetryPolicy wraps a store operation with a bounded number of attempts.
// Only errors accepted by Retryable are retried.
type RetryPolicy struct {
	Attempts  uint
	Delay     time.Duration
	Retryable func(error) bool
}

// DefaultRetryPolicy allows three attempts for reconnectable failures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		Delay:     100 * time.Millisecond,
		Retryable: IsReconnectable,
	}
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts are exhausted. onRetry runs before every new attempt.
func (p RetryPolicy) Do(ctx context.Context, fn func() error, onRetry func(n uint, err error)) error {
	attempts := p.Attempts
	if attempts == 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsReconnectable
	}
	if onRetry == nil {
		onRetry = func(uint, error) {}
	}
	return retry.Do(
		fn,
		retry.Attempts(attempts),
		retry.Delay(p.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(retryable),
		retry.OnRetry(onRetry),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
}

// IsReconnectable reports whether err signals a dropped or unusable
// connection to the backing store.
func IsReconnectable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrConnectionLost) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return isPostgresReconnectable(err)
}
