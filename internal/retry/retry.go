// Package retry retries operations that fail transiently, backing off
// exponentially between attempts.
//
//	err := retry.Do(ctx, retry.Publish(), func() error {
//	    return writer.WriteMessages(ctx, msg)
//	})
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Policy describes how an operation is retried.
type Policy struct {
	// Attempts is the total number of calls, including the first.
	Attempts int
	// InitialBackoff is the wait before the second attempt. It doubles on
	// every further attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps a single wait. Zero leaves it uncapped.
	MaxBackoff time.Duration
	// Jitter adds up to this fraction of the wait at random.
	Jitter float64
	// Retryable decides whether an error is worth another attempt. Nil
	// retries every error.
	Retryable func(error) bool
}

// StorageConflict retries DuckDB write-write conflicts, which clear up as
// soon as the competing transaction finishes.
func StorageConflict() Policy {
	return Policy{
		Attempts:       10,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		Jitter:         0.1,
		Retryable:      IsTransactionConflict,
	}
}

// Publish retries message bus writes.
func Publish() Policy {
	return Policy{
		Attempts:       5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		Jitter:         0.2,
	}
}

// IsTransactionConflict reports whether err is a DuckDB concurrency
// conflict.
func IsTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Conflict on") ||
		strings.Contains(msg, "TransactionContext Error") ||
		strings.Contains(msg, "write-write conflict") ||
		strings.Contains(msg, "serialization")
}

// Do calls fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done.
func Do(ctx context.Context, p Policy, fn func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			timer := time.NewTimer(p.backoff(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		last = err
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, last)
}

// backoff returns the wait before retry n (1-based).
func (p Policy) backoff(n int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < n && (p.MaxBackoff <= 0 || d < p.MaxBackoff) && d < time.Hour; i++ {
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Float64() * p.Jitter * float64(d))
	}
	return d
}
