// Package retry provides bounded exponential backoff for the places that
// need one: the MintSubmitter's retry policy and the attestation
// ingester's transient-failure cap.
//
// Built on github.com/cenkalti/backoff/v4, already part of coreth's
// dependency graph (indirect) and promoted here to direct use instead
// of hand-rolling a sleep loop.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is a bounded exponential backoff: BaseDelay, BaseDelay*2,
// BaseDelay*4, ... capped at MaxRetries retries after the first attempt.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// Do runs fn up to p.MaxRetries+1 times, sleeping BaseDelay*2^(attempt-1)
// between attempts, honoring ctx cancellation. Returns the last error if
// every attempt fails.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         p.BaseDelay * (1 << uint(maxInt(p.MaxRetries-1, 0))),
		MaxElapsedTime:      0, // bounded by WithMaxRetries below instead
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	withCtx := backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxInt(p.MaxRetries, 0))), ctx)

	attempt := 0
	var lastErr error
	op := func() error {
		attempt++
		err := fn(attempt)
		lastErr = err
		return err
	}

	if err := backoff.Retry(op, withCtx); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
