// Package backoff turns transient errors into bounded, fixed-pause retries.
//
// Unlike an open-ended exponential backoff, Config.Retry gives up after a
// fixed number of attempts and reports the last error; the caller decides
// whether that loss is worth surfacing.
package backoff

import (
	"context"
	"errors"
	"log"
	"time"
)

var ErrExhausted = errors.New("retries exhausted")

// Config holds the retry policy. The zero value makes one attempt.
//
// Report, if non-nil, is called with each failed attempt's error and the
// attempt number (1-based). It may return a non-nil error to abort the loop
// early when the failure is known to be permanent.
type Config struct {
	Attempts int
	Wait     time.Duration
	Report   func(attempt int, err error) error
}

func defaultReport(attempt int, err error) error {
	log.Printf("attempt %d: %v", attempt, err)
	return nil
}

// Retry calls try until it succeeds, the attempts run out, Report aborts,
// or ctx is cancelled. On exhaustion the returned error wraps both
// ErrExhausted and the last failure.
func (c Config) Retry(ctx context.Context, try func(ctx context.Context) error) error {
	if c.Report == nil {
		c.Report = defaultReport
	}
	attempts := c.Attempts
	if attempts < 1 {
		attempts = 1
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		last = try(ctx)
		if last == nil {
			return nil
		}
		if err := c.Report(attempt, last); err != nil {
			return err
		}
		if attempt == attempts {
			break
		}

		t := time.NewTimer(c.Wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return errors.Join(ErrExhausted, last)
}
