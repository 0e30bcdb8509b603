// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

// Package resilience provides retry and timeout policies for upstream calls.
package resilience

import (
	"context"
	"errors"
	"time"
)

// retryBaseDelay is multiplied by the attempt number (1-based) between
// attempts, giving a linear 150ms, 300ms, ... schedule.
const retryBaseDelay = 150 * time.Millisecond

// Retry implements a retry policy for failed operations.
type Retry struct {
	maxRetries int
	baseDelay  time.Duration
}

// NewRetry creates a retry policy that runs the work at most maxRetries+1
// times. Negative maxRetries is treated as zero.
func NewRetry(maxRetries int) *Retry {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Retry{maxRetries: maxRetries, baseDelay: retryBaseDelay}
}

// Execute runs the provided work function, retrying on failure. A
// *PermanentError aborts immediately; context cancellation is honored both
// before each attempt and during backoff sleeps.
func (r *Retry) Execute(ctx context.Context, work func(context.Context) error) error {
	var err error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err = work(ctx)
		if err == nil {
			return nil
		}

		var permanentErr *PermanentError
		if errors.As(err, &permanentErr) {
			return err
		}
		if attempt == r.maxRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.baseDelay * time.Duration(attempt+1)):
		}
	}
	return err
}
