// Copyright 2025 Author(s) of MCP Any
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"time"
)

// Timeout implements a per-operation deadline policy.
type Timeout struct {
	duration time.Duration
}

// NewTimeout creates a timeout policy. A non-positive duration disables it.
func NewTimeout(duration time.Duration) *Timeout {
	return &Timeout{duration: duration}
}

// Execute runs the work function under the policy's deadline.
func (t *Timeout) Execute(ctx context.Context, work func(context.Context) error) error {
	if t.duration <= 0 {
		return work(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, t.duration)
	defer cancel()
	return work(ctx)
}
