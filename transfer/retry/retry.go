/*
 *  MIT License
 *
 *  Copyright (c) 2020 Nicolas JUHEL
 *
 *  Permission is hereby granted, free of charge, to any person obtaining a copy
 *  of this software and associated documentation files (the "Software"), to deal
 *  in the Software without restriction, including without limitation the rights
 *  to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 *  copies of the Software, and to permit persons to whom the Software is
 *  furnished to do so, subject to the following conditions:
 *
 *  The above copyright notice and this permission notice shall be included in all
 *  copies or substantial portions of the Software.
 *
 *  THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 *  IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 *  FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 *  AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 *  LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 *  OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 *  SOFTWARE.
 *
 */

// Package retry adapts a pluggable retry Strategy behind the fixed
// consumed interface spec.md §6 describes: acquire_token, schedule_retry,
// record_success, release_token. The default Strategy's backoff curve
// follows hashicorp/go-retryablehttp's DefaultBackoff shape (exponential
// with a hard ceiling); that library is not a dependency of this module.
package retry

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sabouaram/s3xfer/transfer/request"
)

// Token identifies one in-flight retry negotiation. Token itself is an
// immutable value handed back to the caller on each ScheduleRetry call,
// so the attempt tally it tracks lives behind the shared counter pointer
// rather than in the value's own field — otherwise every call would see
// attempt reset to whatever the caller's stale copy held.
type Token struct {
	partitionKey string
	counter      *int64
}

// Attempt returns how many times this token has been scheduled for retry.
func (t Token) Attempt() int {
	if t.counter == nil {
		return 0
	}
	return int(atomic.LoadInt64(t.counter))
}

// Strategy is the pluggable retry policy consumed by the work loop's
// per-request pipeline (spec.md §4.2 step 4 / §6).
type Strategy interface {
	AcquireToken(ctx context.Context, partitionKey string) (Token, error)
	ScheduleRetry(ctx context.Context, tok Token, class request.Class) error
	RecordSuccess(tok Token)
	ReleaseToken(tok Token)
}

// ExponentialConfig parameterizes the default Strategy.
type ExponentialConfig struct {
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	MaxAttempts  int
}

// DefaultExponentialConfig mirrors go-retryablehttp's usual defaults.
func DefaultExponentialConfig() ExponentialConfig {
	return ExponentialConfig{
		MinBackoff:  100 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
		MaxAttempts: 5,
	}
}

type exponential struct {
	mtx sync.Mutex
	cfg ExponentialConfig
	seq int
}

// NewExponential builds the default Strategy: exponential backoff capped
// at cfg.MaxBackoff, doubling per attempt the same way
// retryablehttp.DefaultBackoff does (min * 2^(attempt-1) for the 1-based
// attempt number, clamped to max).
func NewExponential(cfg ExponentialConfig) Strategy {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = DefaultExponentialConfig().MinBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultExponentialConfig().MaxBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultExponentialConfig().MaxAttempts
	}
	return &exponential{cfg: cfg}
}

func (e *exponential) AcquireToken(_ context.Context, partitionKey string) (Token, error) {
	e.mtx.Lock()
	e.seq++
	e.mtx.Unlock()

	var c int64
	return Token{partitionKey: partitionKey, counter: &c}, nil
}

func (e *exponential) ScheduleRetry(ctx context.Context, tok Token, class request.Class) error {
	if !class.Retryable() {
		return errNotRetryable
	}

	attempt := int(atomic.AddInt64(tok.counter, 1))
	if attempt > e.cfg.MaxAttempts {
		return errRetriesExhausted
	}

	d := backoffDuration(e.cfg.MinBackoff, e.cfg.MaxBackoff, attempt, class)

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *exponential) RecordSuccess(_ Token) {}

func (e *exponential) ReleaseToken(_ Token) {}

// backoffDuration doubles minBackoff per attempt and clamps to
// maxBackoff, matching retryablehttp.DefaultBackoff's growth curve.
// Throttling-classified errors (503 SlowDown / 429) get one extra
// doubling, since S3 asks callers to back off harder under SlowDown.
func backoffDuration(min, max time.Duration, attempt int, class request.Class) time.Duration {
	mult := math.Pow(2, float64(attempt-1))
	if class == request.ClassThrottling {
		mult *= 2
	}

	d := time.Duration(float64(min) * mult)
	if d > max || d <= 0 {
		d = max
	}
	return d
}
