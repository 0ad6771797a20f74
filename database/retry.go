/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy retries work that failed with a transient error using bounded
// exponential backoff. The zero value runs the work exactly once.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          Logger
}

// NewRetryPolicy builds the policy described by the connection config.
func NewRetryPolicy(cfg *ConnectionConfig, logger Logger) RetryPolicy {
	if cfg == nil {
		return RetryPolicy{Logger: logger}
	}
	return RetryPolicy{
		MaxRetries:      cfg.RetryMaxAttempts,
		InitialInterval: cfg.RetryInitialDelay,
		MaxInterval:     cfg.RetryMaxDelay,
		Logger:          logger,
	}
}

// Do runs op until it succeeds, fails with a non-transient error, the retry
// budget is spent, or ctx is done. The last error from op is returned.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if p.MaxRetries <= 0 {
		return op(ctx)
	}

	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxRetries)), ctx)

	attempt := 0
	var lastErr error
	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		if p.Logger != nil {
			p.Logger.Warn("Transient database error, retrying", "attempt", attempt, "wait", wait, "error", err)
		}
	})
	// A context that ends while waiting stops the retries with ctx.Err();
	// the store error that caused the wait is what callers classify.
	if err != nil && lastErr != nil && err != lastErr && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return fmt.Errorf("%w (retry stopped: %v)", lastErr, err)
	}
	return err
}
