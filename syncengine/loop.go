// Copyright 2025 CiclistaApp Authors
// SPDX-License-Identifier: Apache-2.0

package syncengine

import (
	"context"
	"errors"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
)

// LoopConfig controls the background sync loop.
type LoopConfig struct {
	Interval   time.Duration // delay between passes when healthy
	BackoffMax time.Duration // cap for the failure backoff
}

// DefaultLoopConfig returns timings suitable for a mobile client.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		Interval:   30 * time.Second,
		BackoffMax: 5 * time.Minute,
	}
}

// Run executes passes until ctx is done. Successful passes (including
// nothing-to-sync) wait cfg.Interval before the next one; failed passes
// back off exponentially up to cfg.BackoffMax and reset on the next
// success. Run never returns an error: pass failures are logged and
// retried, since pending rows survive until a pass confirms them.
func (e *Engine) Run(ctx context.Context, cfg LoopConfig) {
	if cfg.Interval <= 0 {
		cfg = DefaultLoopConfig()
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.Interval
	exp.Multiplier = 2
	exp.MaxInterval = cfg.BackoffMax
	exp.MaxElapsedTime = 0 // retry forever
	exp.Reset()

	for {
		rep, err := e.RunPass(ctx)

		wait := cfg.Interval
		switch {
		case err == nil:
			exp.Reset()
			if rep.Outcome == OutcomeSynced {
				e.logger.Info("background sync pass succeeded",
					"accounts_pushed", rep.AccountsPushed,
					"routes_pushed", rep.RoutesPushed,
					"routes_deferred", rep.RoutesDeferred)
			}
		case errors.Is(err, ErrSyncInProgress):
			// A manual pass is running; try again after the normal interval.
		default:
			if ctx.Err() != nil {
				return
			}
			wait = exp.NextBackOff()
			e.logger.Warn("background sync pass failed", "error", err, "retry_in", wait)
		}

		if err := sleepWithContext(ctx, wait); err != nil {
			return
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
