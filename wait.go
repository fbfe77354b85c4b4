// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"context"
	"time"

	"github.com/juju/errors"
)

const defaultPollInterval = 100 * time.Millisecond

// sleepContext pauses for d or until ctx is done
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// waitDelay polls fn until it reports true. The first check happens
// immediately, further checks every interval. A zero timeout waits forever.
// Once the deadline passed no further check is made.
func waitDelay(ctx context.Context, operation string, fn func() (bool, error), interval time.Duration, timeout time.Duration) error {
	var deadline time.Time

	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		done, err := fn()
		if err != nil {
			return errors.Trace(err)
		}

		if done {
			return nil
		}

		sleep := interval

		if timeout > 0 {
			remaining := time.Until(deadline)

			if remaining <= 0 {
				return &TimeoutError{Operation: operation, Timeout: timeout}
			}

			if remaining < sleep {
				sleep = remaining
			}
		}

		if err := sleepContext(ctx, sleep); err != nil {
			return errors.Annotatef(err, "%s", operation)
		}
	}
}
