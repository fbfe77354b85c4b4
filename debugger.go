// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"context"
	"time"

	"github.com/juju/errors"
)

/** Run a transfer, retrying on WAIT acknowledges.

  The probe already retries WAIT in hardware (see ConfigureTransfer). Software
  retries only happen if the channel was created WithWaitRetries, otherwise
  the first WAIT is returned to the caller.
*/
func (h *CmsisDap) withWaitRetry(ctx context.Context, transfer func() error) error {
	var retries int = 0

	for {
		err := transfer()

		if err == nil || !isWait(errors.Cause(err)) || retries >= h.config.WaitRetries {
			return err
		}

		var delay time.Duration = (1 << uint(retries)) * time.Millisecond

		retries++
		h.log.Debugf("transfer WAIT, retry %d, delaying %s", retries, delay)

		if sleepErr := sleepContext(ctx, delay); sleepErr != nil {
			return errors.Trace(sleepErr)
		}
	}
}
