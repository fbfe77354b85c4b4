// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"context"
	"time"

	"github.com/juju/errors"
)

var serialPollInterval = 200 * time.Millisecond

// SerialHandler receives each non empty chunk read from the serial bridge.
type SerialHandler func(data string)

// StartSerialRead polls the serial bridge until StopSerialRead is called or
// ctx ends. A poller started earlier is stopped first.
func (d *DapLink) StartSerialRead(ctx context.Context, handler SerialHandler) {
	d.StopSerialRead()

	d.serialMutex.Lock()
	defer d.serialMutex.Unlock()

	pollCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	d.serialCancel = cancel
	d.serialDone = done

	go d.pollSerial(pollCtx, handler, done)
}

// StopSerialRead stops the poller and waits for it to exit. It is a no-op
// without a running poller.
func (d *DapLink) StopSerialRead() {
	d.serialMutex.Lock()
	cancel, done := d.serialCancel, d.serialDone
	d.serialCancel, d.serialDone = nil, nil
	d.serialMutex.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

func (d *DapLink) pollSerial(ctx context.Context, handler SerialHandler, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(serialPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		data, err := d.SerialRead(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			d.log.Warnf("serial read failed: %v", err)
			continue
		}

		if len(data) > 0 && handler != nil {
			handler(data)
		}
	}
}

// SerialRead fetches the bytes buffered by the bridge, empty if none arrived.
func (d *DapLink) SerialRead(ctx context.Context) (string, error) {
	response, err := d.dap.Send(ctx, CmdDapLinkSerialRead, nil)
	if err != nil {
		return "", errors.Trace(err)
	}

	if err := ensureLength(response, 1, 1); err != nil {
		return "", errors.Annotate(err, "serial read")
	}

	length := int(response[1])

	if err := ensureLength(response, 2, length); err != nil {
		return "", errors.Annotate(err, "serial read")
	}

	return string(response[2 : 2+length]), nil
}

// SerialWrite sends text to the target UART, split into packet sized chunks.
func (d *DapLink) SerialWrite(ctx context.Context, text string) error {
	data := []byte(text)
	chunkSize := d.dap.PacketSize() - 2
	if chunkSize > 0xff {
		chunkSize = 0xff
	}

	if chunkSize <= 0 {
		return errors.NotValidf("serial write with packet size %d", d.dap.PacketSize())
	}

	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}

		payload := NewBuffer(1 + end - offset)
		payload.WriteByte(byte(end - offset))
		payload.Write(data[offset:end])

		if _, err := d.dap.Send(ctx, CmdDapLinkSerialWrite, payload.Bytes()); err != nil {
			return errors.Annotatef(err, "serial write at offset %d", offset)
		}
	}

	return nil
}
