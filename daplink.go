// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// vendor commands of the DAPLink interface firmware

// https://github.com/ARMmbed/DAPLink

package godap

import (
	"context"
	"sync"
	"unicode/utf8"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
)

type StreamType uint32

const (
	StreamTypeBinary StreamType = 0
	StreamTypeHex    StreamType = 1
)

const (
	flashPageSize     = 62
	streamProbeLength = 50 // characters inspected to tell binary from hex images
)

// DapLink drives the drag and drop flash stream and the serial bridge of a
// DAPLink probe. It talks to the command channel directly.
type DapLink struct {
	dap *CmsisDap
	log *logrus.Entry

	serialMutex  sync.Mutex
	serialCancel context.CancelFunc
	serialDone   chan struct{}
}

func NewDapLink(dap *CmsisDap) *DapLink {
	return &DapLink{
		dap: dap,
		log: dap.log,
	}
}

func NewDapLinkFromTransport(transport Transport, opts ...Option) *DapLink {
	return NewDapLink(NewCmsisDap(transport, opts...))
}

func (d *DapLink) CmsisDap() *CmsisDap {
	return d.dap
}

func (d *DapLink) Connect(ctx context.Context) error {
	return d.dap.Connect(ctx)
}

// Disconnect stops a running serial poller before releasing the probe.
func (d *DapLink) Disconnect(ctx context.Context) error {
	d.StopSerialRead()
	return d.dap.Disconnect(ctx)
}

func (d *DapLink) Reconnect(ctx context.Context) error {
	return d.dap.Reconnect(ctx)
}

func (d *DapLink) Reset(ctx context.Context) (bool, error) {
	return d.dap.Reset(ctx)
}

// DetectStreamType reports hex for images whose first characters are
// printable text, binary otherwise.
func DetectStreamType(buffer []byte) StreamType {
	for i := 0; i < streamProbeLength && len(buffer) > 0; i++ {
		r, size := utf8.DecodeRune(buffer)

		if r == utf8.RuneError || r <= 8 {
			return StreamTypeBinary
		}

		buffer = buffer[size:]
	}

	return StreamTypeHex
}

// sendStream issues a stream command and checks its error byte
func (d *DapLink) sendStream(ctx context.Context, cmd Command, payload []byte) error {
	response, err := d.dap.Send(ctx, cmd, payload)
	if err != nil {
		return errors.Trace(err)
	}

	if err := ensureLength(response, 1, 1); err != nil {
		return errors.Annotatef(err, "%s", cmd)
	}

	if response[1] != 0 {
		return &StreamError{Command: cmd, Code: response[1]}
	}

	return nil
}

// Flash streams an image to the probe page by page and resets the target.
// Progress is reported through the configured ProgressCallback.
func (d *DapLink) Flash(ctx context.Context, buffer []byte) error {
	pageSize := flashPageSize
	if limit := d.dap.PacketSize() - 2; limit < pageSize {
		pageSize = limit
	}

	if pageSize <= 0 {
		return errors.NotValidf("flash stream with packet size %d", d.dap.PacketSize())
	}

	progress := d.dap.Config().Progress
	if progress == nil {
		progress = func(float64) {}
	}

	streamType := DetectStreamType(buffer)
	d.log.Infof("flashing %d bytes (stream type %d)", len(buffer), streamType)

	open := NewBuffer(4)
	open.WriteUint32LE(uint32(streamType))

	if err := d.sendStream(ctx, CmdDapLinkStreamOpen, open.Bytes()); err != nil {
		return errors.Annotate(err, "open stream")
	}

	progress(0)

	for offset := 0; offset < len(buffer); {
		end := offset + pageSize
		if end > len(buffer) {
			end = len(buffer)
		}

		page := NewBuffer(1 + end - offset)
		page.WriteByte(byte(end - offset))
		page.Write(buffer[offset:end])

		if err := d.sendStream(ctx, CmdDapLinkStreamWrite, page.Bytes()); err != nil {
			return errors.Annotatef(err, "write page at offset %d", offset)
		}

		offset = end
		progress(float64(offset) / float64(len(buffer)))
	}

	if len(buffer) == 0 {
		progress(1.0)
	}

	if err := d.sendStream(ctx, CmdDapLinkStreamClose, nil); err != nil {
		return errors.Annotate(err, "close stream")
	}

	if _, err := d.dap.Send(ctx, CmdDapLinkReset, nil); err != nil {
		return errors.Annotate(err, "reset after flash")
	}

	d.log.Info("flash complete")
	return nil
}

func (d *DapLink) GetSerialBaudrate(ctx context.Context) (uint32, error) {
	response, err := d.dap.Send(ctx, CmdDapLinkReadSettings, nil)
	if err != nil {
		return 0, errors.Trace(err)
	}

	rate, err := readUint32LE(response, 1)
	return rate, errors.Annotate(err, "baud rate")
}

// SetSerialBaudrate configures the bridge UART, 0 selects the configured default.
func (d *DapLink) SetSerialBaudrate(ctx context.Context, rate uint32) error {
	if rate == 0 {
		rate = d.dap.Config().BaudRate
	}

	payload := NewBuffer(4)
	payload.WriteUint32LE(rate)

	_, err := d.dap.Send(ctx, CmdDapLinkWriteSettings, payload.Bytes())
	return errors.Trace(err)
}
