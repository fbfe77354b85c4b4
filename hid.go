// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"context"

	"github.com/cesanta/hid"
	"github.com/juju/errors"
)

// HidTransport talks to CMSIS-DAP v1 probes through the operating system's
// HID driver, no detaching of kernel drivers required.
type HidTransport struct {
	vid  uint16
	pid  uint16
	path string

	packetSize int

	device hid.Device
}

// NewHidTransport selects the first HID device with vid and pid, or the one
// at path if path is not empty.
func NewHidTransport(vid uint16, pid uint16, path string) *HidTransport {
	return &HidTransport{
		vid:        vid,
		pid:        pid,
		path:       path,
		packetSize: defaultPacketSize,
	}
}

func (t *HidTransport) PacketSize() int {
	return t.packetSize
}

func (t *HidTransport) Open(ctx context.Context) error {
	if t.device != nil {
		return nil
	}

	devices, err := hid.Devices()
	if err != nil {
		return errors.Annotate(err, "enumerate hid devices")
	}

	for _, di := range devices {
		logger.Tracef("hid device %04x:%04x %s", di.VendorID, di.ProductID, di.Path)

		if di.VendorID != t.vid || di.ProductID != t.pid || (t.path != "" && di.Path != t.path) {
			continue
		}

		d, err := di.Open()
		if err != nil {
			return errors.Annotatef(err, "open device %04x:%04x (%s)", di.VendorID, di.ProductID, di.Path)
		}

		logger.Infof("opened hid device %04x:%04x (%s)", di.VendorID, di.ProductID, di.Path)
		t.device = d

		return nil
	}

	return errors.NotFoundf("hid device %04x:%04x", t.vid, t.pid)
}

func (t *HidTransport) Close() error {
	if t.device != nil {
		t.device.Close()
		t.device = nil
	}

	return nil
}

func (t *HidTransport) Write(ctx context.Context, data []byte) error {
	if t.device == nil {
		return errors.New("hid transport not open")
	}

	// report number 0 followed by a full report
	report := make([]byte, 1+t.packetSize)
	copy(report[1:], data)

	return errors.Annotate(t.device.Write(report), "hid write")
}

func (t *HidTransport) Read(ctx context.Context) ([]byte, error) {
	if t.device == nil {
		return nil, errors.New("hid transport not open")
	}

	select {
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	case report, ok := <-t.device.ReadCh():
		if !ok {
			return nil, errors.Annotate(t.device.ReadError(), "hid read")
		}
		return report, nil
	}
}
