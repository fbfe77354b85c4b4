// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"context"
	"fmt"
	"strings"

	"github.com/boljen/go-bitmap"
	"github.com/juju/errors"
)

type InfoId uint8 // DAP_Info request id

const (
	InfoVendor          InfoId = 0x01
	InfoProduct         InfoId = 0x02
	InfoSerialNumber    InfoId = 0x03
	InfoFirmwareVersion InfoId = 0x04
	InfoTargetVendor    InfoId = 0x05
	InfoTargetName      InfoId = 0x06
	InfoCapabilities    InfoId = 0xf0
	InfoTestDomainTimer InfoId = 0xf1
	InfoSwoBufferSize   InfoId = 0xfd
	InfoPacketCount     InfoId = 0xfe
	InfoPacketSize      InfoId = 0xff
)

// Capability is a bit position in the DAP_Info capabilities answer
type Capability int

const (
	CapabilitySwd             Capability = 0
	CapabilityJtag            Capability = 1
	CapabilitySwoUart         Capability = 2
	CapabilitySwoManchester   Capability = 3
	CapabilityAtomic          Capability = 4
	CapabilityTestDomainTimer Capability = 5
	CapabilitySwoStreaming    Capability = 6
	CapabilityUartCom         Capability = 7
	CapabilityUsbComPort      Capability = 8

	capabilityBits = 16
)

var capabilityNames = []string{"SWD", "JTAG", "SWO-UART", "SWO-Manchester", "Atomic", "Timer", "SWO-Streaming", "UART", "USB-COM"}

type Capabilities struct {
	flags bitmap.Bitmap
}

func newCapabilities(raw []byte) Capabilities {
	flags := bitmap.New(capabilityBits)

	for i := 0; i < len(raw)*8 && i < capabilityBits; i++ {
		flags.Set(i, raw[i/8]&(1<<uint(i%8)) != 0)
	}

	return Capabilities{flags: flags}
}

func (c Capabilities) Has(capability Capability) bool {
	if c.flags == nil || int(capability) >= capabilityBits {
		return false
	}

	return c.flags.Get(int(capability))
}

func (c Capabilities) String() string {
	var names []string

	for i, name := range capabilityNames {
		if c.Has(Capability(i)) {
			names = append(names, name)
		}
	}

	return strings.Join(names, ",")
}

// Info returns the raw answer to a DAP_Info request, empty if the probe does
// not provide the item.
func (h *CmsisDap) Info(ctx context.Context, id InfoId) ([]byte, error) {
	response, err := h.Send(ctx, CmdInfo, []byte{byte(id)})
	if err != nil {
		return nil, errors.Annotatef(err, "info 0x%02x", uint8(id))
	}

	if err := ensureLength(response, 1, 1); err != nil {
		return nil, errors.Annotatef(err, "info 0x%02x", uint8(id))
	}

	length := int(response[1])

	if err := ensureLength(response, 2, length); err != nil {
		return nil, errors.Annotatef(err, "info 0x%02x", uint8(id))
	}

	return response[2 : 2+length], nil
}

func (h *CmsisDap) InfoString(ctx context.Context, id InfoId) (string, error) {
	data, err := h.Info(ctx, id)
	if err != nil {
		return "", err
	}

	return strings.TrimRight(string(data), "\x00"), nil
}

// InfoUint decodes byte, short and word sized answers.
func (h *CmsisDap) InfoUint(ctx context.Context, id InfoId) (uint32, error) {
	data, err := h.Info(ctx, id)
	if err != nil {
		return 0, err
	}

	switch len(data) {
	case 0:
		return 0, errors.NotFoundf("info 0x%02x", uint8(id))
	case 1:
		return uint32(data[0]), nil
	case 2:
		v, _ := readUint16LE(data, 0)
		return uint32(v), nil
	case 4:
		return readUint32LE(data, 0)
	default:
		return 0, errors.NotValidf("info 0x%02x of %d bytes", uint8(id), len(data))
	}
}

func (h *CmsisDap) Capabilities(ctx context.Context) (Capabilities, error) {
	data, err := h.Info(ctx, InfoCapabilities)
	if err != nil {
		return Capabilities{}, err
	}

	return newCapabilities(data), nil
}

type ProbeInfo struct {
	Vendor          string
	Product         string
	SerialNumber    string
	FirmwareVersion string
	TargetVendor    string
	TargetName      string
	Capabilities    Capabilities
	PacketCount     uint32
	PacketSize      uint32
}

func (i ProbeInfo) String() string {
	return fmt.Sprintf("%s %s [%s] firmware %s, %d packets of %d bytes, %s",
		i.Vendor, i.Product, i.SerialNumber, i.FirmwareVersion, i.PacketCount, i.PacketSize, i.Capabilities)
}

// ProbeInfo collects the identification items of the probe. Items the probe
// does not provide stay empty.
func (h *CmsisDap) ProbeInfo(ctx context.Context) (*ProbeInfo, error) {
	info := &ProbeInfo{}

	strs := []struct {
		id     InfoId
		target *string
	}{
		{InfoVendor, &info.Vendor},
		{InfoProduct, &info.Product},
		{InfoSerialNumber, &info.SerialNumber},
		{InfoFirmwareVersion, &info.FirmwareVersion},
		{InfoTargetVendor, &info.TargetVendor},
		{InfoTargetName, &info.TargetName},
	}

	for _, s := range strs {
		value, err := h.InfoString(ctx, s.id)
		if err != nil {
			return nil, err
		}

		*s.target = value
	}

	capabilities, err := h.Capabilities(ctx)
	if err != nil {
		return nil, err
	}

	info.Capabilities = capabilities

	for id, target := range map[InfoId]*uint32{InfoPacketCount: &info.PacketCount, InfoPacketSize: &info.PacketSize} {
		value, err := h.InfoUint(ctx, id)

		if errors.IsNotFound(err) {
			continue
		} else if err != nil {
			return nil, err
		}

		*target = value
	}

	h.log.Debugf("probe info: %s", info)

	return info, nil
}
