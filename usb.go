// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"context"

	"github.com/google/gousb"
	"github.com/juju/errors"
)

// well known CMSIS-DAP probe ids
var (
	DapLinkVid gousb.ID = 0x0d28
	DapLinkPid gousb.ID = 0x0204
)

const (
	hidSetReport     = 0x09
	hidGetReport     = 0x01
	hidReportOutput  = 0x0200
	hidReportInput   = 0x0100
	vendorClassValue = gousb.ClassVendorSpec
)

// UsbTransport talks to a probe through libusb. Bulk endpoints of a vendor
// class interface are preferred, HID class probes are driven with
// SET_REPORT/GET_REPORT control transfers.
type UsbTransport struct {
	vid    []gousb.ID
	pid    []gousb.ID
	serial string

	packetSize int

	usbCtx       *gousb.Context
	libUsbDevice *gousb.Device
	usbConfig    *gousb.Config
	usbInterface *gousb.Interface
	interfaceNo  int

	rxEndpoint *gousb.InEndpoint
	txEndpoint *gousb.OutEndpoint
}

// NewUsbTransport selects the first probe matching one of vids/pids, or the
// one with the given serial number if serial is not empty.
func NewUsbTransport(vids []gousb.ID, pids []gousb.ID, serial string) *UsbTransport {
	return &UsbTransport{
		vid:        vids,
		pid:        pids,
		serial:     serial,
		packetSize: defaultPacketSize,
	}
}

func (t *UsbTransport) PacketSize() int {
	return t.packetSize
}

func (t *UsbTransport) Open(ctx context.Context) error {
	if t.libUsbDevice != nil {
		return nil
	}

	t.usbCtx = gousb.NewContext()

	devices, err := t.usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if idExists(t.vid, desc.Vendor) && idExists(t.pid, desc.Product) {
			logger.Infof("found usb device [%04x:%04x] on bus %03d:%03d",
				uint16(desc.Vendor), uint16(desc.Product), desc.Bus, desc.Address)
			return true
		}
		return false
	})

	// OpenDevices reports errors of devices it could not open next to the ones it did
	if len(devices) == 0 {
		t.release()

		if err != nil {
			return errors.Annotate(err, "usb device scan")
		}
		return errors.NotFoundf("probe [%v:%v]", t.vid, t.pid)
	}

	for _, dev := range devices {
		if t.libUsbDevice != nil {
			dev.Close()
			continue
		}

		serialNo, _ := dev.SerialNumber()
		logger.Debugf("compare serial no %s with number %s", serialNo, t.serial)

		if t.serial == "" || serialNo == t.serial {
			t.libUsbDevice = dev
		} else {
			dev.Close()
		}
	}

	if t.libUsbDevice == nil {
		t.release()
		return errors.NotFoundf("probe with serial number %s", t.serial)
	}

	if err := t.claim(); err != nil {
		t.release()
		return errors.Trace(err)
	}

	return nil
}

func (t *UsbTransport) claim() error {
	if err := t.libUsbDevice.SetAutoDetach(true); err != nil {
		logger.Debugf("auto detach not supported: %v", err)
	}

	var err error

	t.usbConfig, err = t.libUsbDevice.Config(1)
	if err != nil {
		return errors.Annotate(err, "request configuration #1")
	}

	// prefer a vendor class interface with bulk endpoints (CMSIS-DAP v2)
	setting, found := gousb.InterfaceSetting{}, false

	for _, intf := range t.usbConfig.Desc.Interfaces {
		for _, alt := range intf.AltSettings {
			if alt.Class == vendorClassValue && len(alt.Endpoints) >= 2 {
				setting, found = alt, true
				break
			}
		}

		if found {
			break
		}
	}

	if !found {
		if len(t.usbConfig.Desc.Interfaces) == 0 || len(t.usbConfig.Desc.Interfaces[0].AltSettings) == 0 {
			return errors.NotFoundf("usb interface")
		}

		setting = t.usbConfig.Desc.Interfaces[0].AltSettings[0]
	}

	t.usbInterface, err = t.usbConfig.Interface(setting.Number, setting.Alternate)
	if err != nil {
		return errors.Annotatef(err, "claim interface %d", setting.Number)
	}

	t.interfaceNo = setting.Number

	for _, ep := range setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk && ep.TransferType != gousb.TransferTypeInterrupt {
			continue
		}

		if ep.Direction == gousb.EndpointDirectionIn && t.rxEndpoint == nil {
			t.rxEndpoint, err = t.usbInterface.InEndpoint(ep.Number)
			t.packetSize = ep.MaxPacketSize
		} else if ep.Direction == gousb.EndpointDirectionOut && t.txEndpoint == nil {
			t.txEndpoint, err = t.usbInterface.OutEndpoint(ep.Number)
		}

		if err != nil {
			return errors.Annotatef(err, "open endpoint %s", ep)
		}
	}

	if t.rxEndpoint == nil || t.txEndpoint == nil {
		logger.Debug("no usable endpoints, falling back to control transfers")
		t.rxEndpoint, t.txEndpoint = nil, nil
		t.packetSize = defaultPacketSize
	}

	logger.Debugf("claimed interface %d, packet size %d", t.interfaceNo, t.packetSize)
	return nil
}

func (t *UsbTransport) Close() error {
	if t.libUsbDevice != nil {
		logger.Debugf("close usb device %s", t.libUsbDevice)
	}

	return t.release()
}

func (t *UsbTransport) release() error {
	var err error

	if t.usbInterface != nil {
		t.usbInterface.Close()
	}

	if t.usbConfig != nil {
		err = t.usbConfig.Close()
	}

	if t.libUsbDevice != nil {
		if closeErr := t.libUsbDevice.Close(); err == nil {
			err = closeErr
		}
	}

	if t.usbCtx != nil {
		if closeErr := t.usbCtx.Close(); err == nil {
			err = closeErr
		}
	}

	t.usbInterface, t.usbConfig, t.libUsbDevice, t.usbCtx = nil, nil, nil, nil
	t.rxEndpoint, t.txEndpoint = nil, nil

	return errors.Trace(err)
}

func (t *UsbTransport) Write(ctx context.Context, data []byte) error {
	if t.libUsbDevice == nil {
		return errors.New("usb transport not open")
	}

	// probes expect complete reports
	buffer := make([]byte, t.packetSize)
	copy(buffer, data)

	var err error

	if t.txEndpoint != nil {
		_, err = t.txEndpoint.WriteContext(ctx, buffer)
	} else {
		_, err = t.libUsbDevice.Control(gousb.ControlOut|gousb.ControlClass|gousb.ControlInterface,
			hidSetReport, hidReportOutput, uint16(t.interfaceNo), buffer)
	}

	return errors.Trace(err)
}

func (t *UsbTransport) Read(ctx context.Context) ([]byte, error) {
	if t.libUsbDevice == nil {
		return nil, errors.New("usb transport not open")
	}

	buffer := make([]byte, t.packetSize)

	var n int
	var err error

	if t.rxEndpoint != nil {
		n, err = t.rxEndpoint.ReadContext(ctx, buffer)
	} else {
		n, err = t.libUsbDevice.Control(gousb.ControlIn|gousb.ControlClass|gousb.ControlInterface,
			hidGetReport, hidReportInput, uint16(t.interfaceNo), buffer)
	}

	if err != nil {
		return nil, errors.Trace(err)
	}

	return buffer[:n], nil
}

// ProbeDescriptor identifies a connected probe.
type ProbeDescriptor struct {
	Vid     gousb.ID
	Pid     gousb.ID
	Bus     int
	Address int
	Serial  string
	Product string
}

// ListProbes returns every connected USB device matching one of vids/pids.
func ListProbes(vids []gousb.ID, pids []gousb.ID) ([]ProbeDescriptor, error) {
	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	devices, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return idExists(vids, desc.Vendor) && idExists(pids, desc.Product)
	})
	if err != nil && len(devices) == 0 {
		return nil, errors.Annotate(err, "usb device scan")
	}

	probes := make([]ProbeDescriptor, 0, len(devices))

	for _, dev := range devices {
		serial, _ := dev.SerialNumber()
		product, _ := dev.Product()

		probes = append(probes, ProbeDescriptor{
			Vid:     dev.Desc.Vendor,
			Pid:     dev.Desc.Product,
			Bus:     dev.Desc.Bus,
			Address: dev.Desc.Address,
			Serial:  serial,
			Product: product,
		})

		dev.Close()
	}

	return probes, nil
}
