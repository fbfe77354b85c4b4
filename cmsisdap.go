// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// command set and packet layouts follow the CMSIS-DAP firmware documentation

// https://arm-software.github.io/CMSIS_5/DAP/html/group__DAP__Commands__gr.html

package godap

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

const (
	reconnectDelay  = 100 * time.Millisecond
	responseTimeout = 5 * time.Second
)

// CmsisDap is the command channel to one CMSIS-DAP probe. All exchanges on
// one instance are serialized.
type CmsisDap struct {
	transport Transport
	config    Config

	session string
	log     *logrus.Entry

	// held for the duration of one request/response exchange
	mutex sync.Mutex

	packetSize     int
	operationCount int
	blockSize      int

	mode ConnectMode
}

// NewCmsisDap creates a command channel on top of transport. Derived packet
// limits are fixed here from the transport's packet size.
func NewCmsisDap(transport Transport, opts ...Option) *CmsisDap {
	session := xid.New().String()

	h := &CmsisDap{
		transport:  transport,
		config:     newConfig(opts),
		session:    session,
		log:        sessionLog(session),
		packetSize: transport.PacketSize(),
	}

	h.operationCount = (h.packetSize - transferHeaderSize - opcodeSize) / transferOperationSize
	h.blockSize = (h.packetSize - blockHeaderSize - opcodeSize) / 4

	h.log.Debugf("created channel with packet size %d (%d operations per transfer, %d words per block)",
		h.packetSize, h.operationCount, h.blockSize)

	return h
}

func (h *CmsisDap) Session() string {
	return h.session
}

func (h *CmsisDap) Config() Config {
	return h.config
}

func (h *CmsisDap) PacketSize() int {
	return h.packetSize
}

// OperationCount is the maximum number of operations accepted by one Transfer.
func (h *CmsisDap) OperationCount() int {
	return h.operationCount
}

// BlockSize is the maximum number of words accepted by one block transfer.
func (h *CmsisDap) BlockSize() int {
	return h.blockSize
}

// Mode returns the port mode the probe answered on the last Connect.
func (h *CmsisDap) Mode() ConnectMode {
	return h.mode
}

// Send writes one command and returns the complete response packet, the
// echoed opcode included.
func (h *CmsisDap) Send(ctx context.Context, cmd Command, payload []byte) ([]byte, error) {
	request := newCommandBuffer(cmd, len(payload))
	request.Write(payload)

	if request.Len() > h.packetSize {
		return nil, errors.NotValidf("%s request of %d bytes (packet size %d)", cmd, request.Len(), h.packetSize)
	}

	response, err := h.exchange(ctx, request.Bytes())
	if err != nil {
		return nil, errors.Annotatef(err, "%s", cmd)
	}

	if len(response) == 0 {
		return nil, &ProtocolError{Command: cmd}
	}

	if response[0] != byte(cmd) {
		return nil, &ProtocolError{Command: cmd, Got: response[0]}
	}

	if cmd.hasStatus() {
		if len(response) < 2 {
			return nil, errors.Annotatef(ensureLength(response, 1, 1), "%s status", cmd)
		}

		if response[1] != dapStatusOk {
			return nil, &StatusError{Command: cmd, Status: response[1]}
		}
	}

	return response, nil
}

func (h *CmsisDap) exchange(ctx context.Context, request []byte) ([]byte, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}

	h.log.Tracef("=> %s", hexDump(request))

	if err := h.transport.Write(ctx, request); err != nil {
		return nil, &LinkError{Op: "write", Err: err}
	}

	// the probe answers every request it received, a response left unread
	// would be taken for the answer to the next command
	readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), responseTimeout)
	defer cancel()

	response, err := h.transport.Read(readCtx)
	if err != nil {
		return nil, &LinkError{Op: "read", Err: err}
	}

	h.log.Tracef("<= %s", hexDump(response))

	return response, nil
}

// Connect opens the transport and brings up the debug port. The steps must
// not be reordered.
func (h *CmsisDap) Connect(ctx context.Context) error {
	h.log.Infof("connecting probe (mode %s, clock %d Hz)", h.config.Mode, h.config.ClockFrequency)

	if err := h.transport.Open(ctx); err != nil {
		return errors.Trace(&LinkError{Op: "open", Err: err})
	}

	if err := h.connect(ctx); err != nil {
		if closeErr := h.transport.Close(); closeErr != nil {
			h.log.Debugf("close after failed connect: %v", closeErr)
		}

		return err
	}

	return nil
}

func (h *CmsisDap) connect(ctx context.Context) error {
	if err := h.SwjClock(ctx, h.config.ClockFrequency); err != nil {
		return errors.Trace(err)
	}

	response, err := h.Send(ctx, CmdConnect, []byte{byte(h.config.Mode)})
	if err != nil {
		return errors.Trace(err)
	}

	if err := ensureLength(response, 1, 1); err != nil {
		return errors.Annotate(err, "connect response")
	}

	mode := ConnectMode(response[1])

	if mode == connectModeFailed || (h.config.Mode != ConnectModeDefault && mode != h.config.Mode) {
		return &ConnectError{Requested: h.config.Mode, Got: mode}
	}

	h.mode = mode
	h.log.Debugf("probe connected in %s mode", mode)

	transfer := h.config.Transfer
	if err := h.ConfigureTransfer(ctx, transfer.IdleCycles, transfer.WaitRetry, transfer.MatchRetry); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(h.SelectProtocol(ctx, mode))
}

// Disconnect releases the debug port and closes the transport. The transport
// is closed even if the probe rejected the disconnect.
func (h *CmsisDap) Disconnect(ctx context.Context) error {
	h.log.Info("disconnecting probe")

	_, sendErr := h.Send(ctx, CmdDisconnect, nil)

	if err := h.transport.Close(); err != nil && sendErr == nil {
		return errors.Trace(&LinkError{Op: "close", Err: err})
	}

	return errors.Trace(sendErr)
}

// Reconnect disconnects, waits for the probe to settle and connects again.
func (h *CmsisDap) Reconnect(ctx context.Context) error {
	if err := h.Disconnect(ctx); err != nil {
		return errors.Trace(err)
	}

	if err := sleepContext(ctx, reconnectDelay); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(h.Connect(ctx))
}

// Reset asserts the target reset. The result reports whether the probe
// implements a device specific reset sequence.
func (h *CmsisDap) Reset(ctx context.Context) (bool, error) {
	response, err := h.Send(ctx, CmdResetTarget, nil)
	if err != nil {
		return false, errors.Trace(err)
	}

	if err := ensureLength(response, 2, 1); err != nil {
		return false, errors.Annotate(err, "reset response")
	}

	return response[2] == dapResetSequence, nil
}

func (h *CmsisDap) SetHostStatus(ctx context.Context, status HostStatus, on bool) error {
	var value byte
	if on {
		value = 1
	}

	_, err := h.Send(ctx, CmdHostStatus, []byte{byte(status), value})
	return errors.Trace(err)
}

func (h *CmsisDap) SwjClock(ctx context.Context, hz uint32) error {
	payload := NewBuffer(4)
	payload.WriteUint32LE(hz)

	_, err := h.Send(ctx, CmdSwjClock, payload.Bytes())
	return errors.Trace(err)
}

// SwjSequence clocks out len(data)*8 bits on SWDIO/TMS, least significant bit first.
func (h *CmsisDap) SwjSequence(ctx context.Context, data []byte) error {
	bits := len(data) * 8

	if bits == 0 || bits > 256 {
		return errors.NotValidf("swj sequence of %d bits", bits)
	}

	payload := NewBuffer(1 + len(data))
	// 0 encodes 256 bits
	payload.WriteByte(byte(bits))
	payload.Write(data)

	_, err := h.Send(ctx, CmdSwjSequence, payload.Bytes())
	return errors.Trace(err)
}

// SelectProtocol switches the SWJ-DP into SWD or JTAG operation: line reset,
// select pattern, line reset, idle.
func (h *CmsisDap) SelectProtocol(ctx context.Context, mode ConnectMode) error {
	h.log.Debugf("select protocol %s", mode)

	if err := h.SwjSequence(ctx, lineResetSequence); err != nil {
		return errors.Trace(err)
	}

	pattern := NewBuffer(2)
	pattern.WriteUint16LE(mode.selectSequence())

	if err := h.SwjSequence(ctx, pattern.Bytes()); err != nil {
		return errors.Trace(err)
	}

	if err := h.SwjSequence(ctx, lineResetSequence); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(h.SwjSequence(ctx, []byte{0x00}))
}

func (h *CmsisDap) ConfigureTransfer(ctx context.Context, idleCycles uint8, waitRetry uint16, matchRetry uint16) error {
	payload := NewBuffer(5)
	payload.WriteByte(idleCycles)
	payload.WriteUint16LE(waitRetry)
	payload.WriteUint16LE(matchRetry)

	_, err := h.Send(ctx, CmdTransferConfigure, payload.Bytes())
	return errors.Trace(err)
}

// SwdConfigure sets the turnaround period (bits 1:0) and data phase (bit 2).
func (h *CmsisDap) SwdConfigure(ctx context.Context, configuration uint8) error {
	_, err := h.Send(ctx, CmdSwdConfigure, []byte{configuration})
	return errors.Trace(err)
}

// Delay lets the probe wait, the resolution is one microsecond.
func (h *CmsisDap) Delay(ctx context.Context, d time.Duration) error {
	us := d / time.Microsecond

	if us < 0 || us > 0xffff {
		return errors.NotValidf("delay of %s", d)
	}

	payload := NewBuffer(2)
	payload.WriteUint16LE(uint16(us))

	_, err := h.Send(ctx, CmdDelay, payload.Bytes())
	return errors.Trace(err)
}

func (h *CmsisDap) WriteAbort(ctx context.Context, value uint32) error {
	payload := NewBuffer(5)
	payload.WriteByte(0) // dap index, ignored for SWD
	payload.WriteUint32LE(value)

	_, err := h.Send(ctx, CmdWriteAbort, payload.Bytes())
	return errors.Trace(err)
}
