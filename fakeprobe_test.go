// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/juju/errors"
)

const (
	fakeDpIdr = 0x2ba01477
	fakeApIdr = 0x24770011
	fakeCpuId = 0x410fc241
)

// fakeOp is one decoded DAP_Transfer operation as seen on the wire
type fakeOp struct {
	port     Port
	read     bool
	register uint8
	value    uint32
}

// fakeProbe is an in memory CMSIS-DAP probe with a Cortex-M target behind it
type fakeProbe struct {
	mutex sync.Mutex

	packetSize int
	opened     bool
	openErr    error
	writeErr   error

	pending  [][]byte // responses not read yet, oldest first
	requests [][]byte

	// hook returns a response instead of the simulation if non nil
	hook func(request []byte) []byte

	statusOverride map[Command]uint8
	connectAnswer  *uint8
	resetAnswer    uint8
	transferStatus []uint8 // consumed one per DAP_Transfer

	// DP
	selectValue uint32
	ctrlStat    uint32
	noPowerUp   bool
	aborts      []uint32

	// MEM-AP
	csw    uint32
	tar    uint32
	apRegs map[uint32]uint32
	memory map[uint32]uint32

	// core
	halted         bool
	ignoreHalt     bool
	haltAfterReads int // halt again after this many DHCSR reads once resumed, 0 never
	readsSinceRun  int
	regNotReady    bool
	dhcsrExtra     uint32
	dhcsrReads     []uint32 // consumed before the simulated value
	dhcsrWrites    []uint32
	dfsrWrites     []uint32
	dcrdr          uint32
	coreRegs       map[uint32]uint32
	demcr          uint32
	aircrWrites    []uint32
	pid0           uint32

	// DAPLink
	baudRate   uint32
	openError  uint8
	writeError uint8
	closeError uint8
	streamType []uint32
	pages      [][]byte
	serialIn   []string
	serialOut  []string
}

func newFakeProbe() *fakeProbe {
	return &fakeProbe{
		packetSize:     defaultPacketSize,
		statusOverride: map[Command]uint8{},
		apRegs:         map[uint32]uint32{},
		memory:         map[uint32]uint32{},
		coreRegs:       map[uint32]uint32{},
		baudRate:       115200,
		pid0:           0x0c,
	}
}

func (f *fakeProbe) PacketSize() int {
	return f.packetSize
}

func (f *fakeProbe) Open(ctx context.Context) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.openErr != nil {
		return f.openErr
	}

	f.opened = true
	return nil
}

func (f *fakeProbe) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	f.opened = false
	return nil
}

func (f *fakeProbe) Write(ctx context.Context, data []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.writeErr != nil {
		return f.writeErr
	}

	request := append([]byte(nil), data...)
	f.requests = append(f.requests, request)

	if f.hook != nil {
		if response := f.hook(request); response != nil {
			f.pending = append(f.pending, response)
			return nil
		}
	}

	f.pending = append(f.pending, f.process(request))
	return nil
}

func (f *fakeProbe) Read(ctx context.Context) ([]byte, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if len(f.pending) == 0 {
		return nil, errors.New("read without request")
	}

	response := f.pending[0]
	f.pending = f.pending[1:]

	return response, nil
}

func (f *fakeProbe) process(request []byte) []byte {
	cmd := Command(request[0])

	if status, ok := f.statusOverride[cmd]; ok {
		return []byte{byte(cmd), status}
	}

	switch cmd {
	case CmdInfo:
		return f.info(request[1])

	case CmdConnect:
		answer := request[1]
		if answer == 0 {
			answer = byte(ConnectModeSwd)
		}
		if f.connectAnswer != nil {
			answer = *f.connectAnswer
		}
		return []byte{byte(cmd), answer}

	case CmdResetTarget:
		return []byte{byte(cmd), dapStatusOk, f.resetAnswer}

	case CmdTransfer:
		return f.transfer(request)

	case CmdTransferBlock:
		return f.transferBlock(request)

	case CmdDapLinkReadSettings:
		response := []byte{byte(cmd), 0, 0, 0, 0}
		binary.LittleEndian.PutUint32(response[1:], f.baudRate)
		return response

	case CmdDapLinkWriteSettings:
		f.baudRate = binary.LittleEndian.Uint32(request[1:])
		return []byte{byte(cmd), 0}

	case CmdDapLinkStreamOpen:
		f.streamType = append(f.streamType, binary.LittleEndian.Uint32(request[1:]))
		return []byte{byte(cmd), f.openError}

	case CmdDapLinkStreamWrite:
		length := int(request[1])
		f.pages = append(f.pages, append([]byte(nil), request[2:2+length]...))
		return []byte{byte(cmd), f.writeError}

	case CmdDapLinkStreamClose:
		return []byte{byte(cmd), f.closeError}

	case CmdDapLinkSerialRead:
		if len(f.serialIn) == 0 {
			return []byte{byte(cmd), 0}
		}
		data := f.serialIn[0]
		f.serialIn = f.serialIn[1:]
		return append([]byte{byte(cmd), byte(len(data))}, data...)

	case CmdDapLinkSerialWrite:
		length := int(request[1])
		f.serialOut = append(f.serialOut, string(request[2:2+length]))
		return []byte{byte(cmd), byte(length)}

	default:
		return []byte{byte(cmd), dapStatusOk}
	}
}

func (f *fakeProbe) info(id byte) []byte {
	var data []byte

	switch InfoId(id) {
	case InfoVendor:
		data = []byte("ARM\x00")
	case InfoProduct:
		data = []byte("DAPLink CMSIS-DAP\x00")
	case InfoSerialNumber:
		data = []byte("0240000012345678\x00")
	case InfoFirmwareVersion:
		data = []byte("1.10\x00")
	case InfoCapabilities:
		data = []byte{0x13} // SWD, JTAG, atomic
	case InfoPacketCount:
		data = []byte{4}
	case InfoPacketSize:
		data = []byte{byte(f.packetSize), byte(f.packetSize >> 8)}
	}

	return append([]byte{byte(CmdInfo), byte(len(data))}, data...)
}

func (f *fakeProbe) transfer(request []byte) []byte {
	count := int(request[2])
	status := uint8(ResponseOk)

	if len(f.transferStatus) > 0 {
		status = f.transferStatus[0]
		f.transferStatus = f.transferStatus[1:]
	}

	response := []byte{byte(CmdTransfer), 0, status}

	if status != uint8(ResponseOk) {
		return response
	}

	offset := 3
	executed := 0

	for i := 0; i < count; i++ {
		req := request[offset]
		offset++

		op := fakeOp{port: Port(req & 1), read: req&2 != 0, register: req & 0x0c}

		if !op.read {
			op.value = binary.LittleEndian.Uint32(request[offset:])
			offset += 4
		}

		if value, ok := f.access(op); ok {
			response = append(response, 0, 0, 0, 0)
			binary.LittleEndian.PutUint32(response[len(response)-4:], value)
		}

		executed++
	}

	response[1] = byte(executed)
	return response
}

func (f *fakeProbe) transferBlock(request []byte) []byte {
	count := int(binary.LittleEndian.Uint16(request[2:]))
	req := request[4]

	response := []byte{byte(CmdTransferBlock), 0, 0, uint8(ResponseOk)}
	binary.LittleEndian.PutUint16(response[1:], uint16(count))

	for i := 0; i < count; i++ {
		op := fakeOp{port: Port(req & 1), read: req&2 != 0, register: req & 0x0c}

		if op.read {
			value, _ := f.access(op)
			response = append(response, 0, 0, 0, 0)
			binary.LittleEndian.PutUint32(response[len(response)-4:], value)
		} else {
			op.value = binary.LittleEndian.Uint32(request[5+i*4:])
			f.access(op)
		}
	}

	return response
}

// access executes one register access and returns the read value
func (f *fakeProbe) access(op fakeOp) (uint32, bool) {
	if op.port == PortDebug {
		return f.accessDP(op)
	}

	register := (f.selectValue & apBankSelMask) | uint32(op.register)
	apsel := f.selectValue & apSelMask

	if apsel != 0 || register != ApCsw && register != ApTar && register != ApDrw {
		if op.read {
			if register == ApIdr && apsel == 0 {
				return fakeApIdr, true
			}
			return f.apRegs[apsel|register], true
		}
		f.apRegs[apsel|register] = op.value
		return 0, false
	}

	switch register {
	case ApCsw:
		if op.read {
			return f.csw, true
		}
		f.csw = op.value
	case ApTar:
		if op.read {
			return f.tar, true
		}
		f.tar = op.value
	case ApDrw:
		var value uint32

		if op.read {
			value = f.readMemory(f.tar)
		} else {
			f.writeMemory(f.tar, op.value, f.csw&7)
		}

		f.incrementTar()
		return value, op.read
	}

	return 0, false
}

func (f *fakeProbe) accessDP(op fakeOp) (uint32, bool) {
	switch op.register {
	case DpIdr:
		if op.read {
			return fakeDpIdr, true
		}
		f.aborts = append(f.aborts, op.value)
	case DpCtrlStat:
		if op.read {
			value := f.ctrlStat
			if !f.noPowerUp {
				if value&ctrlStatCDbgPwrUpReq != 0 {
					value |= ctrlStatCDbgPwrUpAck
				}
				if value&ctrlStatCSysPwrUpReq != 0 {
					value |= ctrlStatCSysPwrUpAck
				}
			}
			return value, true
		}
		f.ctrlStat = op.value
	case DpSelect:
		if op.read {
			return 0, true
		}
		f.selectValue = op.value
	case DpRdBuff:
		return 0, op.read
	}

	return 0, false
}

func (f *fakeProbe) incrementTar() {
	step := uint32(4)

	switch f.csw & 7 {
	case cswSize8:
		step = 1
	case cswSize16:
		step = 2
	}

	// auto increment wraps inside 1 KiB
	f.tar = (f.tar &^ (tarAutoIncrementRange - 1)) | ((f.tar + step) & (tarAutoIncrementRange - 1))
}

func (f *fakeProbe) readMemory(address uint32) uint32 {
	aligned := address &^ 3

	switch aligned {
	case regDhcsr:
		return f.readDhcsr()
	case regDcrdr:
		return f.dcrdr
	case regCpuId:
		return fakeCpuId
	case regPid0:
		return f.pid0
	case regDemcr:
		return f.demcr
	}

	return f.memory[aligned]
}

func (f *fakeProbe) readDhcsr() uint32 {
	if len(f.dhcsrReads) > 0 {
		value := f.dhcsrReads[0]
		f.dhcsrReads = f.dhcsrReads[1:]
		return value
	}

	if !f.halted && f.haltAfterReads > 0 {
		f.readsSinceRun++

		if f.readsSinceRun > f.haltAfterReads {
			f.halted = true
		}
	}

	value := dhcsrCDebugEn | f.dhcsrExtra

	if f.halted {
		value |= dhcsrSHalt
	}

	if !f.regNotReady {
		value |= dhcsrSRegRdy
	}

	return value
}

func (f *fakeProbe) writeMemory(address uint32, wire uint32, size uint32) {
	aligned := address &^ 3

	switch aligned {
	case regDhcsr:
		f.writeDhcsr(wire)
		return
	case regDcrsr:
		register := wire & 0x7f
		if wire&dcrsrRegWnR != 0 {
			f.coreRegs[register] = f.dcrdr
		} else {
			f.dcrdr = f.coreRegs[register]
		}
		return
	case regDcrdr:
		f.dcrdr = wire
		return
	case regDfsr:
		f.dfsrWrites = append(f.dfsrWrites, wire)
		return
	case regDemcr:
		f.demcr = wire
		return
	case regAircr:
		f.aircrWrites = append(f.aircrWrites, wire)
		if wire&aircrSysResetReq != 0 && f.demcr&demcrVcCoreReset != 0 {
			f.halted = true
		}
		return
	}

	mask := laneMask(size) << laneShift(address, size)
	f.memory[aligned] = (f.memory[aligned] &^ mask) | (wire & mask)
}

func (f *fakeProbe) writeDhcsr(value uint32) {
	f.dhcsrWrites = append(f.dhcsrWrites, value)

	if value&0xffff0000 != dhcsrDbgKey {
		return
	}

	if value&dhcsrCHalt != 0 {
		if !f.ignoreHalt {
			f.halted = true
		}
		return
	}

	if f.halted {
		f.halted = false
		f.readsSinceRun = 0
	}
}

// test accessors

func (f *fakeProbe) setMemory(address uint32, words ...uint32) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	for i, w := range words {
		f.memory[address+uint32(i*4)] = w
	}
}

func (f *fakeProbe) requestCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return len(f.requests)
}

// commands returns the recorded requests for cmd, starting at request index from
func (f *fakeProbe) commands(cmd Command, from int) [][]byte {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	var result [][]byte

	for _, r := range f.requests[from:] {
		if Command(r[0]) == cmd {
			result = append(result, r)
		}
	}

	return result
}

func (f *fakeProbe) opcodes() []Command {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	result := make([]Command, 0, len(f.requests))

	for _, r := range f.requests {
		result = append(result, Command(r[0]))
	}

	return result
}

// operations decodes every DAP_Transfer request recorded from request index from
func (f *fakeProbe) operations(from int) []fakeOp {
	var ops []fakeOp

	for _, request := range f.commands(CmdTransfer, from) {
		offset := 3

		for i := 0; i < int(request[2]); i++ {
			req := request[offset]
			offset++

			op := fakeOp{port: Port(req & 1), read: req&2 != 0, register: req & 0x0c}

			if !op.read {
				op.value = binary.LittleEndian.Uint32(request[offset:])
				offset += 4
			}

			ops = append(ops, op)
		}
	}

	return ops
}

func countWrites(ops []fakeOp, port Port, register uint8) int {
	n := 0

	for _, op := range ops {
		if op.port == port && !op.read && op.register == register {
			n++
		}
	}

	return n
}

func writtenValues(ops []fakeOp, port Port, register uint8) []uint32 {
	var values []uint32

	for _, op := range ops {
		if op.port == port && !op.read && op.register == register {
			values = append(values, op.value)
		}
	}

	return values
}
