// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"context"

	"github.com/juju/errors"
)

type Port uint8 // register address space of an operation

const (
	PortDebug  Port = 0x00
	PortAccess Port = 0x01
)

func (p Port) String() string {
	if p == PortAccess {
		return "AP"
	}
	return "DP"
}

type TransferMode uint8

const (
	TransferWrite TransferMode = 0x00
	TransferRead  TransferMode = 0x02
)

// Operation describes one DP or AP register access. Value is ignored for reads.
type Operation struct {
	Port     Port
	Mode     TransferMode
	Register uint8
	Value    uint32
}

func DpRead(register uint8) Operation {
	return Operation{Port: PortDebug, Mode: TransferRead, Register: register}
}

func DpWrite(register uint8, value uint32) Operation {
	return Operation{Port: PortDebug, Mode: TransferWrite, Register: register, Value: value}
}

func ApRead(register uint8) Operation {
	return Operation{Port: PortAccess, Mode: TransferRead, Register: register}
}

func ApWrite(register uint8, value uint32) Operation {
	return Operation{Port: PortAccess, Mode: TransferWrite, Register: register, Value: value}
}

func (op Operation) request() byte {
	return transferRequest(op.Port, op.Mode, op.Register)
}

func transferRequest(port Port, mode TransferMode, register uint8) byte {
	return byte(port) | byte(mode) | (register & uint8(apRegMask))
}

// decodeTransferStatus maps the status byte of DAP_Transfer and
// DAP_TransferBlock responses, error flags win over the acknowledge
func decodeTransferStatus(status uint8) (TransferResponse, bool) {
	switch {
	case status&uint8(ResponseProtocolError) != 0:
		return ResponseProtocolError, false
	case status&uint8(ResponseValueMismatch) != 0:
		return ResponseValueMismatch, false
	}

	ack := TransferResponse(status & 0x07)

	return ack, ack == ResponseOk
}

func checkTransferStatus(cmd Command, status uint8) error {
	if response, ok := decodeTransferStatus(status); !ok {
		return &TransferError{Command: cmd, Response: response, Status: status}
	}

	return nil
}

// Transfer issues operations as one DAP_Transfer and returns one value per
// read in request order. Callers must not pass more than OperationCount operations.
func (h *CmsisDap) Transfer(ctx context.Context, operations []Operation) ([]uint32, error) {
	if len(operations) > h.operationCount {
		return nil, errors.NotValidf("transfer of %d operations (limit %d)", len(operations), h.operationCount)
	}

	if len(operations) == 0 {
		return nil, nil
	}

	var values []uint32

	err := h.withWaitRetry(ctx, func() error {
		var err error
		values, err = h.transfer(ctx, operations)
		return err
	})

	return values, err
}

func (h *CmsisDap) transfer(ctx context.Context, operations []Operation) ([]uint32, error) {
	payload := NewBuffer(transferHeaderSize + len(operations)*transferOperationSize)
	payload.WriteByte(0) // dap index, ignored for SWD
	payload.WriteByte(byte(len(operations)))

	reads := 0

	// a write is request byte plus value, a read only the request byte
	for _, op := range operations {
		payload.WriteByte(op.request())

		if op.Mode == TransferWrite {
			payload.WriteUint32LE(op.Value)
		} else {
			reads++
		}
	}

	response, err := h.Send(ctx, CmdTransfer, payload.Bytes())
	if err != nil {
		return nil, errors.Trace(err)
	}

	if err := ensureLength(response, 1, 2); err != nil {
		return nil, errors.Annotate(err, "transfer response")
	}

	if err := checkTransferStatus(CmdTransfer, response[2]); err != nil {
		return nil, err
	}

	if count := int(response[1]); count != len(operations) {
		return nil, &CountMismatchError{Command: CmdTransfer, Expected: len(operations), Got: count}
	}

	values, err := readWordsLE(response, 3, reads)
	if err != nil {
		return nil, errors.Annotate(err, "transfer values")
	}

	return values, nil
}

// TransferSingle reads or writes one register. The returned value is zero for writes.
func (h *CmsisDap) TransferSingle(ctx context.Context, port Port, mode TransferMode, register uint8, value uint32) (uint32, error) {
	values, err := h.Transfer(ctx, []Operation{{Port: port, Mode: mode, Register: register, Value: value}})
	if err != nil {
		return 0, err
	}

	if mode == TransferRead {
		return values[0], nil
	}

	return 0, nil
}

// TransferBlockRead reads count words from one register. count must not exceed BlockSize.
func (h *CmsisDap) TransferBlockRead(ctx context.Context, port Port, register uint8, count int) ([]uint32, error) {
	if count > h.blockSize || count < 0 {
		return nil, errors.NotValidf("block read of %d words (limit %d)", count, h.blockSize)
	}

	var values []uint32

	err := h.withWaitRetry(ctx, func() error {
		response, err := h.transferBlock(ctx, transferRequest(port, TransferRead, register), count, nil)
		if err != nil {
			return err
		}

		values, err = readWordsLE(response, blockHeaderSize, count)
		return errors.Annotate(err, "block values")
	})

	return values, err
}

// TransferBlockWrite writes values to one register. len(values) must not exceed BlockSize.
func (h *CmsisDap) TransferBlockWrite(ctx context.Context, port Port, register uint8, values []uint32) error {
	if len(values) > h.blockSize {
		return errors.NotValidf("block write of %d words (limit %d)", len(values), h.blockSize)
	}

	return h.withWaitRetry(ctx, func() error {
		_, err := h.transferBlock(ctx, transferRequest(port, TransferWrite, register), len(values), values)
		return err
	})
}

func (h *CmsisDap) transferBlock(ctx context.Context, request byte, count int, values []uint32) ([]byte, error) {
	payload := NewBuffer(blockHeaderSize - 1 + len(values)*4)
	payload.WriteByte(0) // dap index, ignored for SWD
	payload.WriteUint16LE(uint16(count))
	payload.WriteByte(request)

	for _, v := range values {
		payload.WriteUint32LE(v)
	}

	response, err := h.Send(ctx, CmdTransferBlock, payload.Bytes())
	if err != nil {
		return nil, errors.Trace(err)
	}

	if err := ensureLength(response, 1, 3); err != nil {
		return nil, errors.Annotate(err, "block response")
	}

	if err := checkTransferStatus(CmdTransferBlock, response[3]); err != nil {
		return nil, err
	}

	executed, _ := readUint16LE(response, 1)

	if int(executed) != count {
		return nil, &CountMismatchError{Command: CmdTransferBlock, Expected: count, Got: int(executed)}
	}

	return response, nil
}
