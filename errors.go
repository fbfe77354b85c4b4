// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"fmt"
	"time"
)

// LinkError is returned when the transport fails to open, close, write or read.
type LinkError struct {
	Op  string
	Err error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s failed: %v", e.Op, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}

// ProtocolError signals a response which does not echo the command that was sent.
type ProtocolError struct {
	Command Command
	Got     uint8
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("bad response for %s: got opcode 0x%02x", e.Command, e.Got)
}

// StatusError is returned when a probe answers a command with a status other than DAP_OK.
type StatusError struct {
	Command Command
	Status  uint8
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status for %s: 0x%02x", e.Command, e.Status)
}

// ConnectError is returned when the probe refuses the requested debug port mode.
type ConnectError struct {
	Requested ConnectMode
	Got       ConnectMode
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("mode not enabled: requested %s, probe answered %s", e.Requested, e.Got)
}

type TransferResponse uint8 // decoded transfer acknowledge

const (
	ResponseOk            TransferResponse = 0x01
	ResponseWait          TransferResponse = 0x02
	ResponseFault         TransferResponse = 0x04
	ResponseNoAck         TransferResponse = 0x07
	ResponseProtocolError TransferResponse = 0x08
	ResponseValueMismatch TransferResponse = 0x10
)

func (r TransferResponse) String() string {
	switch r {
	case ResponseOk:
		return "OK"
	case ResponseWait:
		return "WAIT"
	case ResponseFault:
		return "FAULT"
	case ResponseNoAck:
		return "NO_ACK"
	case ResponseProtocolError:
		return "PROTOCOL_ERROR"
	case ResponseValueMismatch:
		return "VALUE_MISMATCH"
	default:
		return fmt.Sprintf("0x%02x", uint8(r))
	}
}

// TransferError carries the decoded acknowledge of a failed DAP_Transfer or DAP_TransferBlock.
type TransferError struct {
	Command  Command
	Response TransferResponse
	Status   uint8
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s response %s (status 0x%02x)", e.Command, e.Response, e.Status)
}

// CountMismatchError is returned when a probe did not execute every requested transfer.
type CountMismatchError struct {
	Command  Command
	Expected int
	Got      int
}

func (e *CountMismatchError) Error() string {
	return fmt.Sprintf("%s count mismatch: requested %d, executed %d", e.Command, e.Expected, e.Got)
}

// RegisterNotReadyError is returned when DHCSR.S_REGRDY was clear after a core register access.
type RegisterNotReadyError struct {
	Register CoreRegister
}

func (e *RegisterNotReadyError) Error() string {
	return fmt.Sprintf("register %s not ready", e.Register)
}

// TimeoutError is returned when a polled condition did not become true in time.
type TimeoutError struct {
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Operation, e.Timeout)
}

// ExecutionTimeoutError is returned when injected code never reached its breakpoint.
type ExecutionTimeoutError struct {
	Address uint32
	Timeout time.Duration
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("code at 0x%08x did not hit breakpoint within %s", e.Address, e.Timeout)
}

// StreamError is returned when the DAPLink flash stream reports a non-zero error byte.
type StreamError struct {
	Command Command
	Code    uint8
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s reported stream error 0x%02x", e.Command, e.Code)
}

// isWait reports whether err is a WAIT acknowledge which may be retried
func isWait(err error) bool {
	transferErr, ok := err.(*TransferError)
	return ok && transferErr.Response == ResponseWait
}
