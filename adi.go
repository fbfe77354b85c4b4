// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

// register semantics follow the Arm Debug Interface v5 architecture reference

package godap

import (
	"context"

	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
)

// Proxy is the command channel the register layer issues its transfers on.
// *CmsisDap implements it.
type Proxy interface {
	Session() string
	Config() Config
	OperationCount() int
	BlockSize() int

	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Reset(ctx context.Context) (bool, error)

	Transfer(ctx context.Context, operations []Operation) ([]uint32, error)
	TransferBlockRead(ctx context.Context, port Port, register uint8, count int) ([]uint32, error)
	TransferBlockWrite(ctx context.Context, port Port, register uint8, values []uint32) error
}

// Adi provides DP and AP register access and MEM-AP memory access.
// SELECT and CSW writes are skipped while the target already holds the value.
type Adi struct {
	proxy Proxy
	log   *logrus.Entry

	selectedAddress registerCache
	cswValue        registerCache
}

func NewAdi(proxy Proxy) *Adi {
	return &Adi{
		proxy: proxy,
		log:   sessionLog(proxy.Session()),
	}
}

func NewAdiFromTransport(transport Transport, opts ...Option) *Adi {
	return NewAdi(NewCmsisDap(transport, opts...))
}

func (a *Adi) Proxy() Proxy {
	return a.proxy
}

// Connect brings up the probe, clears sticky errors and powers up the debug
// and system domains.
func (a *Adi) Connect(ctx context.Context) error {
	if err := a.proxy.Connect(ctx); err != nil {
		return errors.Trace(err)
	}

	a.invalidateCaches()

	idr, err := a.ReadDP(ctx, DpIdr)
	if err != nil {
		return errors.Annotate(err, "read DPIDR")
	}

	a.log.Debugf("DPIDR 0x%08x", idr)

	_, err = a.TransferSequence(ctx,
		a.writeDPCommand(DpAbort, abortClearAll),
		a.writeDPCommand(DpSelect, 0),
		a.writeDPCommand(DpCtrlStat, ctrlStatCSysPwrUpReq|ctrlStatCDbgPwrUpReq),
	)
	if err != nil {
		return errors.Annotate(err, "request power up")
	}

	const mask = ctrlStatCSysPwrUpAck | ctrlStatCDbgPwrUpAck

	err = waitDelay(ctx, "debug power up", func() (bool, error) {
		status, err := a.ReadDP(ctx, DpCtrlStat)
		return status&mask == mask, err
	}, defaultPollInterval, a.proxy.Config().PowerUpTimeout)

	if err != nil {
		return errors.Trace(err)
	}

	a.log.Info("debug port powered up")
	return nil
}

func (a *Adi) Disconnect(ctx context.Context) error {
	a.invalidateCaches()
	return errors.Trace(a.proxy.Disconnect(ctx))
}

// Reconnect disconnects and connects again, the register caches start out unknown.
func (a *Adi) Reconnect(ctx context.Context) error {
	a.invalidateCaches()

	if err := a.proxy.Disconnect(ctx); err != nil {
		return errors.Trace(err)
	}

	if err := sleepContext(ctx, reconnectDelay); err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(a.Connect(ctx))
}

func (a *Adi) Reset(ctx context.Context) (bool, error) {
	a.invalidateCaches()

	result, err := a.proxy.Reset(ctx)
	return result, errors.Trace(err)
}

// TransferSequence issues the concatenation of batches in chunks of at most
// OperationCount operations and returns all read values in order. A failed
// chunk aborts the sequence, chunks already sent stay in effect.
func (a *Adi) TransferSequence(ctx context.Context, batches ...[]Operation) ([]uint32, error) {
	var operations []Operation

	for _, batch := range batches {
		operations = append(operations, batch...)
	}

	chunkSize := a.proxy.OperationCount()

	var values []uint32

	for start := 0; start < len(operations); start += chunkSize {
		end := start + chunkSize
		if end > len(operations) {
			end = len(operations)
		}

		if start > 0 {
			a.log.Debugf("transfer sequence chunk %d-%d of %d", start, end, len(operations))
		}

		result, err := a.proxy.Transfer(ctx, operations[start:end])
		if err != nil {
			// the probe state of SELECT and CSW is unknown now
			a.invalidateCaches()
			return nil, errors.Trace(err)
		}

		values = append(values, result...)
	}

	return values, nil
}

func (a *Adi) ReadDP(ctx context.Context, register uint8) (uint32, error) {
	values, err := a.TransferSequence(ctx, a.readDPCommand(register))
	if err != nil {
		return 0, errors.Trace(err)
	}

	return values[0], nil
}

func (a *Adi) WriteDP(ctx context.Context, register uint8, value uint32) error {
	_, err := a.TransferSequence(ctx, a.writeDPCommand(register, value))
	return errors.Trace(err)
}

// ReadAP reads an AP register. Bits 31:24 of register select the AP, bits 7:4 the bank.
func (a *Adi) ReadAP(ctx context.Context, register uint32) (uint32, error) {
	values, err := a.TransferSequence(ctx, a.readAPCommand(register))
	if err != nil {
		return 0, errors.Trace(err)
	}

	return values[0], nil
}

func (a *Adi) WriteAP(ctx context.Context, register uint32, value uint32) error {
	_, err := a.TransferSequence(ctx, a.writeAPCommand(register, value))
	return errors.Trace(err)
}
