// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"context"

	"github.com/juju/errors"
)

func (a *Adi) readMem(ctx context.Context, address uint32, size uint32) (uint32, error) {
	values, err := a.TransferSequence(ctx, a.readMemCommand(address, size))
	if err != nil {
		return 0, errors.Annotatef(err, "read memory at 0x%08x", address)
	}

	return fromLane(address, values[0], size), nil
}

func (a *Adi) writeMem(ctx context.Context, address uint32, value uint32, size uint32) error {
	_, err := a.TransferSequence(ctx, a.writeMemCommand(address, value, size))
	return errors.Annotatef(err, "write memory at 0x%08x", address)
}

func (a *Adi) ReadMem8(ctx context.Context, address uint32) (uint8, error) {
	value, err := a.readMem(ctx, address, cswSize8)
	return uint8(value), err
}

// ReadMem16 returns the halfword at address, address must be halfword aligned.
func (a *Adi) ReadMem16(ctx context.Context, address uint32) (uint16, error) {
	value, err := a.readMem(ctx, address, cswSize16)
	return uint16(value), err
}

func (a *Adi) ReadMem32(ctx context.Context, address uint32) (uint32, error) {
	return a.readMem(ctx, address, cswSize32)
}

func (a *Adi) WriteMem8(ctx context.Context, address uint32, value uint8) error {
	return a.writeMem(ctx, address, uint32(value), cswSize8)
}

// WriteMem16 writes value to the halfword lane selected by bit 1 of address.
func (a *Adi) WriteMem16(ctx context.Context, address uint32, value uint16) error {
	return a.writeMem(ctx, address, uint32(value), cswSize16)
}

func (a *Adi) WriteMem32(ctx context.Context, address uint32, value uint32) error {
	return a.writeMem(ctx, address, value, cswSize32)
}

// wordsToBoundary is the number of words left before TAR auto increment wraps
func wordsToBoundary(address uint32) int {
	return int(tarAutoIncrementRange-(address%tarAutoIncrementRange)) / 4
}

// ReadBlock reads count words starting at the word aligned address.
func (a *Adi) ReadBlock(ctx context.Context, address uint32, count int) ([]uint32, error) {
	if count < 0 {
		return nil, errors.NotValidf("block read of %d words", count)
	}

	values := make([]uint32, 0, count)
	blockSize := a.proxy.BlockSize()

	for len(values) < count {
		run := count - len(values)
		if n := wordsToBoundary(address); n < run {
			run = n
		}

		if err := a.setupBlock(ctx, address); err != nil {
			return nil, errors.Trace(err)
		}

		for done := 0; done < run; {
			size := run - done
			if size > blockSize {
				size = blockSize
			}

			words, err := a.proxy.TransferBlockRead(ctx, PortAccess, apWireRegister(ApDrw), size)
			if err != nil {
				a.invalidateCaches()
				return nil, errors.Annotatef(err, "block read at 0x%08x", address+uint32(done*4))
			}

			values = append(values, words...)
			done += size
		}

		address += uint32(run * 4)
	}

	return values, nil
}

// WriteBlock writes values starting at the word aligned address.
func (a *Adi) WriteBlock(ctx context.Context, address uint32, values []uint32) error {
	blockSize := a.proxy.BlockSize()

	for written := 0; written < len(values); {
		run := len(values) - written
		if n := wordsToBoundary(address); n < run {
			run = n
		}

		if err := a.setupBlock(ctx, address); err != nil {
			return errors.Trace(err)
		}

		for done := 0; done < run; {
			size := run - done
			if size > blockSize {
				size = blockSize
			}

			chunk := values[written+done : written+done+size]

			if err := a.proxy.TransferBlockWrite(ctx, PortAccess, apWireRegister(ApDrw), chunk); err != nil {
				a.invalidateCaches()
				return errors.Annotatef(err, "block write at 0x%08x", address+uint32(done*4))
			}

			done += size
		}

		written += run
		address += uint32(run * 4)
	}

	return nil
}

func (a *Adi) setupBlock(ctx context.Context, address uint32) error {
	_, err := a.TransferSequence(ctx,
		a.writeAPCommand(ApCsw, cswValue|cswSize32),
		a.writeAPCommand(ApTar, address),
	)

	return err
}
