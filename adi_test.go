// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/require"
)

const testRam = 0x20000000

func newTestAdi(opts ...Option) (*Adi, *fakeProbe) {
	probe := newFakeProbe()
	return NewAdiFromTransport(probe, opts...), probe
}

func TestTransferSequenceChunking(t *testing.T) {
	for _, n := range []int{0, 1, 12, 13, 24} {
		t.Run(fmt.Sprintf("%d operations", n), func(t *testing.T) {
			adi, probe := newTestAdi()
			ctx := context.Background()

			expected := make([]uint32, n)
			for i := range expected {
				expected[i] = uint32(100 + i)
				probe.setMemory(testRam+uint32(i*4), expected[i])
			}

			_, err := adi.TransferSequence(ctx,
				adi.writeAPCommand(ApCsw, cswValue|cswSize32),
				adi.writeAPCommand(ApTar, testRam),
			)
			require.NoError(t, err)

			mark := probe.requestCount()

			reads := make([][]Operation, n)
			for i := range reads {
				reads[i] = []Operation{ApRead(apWireRegister(ApDrw))}
			}

			values, err := adi.TransferSequence(ctx, reads...)
			require.NoError(t, err)

			chunks := (n + adi.proxy.OperationCount() - 1) / adi.proxy.OperationCount()
			require.Len(t, probe.commands(CmdTransfer, mark), chunks)

			if n == 0 {
				require.Empty(t, values)
			} else {
				require.Equal(t, expected, values)
			}
		})
	}
}

func TestSelectElision(t *testing.T) {
	adi, probe := newTestAdi()
	ctx := context.Background()

	_, err := adi.ReadAP(ctx, ApIdr)
	require.NoError(t, err)
	_, err = adi.ReadAP(ctx, ApCfg)
	require.NoError(t, err)

	require.Equal(t, 1, countWrites(probe.operations(0), PortDebug, DpSelect))

	_, err = adi.ReadAP(ctx, ApCsw)
	require.NoError(t, err)

	ops := probe.operations(0)
	require.Equal(t, 2, countWrites(ops, PortDebug, DpSelect))
	require.Equal(t, []uint32{0xf0, 0x00}, writtenValues(ops, PortDebug, DpSelect))
}

func TestSelectAccessPort(t *testing.T) {
	adi, probe := newTestAdi()
	ctx := context.Background()

	require.NoError(t, adi.WriteAP(ctx, 0x01000000|ApBd2, 0x1234))

	require.Equal(t, []uint32{0x01000010}, writtenValues(probe.operations(0), PortDebug, DpSelect))
	require.Equal(t, uint32(0x1234), probe.apRegs[0x01000018])

	value, err := adi.ReadAP(ctx, 0x01000000|ApBd2)
	require.NoError(t, err)
	require.Equal(t, uint32(0x1234), value)
	require.Equal(t, 1, countWrites(probe.operations(0), PortDebug, DpSelect))
}

func TestCswElision(t *testing.T) {
	adi, probe := newTestAdi()
	ctx := context.Background()

	_, err := adi.ReadMem32(ctx, testRam)
	require.NoError(t, err)
	_, err = adi.ReadMem32(ctx, testRam+4)
	require.NoError(t, err)

	ops := probe.operations(0)
	require.Equal(t, 1, countWrites(ops, PortAccess, apWireRegister(ApCsw)))
	require.Equal(t, 2, countWrites(ops, PortAccess, apWireRegister(ApTar)))

	require.NoError(t, adi.WriteMem16(ctx, testRam, 1))
	require.Equal(t, []uint32{cswValue | cswSize32, cswValue | cswSize16},
		writtenValues(probe.operations(0), PortAccess, apWireRegister(ApCsw)))
}

func TestMem32RoundTrip(t *testing.T) {
	for _, address := range []uint32{0, 4, 0x10000000} {
		for _, value := range []uint32{0, 1, 0xffffffff} {
			adi, _ := newTestAdi()
			ctx := context.Background()

			require.NoError(t, adi.WriteMem32(ctx, address, value))

			read, err := adi.ReadMem32(ctx, address)
			require.NoError(t, err)
			require.Equal(t, value, read, "address 0x%08x", address)
		}
	}
}

func TestWriteMem16Lanes(t *testing.T) {
	adi, probe := newTestAdi()
	ctx := context.Background()

	require.NoError(t, adi.WriteMem16(ctx, testRam+2, 0xabcd))
	require.NoError(t, adi.WriteMem16(ctx, testRam, 0x1234))

	drw := writtenValues(probe.operations(0), PortAccess, apWireRegister(ApDrw))
	require.Equal(t, []uint32{0xabcd0000, 0x00001234}, drw)
	require.Equal(t, uint32(0xabcd1234), probe.memory[testRam])

	upper, err := adi.ReadMem16(ctx, testRam+2)
	require.NoError(t, err)
	require.Equal(t, uint16(0xabcd), upper)

	lower, err := adi.ReadMem16(ctx, testRam)
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), lower)
}

func TestMem8Lanes(t *testing.T) {
	adi, probe := newTestAdi()
	ctx := context.Background()

	probe.setMemory(testRam, 0x11223344)

	require.NoError(t, adi.WriteMem8(ctx, testRam+1, 0xaa))
	require.Equal(t, uint32(0x1122aa44), probe.memory[testRam])

	value, err := adi.ReadMem8(ctx, testRam+3)
	require.NoError(t, err)
	require.Equal(t, uint8(0x11), value)
}

func TestWriteBlockChunking(t *testing.T) {
	adi, probe := newTestAdi()
	ctx := context.Background()
	blockSize := adi.proxy.BlockSize()

	values := make([]uint32, blockSize+1)
	for i := range values {
		values[i] = uint32(i) * 0x01010101
	}

	require.NoError(t, adi.WriteBlock(ctx, testRam, values))

	blocks := probe.commands(CmdTransferBlock, 0)
	require.Len(t, blocks, 2)
	require.Equal(t, byte(blockSize), blocks[0][2])
	require.Equal(t, byte(1), blocks[1][2])

	read, err := adi.ReadBlock(ctx, testRam, len(values))
	require.NoError(t, err)
	require.Equal(t, values, read)
	require.Len(t, probe.commands(CmdTransferBlock, 0), 4)
}

func TestBlockCrossesAutoIncrementBoundary(t *testing.T) {
	adi, probe := newTestAdi()
	ctx := context.Background()

	address := uint32(testRam + tarAutoIncrementRange - 8)
	values := []uint32{1, 2, 3, 4}

	require.NoError(t, adi.WriteBlock(ctx, address, values))

	require.Equal(t, []uint32{address, testRam + tarAutoIncrementRange},
		writtenValues(probe.operations(0), PortAccess, apWireRegister(ApTar)))

	for i, v := range values {
		require.Equal(t, v, probe.memory[address+uint32(i*4)])
	}

	read, err := adi.ReadBlock(ctx, address, len(values))
	require.NoError(t, err)
	require.Equal(t, values, read)
}

func TestAdiConnect(t *testing.T) {
	adi, probe := newTestAdi()

	require.NoError(t, adi.Connect(context.Background()))

	ops := probe.operations(0)
	require.Equal(t, fakeOp{port: PortDebug, read: true, register: DpIdr}, ops[0])
	require.Equal(t, []uint32{abortClearAll}, probe.aborts)
	require.Equal(t, []uint32{0}, writtenValues(ops, PortDebug, DpSelect))
	require.Equal(t, []uint32{ctrlStatCSysPwrUpReq | ctrlStatCDbgPwrUpReq}, writtenValues(ops, PortDebug, DpCtrlStat))
}

func TestAdiConnectPowerUpTimeout(t *testing.T) {
	adi, probe := newTestAdi(WithPowerUpTimeout(50 * time.Millisecond))
	probe.noPowerUp = true

	start := time.Now()
	err := adi.Connect(context.Background())

	_, ok := errors.Cause(err).(*TimeoutError)
	require.True(t, ok, "unexpected error %v", err)
	require.True(t, time.Since(start) < 500*time.Millisecond)
}

func TestCacheInvalidatedAfterFailure(t *testing.T) {
	adi, probe := newTestAdi()
	ctx := context.Background()

	_, err := adi.ReadMem32(ctx, testRam)
	require.NoError(t, err)

	probe.transferStatus = []uint8{uint8(ResponseFault)}
	_, err = adi.ReadMem32(ctx, testRam)
	require.Error(t, err)

	mark := probe.requestCount()

	_, err = adi.ReadMem32(ctx, testRam)
	require.NoError(t, err)

	ops := probe.operations(mark)
	require.Equal(t, 1, countWrites(ops, PortDebug, DpSelect))
	require.Equal(t, 1, countWrites(ops, PortAccess, apWireRegister(ApCsw)))
}

func TestReconnectInvalidatesCaches(t *testing.T) {
	adi, probe := newTestAdi()
	ctx := context.Background()

	require.NoError(t, adi.Connect(ctx))

	_, err := adi.ReadMem32(ctx, testRam)
	require.NoError(t, err)

	require.NoError(t, adi.Reconnect(ctx))

	mark := probe.requestCount()

	_, err = adi.ReadMem32(ctx, testRam)
	require.NoError(t, err)

	// SELECT was rewritten to 0 by the connect sequence, CSW is unknown
	require.Equal(t, 1, countWrites(probe.operations(mark), PortAccess, apWireRegister(ApCsw)))
	require.Len(t, probe.commands(CmdDisconnect, 0), 1)
}

func TestReadBlockNegativeCount(t *testing.T) {
	adi, probe := newTestAdi()

	_, err := adi.ReadBlock(context.Background(), testRam, -1)
	require.True(t, errors.IsNotValid(err), "unexpected error %v", err)
	require.Zero(t, probe.requestCount())
}
