// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandBuffer(t *testing.T) {
	buf := newCommandBuffer(CmdTransferConfigure, 5)
	buf.WriteByte(0)
	buf.WriteUint16LE(0x1234)
	buf.WriteUint32LE(0xa1b2c3d4)

	require.Equal(t, []byte{0x04, 0x00, 0x34, 0x12, 0xd4, 0xc3, 0xb2, 0xa1}, buf.Bytes())
}

func TestReadLE(t *testing.T) {
	data := []byte{0x05, 0x02, 0x00, 0x01, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}

	v16, err := readUint16LE(data, 1)
	require.NoError(t, err)
	require.Equal(t, uint16(0x0002), v16)

	v32, err := readUint32LE(data, 4)
	require.NoError(t, err)
	require.Equal(t, uint32(0x44332211), v32)

	words, err := readWordsLE(data, 4, 2)
	require.NoError(t, err)
	require.Equal(t, []uint32{0x44332211, 0x88776655}, words)

	_, err = readWordsLE(data, 4, 3)
	require.Error(t, err)

	_, err = readUint32LE(data, 10)
	require.Error(t, err)
}

func TestWordConversion(t *testing.T) {
	words := []uint32{0x04030201, 0x08070605}
	data := WordsToBytes(words)

	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, data)
	require.Equal(t, words, BytesToWords(data))

	// trailing bytes are zero padded
	require.Equal(t, []uint32{0x04030201, 0x00000605}, BytesToWords(data[:6]))
	require.Empty(t, BytesToWords(nil))
}
