// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"bytes"
	"encoding/binary"

	"github.com/juju/errors"
)

// Buffer assembles request packets
type Buffer struct {
	bytes.Buffer
}

func NewBuffer(initSize int) *Buffer {
	b := &Buffer{}

	b.Grow(initSize)

	return b
}

func newCommandBuffer(cmd Command, payloadSize int) *Buffer {
	b := NewBuffer(opcodeSize + payloadSize)
	b.WriteByte(byte(cmd))

	return b
}

func (buf *Buffer) WriteUint32LE(value uint32) {
	buf.WriteByte(byte(value))
	buf.WriteByte(byte(value >> 8))
	buf.WriteByte(byte(value >> 16))
	buf.WriteByte(byte(value >> 24))
}

func (buf *Buffer) WriteUint16LE(value uint16) {
	buf.WriteByte(byte(value))
	buf.WriteByte(byte(value >> 8))
}

func ensureLength(buf []byte, offset int, size int) error {
	if len(buf) < offset+size {
		return errors.Errorf("response too short: need %d bytes at offset %d, got %d bytes", size, offset, len(buf))
	}

	return nil
}

func readUint16LE(buf []byte, offset int) (uint16, error) {
	if err := ensureLength(buf, offset, 2); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint16(buf[offset:]), nil
}

func readUint32LE(buf []byte, offset int) (uint32, error) {
	if err := ensureLength(buf, offset, 4); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(buf[offset:]), nil
}

// readWordsLE decodes count little endian words starting at offset
func readWordsLE(buf []byte, offset int, count int) ([]uint32, error) {
	if err := ensureLength(buf, offset, count*4); err != nil {
		return nil, err
	}

	words := make([]uint32, count)

	for i := range words {
		words[i] = binary.LittleEndian.Uint32(buf[offset+i*4:])
	}

	return words, nil
}
