// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/google/gousb"
)

func idExists(slice []gousb.ID, item gousb.ID) bool {
	for _, element := range slice {
		if element == item {
			return true
		}
	}

	return false
}

func hexDump(buffer []byte) string {
	return hex.EncodeToString(buffer)
}

// WordsToBytes flattens words into their little endian byte representation.
func WordsToBytes(words []uint32) []byte {
	buffer := make([]byte, len(words)*4)

	for i, w := range words {
		binary.LittleEndian.PutUint32(buffer[i*4:], w)
	}

	return buffer
}

// BytesToWords packs a byte slice into little endian words, the last word is zero padded.
func BytesToWords(buffer []byte) []uint32 {
	words := make([]uint32, (len(buffer)+3)/4)

	for i := range buffer {
		words[i/4] |= uint32(buffer[i]) << (8 * uint(i%4))
	}

	return words
}
