// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package godap

import "context"

// Transport moves single packets between host and probe. Every Write is
// followed by exactly one Read before the next Write is issued.
type Transport interface {
	// PacketSize is the maximum number of bytes of one request or response.
	PacketSize() int
	Open(ctx context.Context) error
	Close() error
	// Write sends one request, padding it to the packet size if the medium requires it.
	Write(ctx context.Context, data []byte) error
	// Read blocks until one response packet arrived.
	Read(ctx context.Context) ([]byte, error)
}

const defaultPacketSize = 64
