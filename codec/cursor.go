// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Bounds-checked cursor over a byte slice, replacing the raw pointer
// arithmetic the original engine used to walk concatenated auth
// descriptor / signature / payload buffers.

package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrShortBuffer is returned whenever a descent would read past the end of
// the cursor's remaining slice.
var ErrShortBuffer = errors.New("codec: buffer too short")

// Cursor is a forward-only, bounds-checked reader over a byte slice. Every
// method validates the requested length against what remains before
// advancing.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor wraps buf for sequential, bounds-checked reads.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.off
}

// Offset returns the current read offset.
func (c *Cursor) Offset() int {
	return c.off
}

// Rest returns every byte not yet consumed, without advancing the cursor.
func (c *Cursor) Rest() []byte {
	return c.buf[c.off:]
}

// Take returns the next n bytes and advances the cursor, or ErrShortBuffer
// if fewer than n bytes remain.
func (c *Cursor) Take(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, fmt.Errorf("%w: need %d, have %d at offset %d", ErrShortBuffer, n, c.Remaining(), c.off)
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

// U8 reads a single byte.
func (c *Cursor) U8() (uint8, error) {
	b, err := c.Take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// U16 reads a little-endian uint16.
func (c *Cursor) U16() (uint16, error) {
	b, err := c.Take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// U32 reads a little-endian uint32.
func (c *Cursor) U32() (uint32, error) {
	b, err := c.Take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// I16 reads a little-endian int16.
func (c *Cursor) I16() (int16, error) {
	v, err := c.U16()
	return int16(v), err
}

// GUID reads a 16-byte GUID in UEFI mixed-endian wire form.
func (c *Cursor) GUID() (uuid.UUID, error) {
	b, err := c.Take(16)
	if err != nil {
		return uuid.Nil, err
	}
	return guidFromWire(b), nil
}

// guidFromWire decodes a UEFI GUID: the first three fields are
// little-endian, the trailing 8-byte node/clock-seq is big-endian (byte
// order on the wire), matching the lukegb-goefivar uuidToEFI/efiToUUID
// byte-order split.
func guidFromWire(b []byte) uuid.UUID {
	var u uuid.UUID
	binary.BigEndian.PutUint32(u[0:4], binary.LittleEndian.Uint32(b[0:4]))
	binary.BigEndian.PutUint16(u[4:6], binary.LittleEndian.Uint16(b[4:6]))
	binary.BigEndian.PutUint16(u[6:8], binary.LittleEndian.Uint16(b[6:8]))
	copy(u[8:16], b[8:16])
	return u
}

// PutGUID encodes g into its UEFI wire form (inverse of guidFromWire).
func PutGUID(g uuid.UUID) []byte {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint32(out[0:4], binary.BigEndian.Uint32(g[0:4]))
	binary.LittleEndian.PutUint16(out[4:6], binary.BigEndian.Uint16(g[4:6]))
	binary.LittleEndian.PutUint16(out[6:8], binary.BigEndian.Uint16(g[6:8]))
	copy(out[8:16], g[8:16])
	return out
}
