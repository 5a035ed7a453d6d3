// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// SMM Communicate command buffer framing (spec.md §4.E, §6). The transport
// shim hands Dispatch a single guest-supplied buffer; Dispatch decodes the
// opcode and arguments, calls the corresponding Engine operation, and
// returns the bytes to write back into the shared MMIO region. This is the
// one place in the codebase that converts between wire bytes and the
// decoded Go values every other package works with.

package dispatch

import (
	"encoding/binary"
	"fmt"

	"github.com/tescande/varstored/codec"
	"github.com/tescande/varstored/guid"
	"github.com/tescande/varstored/variable"
)

// Opcode identifies which UEFI variable service operation a command buffer
// requests (spec.md §2 row E).
type Opcode uint32

const (
	OpGetVariable Opcode = iota + 1
	OpGetNextVariableName
	OpSetVariable
	OpQueryVariableInfo
	OpExitBootServices
)

// commandHeaderSize is sizeof(opcode u32 + status u64 + output-capacity
// u32): the fixed prefix every command and response buffer shares.
const commandHeaderSize = 4 + 8 + 4

// Dispatch decodes buf as a command buffer, executes it against e, and
// returns the response buffer to write back. A malformed buffer (too
// short to even carry a header) is reported as INVALID_PARAMETER rather
// than a parse error, since the guest side is untrusted input, not a
// programming error.
func (e *Engine) Dispatch(buf []byte) []byte {
	c := codec.NewCursor(buf)
	opRaw, err := c.U32()
	if err != nil {
		return encodeHeaderOnly(StatusInvalidParameter, 0)
	}
	// Skip the status field the guest pre-zeroes; the dispatcher is the
	// only writer of it.
	if _, err := c.Take(8); err != nil {
		return encodeHeaderOnly(StatusInvalidParameter, 0)
	}
	outCap, err := c.U32()
	if err != nil {
		return encodeHeaderOnly(StatusInvalidParameter, 0)
	}

	switch Opcode(opRaw) {
	case OpGetVariable:
		return e.dispatchGetVariable(c, outCap)
	case OpGetNextVariableName:
		return e.dispatchGetNextVariableName(c, outCap)
	case OpSetVariable:
		return e.dispatchSetVariable(c)
	case OpQueryVariableInfo:
		return e.dispatchQueryVariableInfo(c)
	case OpExitBootServices:
		e.NotifyExitBootServices()
		return encodeHeaderOnly(StatusSuccess, 0)
	default:
		return encodeHeaderOnly(StatusUnsupported, 0)
	}
}

// decodeNameAndGUID reads the common (name_size u32, name UCS-2 bytes,
// vendor GUID) prefix carried by every per-variable command.
func decodeNameAndGUID(c *codec.Cursor) (string, guid.GUID, error) {
	nameSize, err := c.U32()
	if err != nil {
		return "", guid.Nil, fmt.Errorf("name size: %w", err)
	}
	nameBytes, err := c.Take(int(nameSize))
	if err != nil {
		return "", guid.Nil, fmt.Errorf("name: %w", err)
	}
	vendor, err := c.GUID()
	if err != nil {
		return "", guid.Nil, fmt.Errorf("vendor guid: %w", err)
	}
	return codec.DecodeUCS2(nameBytes), vendor, nil
}

func (e *Engine) dispatchGetVariable(c *codec.Cursor, outCap uint32) []byte {
	name, vendor, err := decodeNameAndGUID(c)
	if err != nil {
		return encodeHeaderOnly(StatusInvalidParameter, 0)
	}
	attrs, data, status := e.GetVariable(name, vendor)
	if status != StatusSuccess {
		return encodeHeaderOnly(status, 0)
	}
	required := uint32(len(data))
	if required > outCap {
		return encodeHeaderOnly(StatusBufferTooSmall, required)
	}
	out := make([]byte, commandHeaderSize+4+len(data))
	putHeader(out, StatusSuccess, required)
	binary.LittleEndian.PutUint32(out[commandHeaderSize:commandHeaderSize+4], uint32(attrs))
	copy(out[commandHeaderSize+4:], data)
	return out
}

func (e *Engine) dispatchGetNextVariableName(c *codec.Cursor, outCap uint32) []byte {
	prevName, prevVendor, err := decodeNameAndGUID(c)
	if err != nil {
		return encodeHeaderOnly(StatusInvalidParameter, 0)
	}
	name, vendor, status := e.GetNextVariableName(prevName, prevVendor)
	if status != StatusSuccess {
		return encodeHeaderOnly(status, 0)
	}
	nameBytes := codec.EncodeUCS2(name)
	required := uint32(4 + len(nameBytes) + 16)
	if required > outCap {
		return encodeHeaderOnly(StatusBufferTooSmall, required)
	}
	out := make([]byte, commandHeaderSize+int(required))
	putHeader(out, StatusSuccess, required)
	body := out[commandHeaderSize:]
	binary.LittleEndian.PutUint32(body[0:4], uint32(len(nameBytes)))
	copy(body[4:4+len(nameBytes)], nameBytes)
	copy(body[4+len(nameBytes):], codec.PutGUID(vendor))
	return out
}

func (e *Engine) dispatchSetVariable(c *codec.Cursor) []byte {
	name, vendor, err := decodeNameAndGUID(c)
	if err != nil {
		return encodeHeaderOnly(StatusInvalidParameter, 0)
	}
	attrsRaw, err := c.U32()
	if err != nil {
		return encodeHeaderOnly(StatusInvalidParameter, 0)
	}
	dataSize, err := c.U32()
	if err != nil {
		return encodeHeaderOnly(StatusInvalidParameter, 0)
	}
	data, err := c.Take(int(dataSize))
	if err != nil {
		return encodeHeaderOnly(StatusInvalidParameter, 0)
	}
	status := e.SetVariable(name, vendor, variable.Attributes(attrsRaw), data)
	return encodeHeaderOnly(status, 0)
}

func (e *Engine) dispatchQueryVariableInfo(c *codec.Cursor) []byte {
	maskRaw, err := c.U32()
	if err != nil {
		return encodeHeaderOnly(StatusInvalidParameter, 0)
	}
	maxStorage, remaining, maxPerVar := e.QueryVariableInfo(variable.Attributes(maskRaw))
	out := make([]byte, commandHeaderSize+24)
	putHeader(out, StatusSuccess, 24)
	body := out[commandHeaderSize:]
	binary.LittleEndian.PutUint64(body[0:8], uint64(maxStorage))
	binary.LittleEndian.PutUint64(body[8:16], uint64(remaining))
	binary.LittleEndian.PutUint64(body[16:24], uint64(maxPerVar))
	return out
}

// putHeader writes the response header (status, required-or-produced size)
// into the first bytes of out.
func putHeader(out []byte, status Status, size uint32) {
	binary.LittleEndian.PutUint32(out[0:4], 0) // opcode echo unused by callers
	binary.LittleEndian.PutUint64(out[4:12], uint64(status))
	binary.LittleEndian.PutUint32(out[12:16], size)
}

func encodeHeaderOnly(status Status, size uint32) []byte {
	out := make([]byte, commandHeaderSize)
	putHeader(out, status, size)
	return out
}
