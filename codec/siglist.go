// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// EFI_SIGNATURE_LIST decode/encode.

package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// sigListHeaderSize is the fixed portion of EFI_SIGNATURE_LIST: GUID(16) +
// 3 x uint32(4).
const sigListHeaderSize = 16 + 4 + 4 + 4

// SignatureEntry is one SignatureOwner-prefixed entry within a signature
// list. Data is the entry payload (e.g. a DER certificate, or a hash) with
// the owner GUID stripped off.
type SignatureEntry struct {
	Owner uuid.UUID
	Data  []byte
}

// SignatureList is one EFI_SIGNATURE_LIST: a uniformly-typed container of
// SignatureEntry values, plus an opaque signature header blob that is
// preserved but never interpreted.
type SignatureList struct {
	Type       uuid.UUID
	Header     []byte
	Signatures []SignatureEntry
}

// sigEntrySize returns the fixed on-wire size (owner GUID + Data) of every
// entry in l, used when re-encoding.
func (l SignatureList) sigEntrySize() (uint32, error) {
	if len(l.Signatures) == 0 {
		return 0, fmt.Errorf("codec: cannot size an empty signature list")
	}
	return uint32(16 + len(l.Signatures[0].Data)), nil
}

// DecodeSignatureLists decodes zero or more consecutive EFI_SIGNATURE_LIST
// structures from c until it is exhausted. Every length field is
// bounds-checked against the containing slice before descent. A
// SignatureType that is recognized but whose SignatureSize disagrees with
// any CertX509/SHA256 requirement is decoded opaquely without error;
// interpretation beyond raw bytes is left to callers that care about a
// given type.
func DecodeSignatureLists(c *Cursor) ([]SignatureList, error) {
	var out []SignatureList
	for c.Remaining() > 0 {
		l, err := decodeOneSignatureList(c)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func decodeOneSignatureList(c *Cursor) (SignatureList, error) {
	start := c.Offset()
	sigType, err := c.GUID()
	if err != nil {
		return SignatureList{}, fmt.Errorf("codec: signature list type: %w", err)
	}
	listSize, err := c.U32()
	if err != nil {
		return SignatureList{}, fmt.Errorf("codec: signature list size: %w", err)
	}
	headerSize, err := c.U32()
	if err != nil {
		return SignatureList{}, fmt.Errorf("codec: signature header size: %w", err)
	}
	sigSize, err := c.U32()
	if err != nil {
		return SignatureList{}, fmt.Errorf("codec: signature entry size: %w", err)
	}

	if listSize < sigListHeaderSize {
		return SignatureList{}, fmt.Errorf("codec: %w: signature list size %d shorter than header", ErrShortBuffer, listSize)
	}
	if uint64(headerSize) > uint64(listSize)-sigListHeaderSize {
		return SignatureList{}, fmt.Errorf("codec: %w: signature header size overruns list", ErrShortBuffer)
	}

	header, err := c.Take(int(headerSize))
	if err != nil {
		return SignatureList{}, fmt.Errorf("codec: signature header: %w", err)
	}

	remainingInList := uint64(listSize) - sigListHeaderSize - uint64(headerSize)
	if sigSize == 0 || remainingInList%uint64(sigSize) != 0 {
		return SignatureList{}, fmt.Errorf("codec: signature list size %d not a multiple of entry size %d", remainingInList, sigSize)
	}
	if sigSize < 16 {
		return SignatureList{}, fmt.Errorf("codec: signature entry size %d smaller than owner GUID", sigSize)
	}
	count := remainingInList / uint64(sigSize)

	l := SignatureList{Type: sigType, Header: append([]byte(nil), header...)}
	for i := uint64(0); i < count; i++ {
		owner, err := c.GUID()
		if err != nil {
			return SignatureList{}, fmt.Errorf("codec: signature owner: %w", err)
		}
		data, err := c.Take(int(sigSize) - 16)
		if err != nil {
			return SignatureList{}, fmt.Errorf("codec: signature data: %w", err)
		}
		l.Signatures = append(l.Signatures, SignatureEntry{Owner: owner, Data: append([]byte(nil), data...)})
	}

	if consumed := c.Offset() - start; consumed != int(listSize) {
		return SignatureList{}, fmt.Errorf("codec: signature list declared %d bytes, consumed %d", listSize, consumed)
	}
	return l, nil
}

// EncodeSignatureLists serializes lists back to wire form, the inverse of
// DecodeSignatureLists.
func EncodeSignatureLists(lists []SignatureList) ([]byte, error) {
	var out []byte
	for _, l := range lists {
		b, err := EncodeSignatureList(l)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// EncodeSignatureList serializes a single EFI_SIGNATURE_LIST.
func EncodeSignatureList(l SignatureList) ([]byte, error) {
	if len(l.Signatures) == 0 {
		// An empty list still has a well-defined header with SignatureSize 0.
		out := make([]byte, sigListHeaderSize+len(l.Header))
		copy(out[0:16], PutGUID(l.Type))
		binary.LittleEndian.PutUint32(out[16:20], uint32(len(out)))
		binary.LittleEndian.PutUint32(out[20:24], uint32(len(l.Header)))
		copy(out[sigListHeaderSize:], l.Header)
		return out, nil
	}

	entrySize, err := l.sigEntrySize()
	if err != nil {
		return nil, err
	}
	for _, s := range l.Signatures {
		if uint32(16+len(s.Data)) != entrySize {
			return nil, fmt.Errorf("codec: signature list entries have mismatched sizes")
		}
	}

	total := sigListHeaderSize + len(l.Header) + len(l.Signatures)*int(entrySize)
	out := make([]byte, total)
	copy(out[0:16], PutGUID(l.Type))
	binary.LittleEndian.PutUint32(out[16:20], uint32(total))
	binary.LittleEndian.PutUint32(out[20:24], uint32(len(l.Header)))
	binary.LittleEndian.PutUint32(out[24:28], entrySize)
	off := sigListHeaderSize
	copy(out[off:], l.Header)
	off += len(l.Header)
	for _, s := range l.Signatures {
		copy(out[off:off+16], PutGUID(s.Owner))
		copy(out[off+16:off+int(entrySize)], s.Data)
		off += int(entrySize)
	}
	return out, nil
}

// SigEntryKey uniquely identifies a signature entry for append-merge
// deduplication by (SignatureType, entry-bytes).
type SigEntryKey struct {
	Type string
	Data string
}

// MergeSignatureLists concatenates base and extra, deduplicating entries by
// (SignatureType, entry-bytes) within each list, preserving base's entries
// first and appending only genuinely new ones from extra. Lists sharing a
// SignatureType across base and extra are merged into a single list rather
// than kept as separate list blocks.
func MergeSignatureLists(base, extra []SignatureList) []SignatureList {
	merged := make([]SignatureList, len(base))
	copy(merged, base)
	byType := make(map[uuid.UUID]int, len(merged))
	for i, l := range merged {
		byType[l.Type] = i
	}
	seen := make(map[uuid.UUID]map[string]struct{})
	for i, l := range merged {
		s := make(map[string]struct{}, len(l.Signatures))
		for _, e := range l.Signatures {
			s[string(e.Owner[:])+string(e.Data)] = struct{}{}
		}
		seen[merged[i].Type] = s
	}

	for _, l := range extra {
		idx, ok := byType[l.Type]
		if !ok {
			nl := SignatureList{Type: l.Type, Header: l.Header}
			s := make(map[string]struct{})
			for _, e := range l.Signatures {
				key := string(e.Owner[:]) + string(e.Data)
				if _, dup := s[key]; dup {
					continue
				}
				s[key] = struct{}{}
				nl.Signatures = append(nl.Signatures, e)
			}
			merged = append(merged, nl)
			byType[l.Type] = len(merged) - 1
			seen[l.Type] = s
			continue
		}
		s := seen[l.Type]
		for _, e := range l.Signatures {
			key := string(e.Owner[:]) + string(e.Data)
			if _, dup := s[key]; dup {
				continue
			}
			s[key] = struct{}{}
			merged[idx].Signatures = append(merged[idx].Signatures, e)
		}
	}
	return merged
}
