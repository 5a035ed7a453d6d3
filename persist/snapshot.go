// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Snapshot encoding for the persistence adapter (spec.md §4.F). Every NV
// record is concatenated as: name_len(u32), name_bytes, guid(16B),
// attrs(u32), timestamp(16B), data_len(u32), data_bytes.

package persist

import (
	"encoding/binary"
	"fmt"

	"github.com/tescande/varstored/codec"
	"github.com/tescande/varstored/variable"
)

// EncodeSnapshot serializes every non-volatile record in recs to the
// spec.md §4.F wire format. Volatile (non-NV) records are never persisted.
func EncodeSnapshot(recs []variable.Record) []byte {
	var out []byte
	for _, r := range recs {
		if !r.Attributes.Has(variable.NonVolatile) {
			continue
		}
		nameBytes := codec.EncodeUCS2(r.Name)

		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(nameBytes)))
		out = append(out, hdr[:]...)
		out = append(out, nameBytes...)
		out = append(out, codec.PutGUID(r.Vendor)...)

		var attrs [4]byte
		binary.LittleEndian.PutUint32(attrs[:], uint32(r.Attributes))
		out = append(out, attrs[:]...)

		out = append(out, codec.EncodeEFITime(r.Timestamp)...)

		var dlen [4]byte
		binary.LittleEndian.PutUint32(dlen[:], uint32(len(r.Data)))
		out = append(out, dlen[:]...)
		out = append(out, r.Data...)
	}
	return out
}

// DecodeSnapshot is the inverse of EncodeSnapshot.
func DecodeSnapshot(blob []byte) ([]variable.Record, error) {
	c := codec.NewCursor(blob)
	var out []variable.Record
	for c.Remaining() > 0 {
		nameLen, err := c.U32()
		if err != nil {
			return nil, fmt.Errorf("persist: name length: %w", err)
		}
		nameBytes, err := c.Take(int(nameLen))
		if err != nil {
			return nil, fmt.Errorf("persist: name bytes: %w", err)
		}
		vendor, err := c.GUID()
		if err != nil {
			return nil, fmt.Errorf("persist: vendor guid: %w", err)
		}
		attrs, err := c.U32()
		if err != nil {
			return nil, fmt.Errorf("persist: attributes: %w", err)
		}
		ts, err := codec.DecodeEFITime(c)
		if err != nil {
			return nil, fmt.Errorf("persist: timestamp: %w", err)
		}
		dataLen, err := c.U32()
		if err != nil {
			return nil, fmt.Errorf("persist: data length: %w", err)
		}
		data, err := c.Take(int(dataLen))
		if err != nil {
			return nil, fmt.Errorf("persist: data bytes: %w", err)
		}

		r := variable.Record{
			Key:        variable.Key{Name: codec.DecodeUCS2(nameBytes), Vendor: vendor},
			Attributes: variable.Attributes(attrs),
			Data:       append([]byte(nil), data...),
		}
		if r.Attributes.Has(variable.TimeBasedAuthenticatedWrite) {
			r.Timestamp = ts
			r.HasTimestamp = true
		}
		out = append(out, r)
	}
	return out, nil
}
