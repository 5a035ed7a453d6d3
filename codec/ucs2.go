// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// UCS-2 <-> Go string framing, used wherever a UEFI variable name crosses
// the byte boundary: the dispatcher's command buffer and the persistence
// adapter's snapshot format both frame names this way (spec.md §3, §4.E).

package codec

import "encoding/binary"

// DecodeUCS2 decodes a little-endian UCS-2 byte sequence with no
// terminator (spec.md §3: "no terminator in storage") into a Go string.
func DecodeUCS2(b []byte) string {
	runes := make([]rune, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		runes = append(runes, rune(binary.LittleEndian.Uint16(b[i:i+2])))
	}
	return string(runes)
}

// EncodeUCS2 encodes s as little-endian UCS-2 code units, the inverse of
// DecodeUCS2.
func EncodeUCS2(s string) []byte {
	runes := []rune(s)
	out := make([]byte, 2*len(runes))
	for i, r := range runes {
		binary.LittleEndian.PutUint16(out[2*i:2*i+2], uint16(r))
	}
	return out
}
