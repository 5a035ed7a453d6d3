// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// EFI_TIME encode/decode. 16 bytes, little-endian, packed.

package codec

import "encoding/binary"

// EFITimeSize is the on-wire size of an EFI_TIME structure.
const EFITimeSize = 16

// EFITime is the UEFI timestamp used by time-based authenticated writes.
// Stored in normalized form: Pad1, Nanosecond, TimeZone, Daylight and Pad2
// are always zero.
type EFITime struct {
	Year   uint16
	Month  uint8
	Day    uint8
	Hour   uint8
	Minute uint8
	Second uint8
	// Pad1, Nanosecond, TimeZone, Daylight, Pad2 are always normalized to 0
	// and therefore not represented as fields.
}

// Normalize returns t with every field outside Year..Second forced to its
// zero value. EFITime never carries those fields so Normalize is the
// identity function; it exists so callers decoding a wire EFI_TIME can
// explicitly document that step.
func (t EFITime) Normalize() EFITime {
	return t
}

// Less reports whether t sorts strictly before o in EFI_TIME lexicographic
// order (Year, Month, Day, Hour, Minute, Second).
func (t EFITime) Less(o EFITime) bool {
	switch {
	case t.Year != o.Year:
		return t.Year < o.Year
	case t.Month != o.Month:
		return t.Month < o.Month
	case t.Day != o.Day:
		return t.Day < o.Day
	case t.Hour != o.Hour:
		return t.Hour < o.Hour
	case t.Minute != o.Minute:
		return t.Minute < o.Minute
	default:
		return t.Second < o.Second
	}
}

// Equal reports whether t and o denote the same instant.
func (t EFITime) Equal(o EFITime) bool {
	return t == o
}

// DecodeEFITime reads a normalized EFI_TIME from c.
func DecodeEFITime(c *Cursor) (EFITime, error) {
	b, err := c.Take(EFITimeSize)
	if err != nil {
		return EFITime{}, err
	}
	return EFITime{
		Year:   binary.LittleEndian.Uint16(b[0:2]),
		Month:  b[2],
		Day:    b[3],
		Hour:   b[4],
		Minute: b[5],
		Second: b[6],
		// b[7] Pad1, b[8:12] Nanosecond, b[12:14] TimeZone, b[14] Daylight,
		// b[15] Pad2 are ignored; normalized form defines them as 0.
	}, nil
}

// EncodeEFITime writes t in normalized wire form.
func EncodeEFITime(t EFITime) []byte {
	b := make([]byte, EFITimeSize)
	binary.LittleEndian.PutUint16(b[0:2], t.Year)
	b[2] = t.Month
	b[3] = t.Day
	b[4] = t.Hour
	b[5] = t.Minute
	b[6] = t.Second
	// Remaining bytes (Pad1, Nanosecond, TimeZone, Daylight, Pad2) stay 0.
	return b
}
