// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// UEFI variable attribute bitfield, mirroring lukegb-goefivar's
// efivar.Attributes constant set.

package variable

// Attributes is the 32-bit UEFI variable attribute bitfield (spec.md §3).
type Attributes uint32

const (
	NonVolatile                    Attributes = 0x00000001 // NV
	BootserviceAccess              Attributes = 0x00000002 // BS
	RuntimeAccess                  Attributes = 0x00000004 // RT
	HardwareErrorRecord            Attributes = 0x00000008 // HR
	AuthenticatedWriteAccess       Attributes = 0x00000010 // AW, deprecated/rejected
	TimeBasedAuthenticatedWrite    Attributes = 0x00000020 // TBAW
	AppendWrite                    Attributes = 0x00000040 // APP
	EnhancedAuthenticatedAccess    Attributes = 0x00000080 // EAA
)

// Has reports whether every bit in mask is set in a.
func (a Attributes) Has(mask Attributes) bool {
	return a&mask == mask
}

// String renders a as a compact flag list, e.g. "NV|BS|RT|TBAW".
func (a Attributes) String() string {
	type flag struct {
		bit  Attributes
		name string
	}
	flags := []flag{
		{NonVolatile, "NV"},
		{BootserviceAccess, "BS"},
		{RuntimeAccess, "RT"},
		{HardwareErrorRecord, "HR"},
		{AuthenticatedWriteAccess, "AW"},
		{TimeBasedAuthenticatedWrite, "TBAW"},
		{AppendWrite, "APP"},
		{EnhancedAuthenticatedAccess, "EAA"},
	}
	s := ""
	for _, f := range flags {
		if a.Has(f.bit) {
			if s != "" {
				s += "|"
			}
			s += f.name
		}
	}
	if s == "" {
		return "0"
	}
	return s
}

// WithoutAppend returns a with the APPEND_WRITE bit cleared, used to compare
// a requested attribute set against an existing record's attributes per
// spec.md §3 invariant 1's "narrow exception permitting APPEND".
func (a Attributes) WithoutAppend() Attributes {
	return a &^ AppendWrite
}

// Valid reports the structural attribute rules from spec.md §3/§4.D that
// are independent of any specific variable or existing record:
//   - AW is rejected outright (deprecated).
//   - RT implies BS.
func (a Attributes) Valid() bool {
	if a.Has(AuthenticatedWriteAccess) {
		return false
	}
	if a.Has(RuntimeAccess) && !a.Has(BootserviceAccess) {
		return false
	}
	return true
}
