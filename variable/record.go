// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package variable

import (
	"github.com/tescande/varstored/codec"
	"github.com/tescande/varstored/guid"
)

// Key uniquely identifies a record by (Name, VendorGuid), per spec.md §3.
type Key struct {
	Name   string // UCS-2 code units decoded to a Go string by the dispatcher
	Vendor guid.GUID
}

// Record is one stored UEFI variable (spec.md §3).
type Record struct {
	Key
	Attributes Attributes
	Data       []byte
	// Timestamp is present iff Attributes has TimeBasedAuthenticatedWrite
	// set; stored normalized (spec.md §3).
	Timestamp    codec.EFITime
	HasTimestamp bool
	// Cert is the DER certificate an EAA variable is bound to; when
	// non-empty, trust-root selection accepts only that certificate's key
	// (spec.md §4.C step 3 "other TBAW variables"). dispatch.Engine's
	// SetVariable never sets it, and the persist snapshot does not carry it.
	Cert []byte
}

// Size is the record's contribution to the storage quota: 2*len(name) +
// len(data), per spec.md §4.B.
func (r Record) Size() int {
	return 2*len(r.Name) + len(r.Data)
}

// Clone returns a deep copy of r so callers (e.g. the persistence adapter
// taking a snapshot) cannot mutate the store's owned buffers, per spec.md
// §3 "Ownership."
func (r Record) Clone() Record {
	out := r
	if r.Data != nil {
		out.Data = append([]byte(nil), r.Data...)
	}
	if r.Cert != nil {
		out.Cert = append([]byte(nil), r.Cert...)
	}
	return out
}
