// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// APPEND_WRITE merge semantics (spec.md §4.D rule 5).

package policy

import (
	"fmt"

	"github.com/tescande/varstored/codec"
	"github.com/tescande/varstored/guid"
)

// IsSignatureListFormat reports whether the named variable's payload is an
// EFI_SIGNATURE_LIST sequence that must be merged at list granularity,
// rather than treated as an opaque blob to concatenate.
func IsSignatureListFormat(name string, vendor guid.GUID) bool {
	return guid.Classify(name, vendor) != guid.NotHierarchy
}

// MergeAppend implements spec.md §4.D rule 5: signature-list variables
// merge at list granularity, deduplicating entries by
// (SignatureType, entry-bytes); every other variable is concatenated.
func MergeAppend(name string, vendor guid.GUID, existing, addition []byte) ([]byte, error) {
	if !IsSignatureListFormat(name, vendor) {
		out := make([]byte, 0, len(existing)+len(addition))
		out = append(out, existing...)
		out = append(out, addition...)
		return out, nil
	}

	baseLists, err := codec.DecodeSignatureLists(codec.NewCursor(existing))
	if err != nil {
		return nil, fmt.Errorf("policy: decoding existing signature lists: %w", err)
	}
	addLists, err := codec.DecodeSignatureLists(codec.NewCursor(addition))
	if err != nil {
		return nil, fmt.Errorf("policy: decoding appended signature lists: %w", err)
	}
	merged := codec.MergeSignatureLists(baseLists, addLists)
	return codec.EncodeSignatureLists(merged)
}
