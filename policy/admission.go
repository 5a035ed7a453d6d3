// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// SetVariable admission rules (spec.md §4.D).

package policy

import (
	"errors"
	"fmt"

	"github.com/tescande/varstored/guid"
	"github.com/tescande/varstored/variable"
)

// ErrInvalidParameter / ErrWriteProtected / ErrUnsupported mirror the
// dispatcher-facing UEFI status codes an admission check can produce
// (spec.md §7); the authenticator's own failures are always
// auth.ErrSecurityViolation and are not duplicated here.
var (
	ErrInvalidParameter = errors.New("policy: invalid parameter")
	ErrWriteProtected   = errors.New("policy: write protected")
	ErrUnsupported      = errors.New("policy: unsupported")
)

// AdmitRequest is everything the admission check needs about one prospective
// SetVariable call.
type AdmitRequest struct {
	Key      variable.Key
	Attrs    variable.Attributes
	Data     []byte // empty + !IsAppend means delete
	IsAppend bool

	Existing    variable.Record
	ExistingOK  bool
	Mode        Mode
	RuntimePhase bool // true once ExitBootServices has been observed (spec.md §4.E)
}

// CheckAttributes enforces spec.md §4.D admission rule 1 and §3 invariant 1:
// AW is rejected, RT-without-BS is rejected, and a write's attribute set
// must equal the existing record's (APPEND bit ignored) unless this is the
// variable's first write.
func CheckAttributes(req AdmitRequest) error {
	if req.Attrs.Has(variable.AuthenticatedWriteAccess) {
		return fmt.Errorf("%w: AUTHENTICATED_WRITE_ACCESS is deprecated", ErrUnsupported)
	}
	if !req.Attrs.Valid() {
		return fmt.Errorf("%w: RUNTIME_ACCESS without BOOTSERVICE_ACCESS", ErrInvalidParameter)
	}
	if req.ExistingOK && req.Existing.Attributes.WithoutAppend() != req.Attrs.WithoutAppend() {
		return fmt.Errorf("%w: attributes differ from existing record", ErrInvalidParameter)
	}
	return nil
}

// RequiresAuthentication reports whether req must carry a verified
// EFI_VARIABLE_AUTHENTICATION_2 envelope, per spec.md §4.C/§4.D:
//   - a hierarchy variable always requires one, including PK in Setup
//     mode — there the envelope is still present and parsed, but is
//     accepted self-signed rather than checked against an existing root
//     (spec.md §8 scenario 1: "write PK with a valid self-signed auth
//     envelope").
//   - any other TBAW variable requires it unconditionally.
func RequiresAuthentication(req AdmitRequest) bool {
	h := guid.Classify(req.Key.Name, req.Key.Vendor)
	if h != guid.NotHierarchy {
		return true
	}
	return req.Attrs.Has(variable.TimeBasedAuthenticatedWrite)
}

// CheckRuntimeWrite enforces spec.md §4.D rule 4 / §4.E's boot-services-exit
// transition: once in runtime phase, a write of a non-NV variable is
// rejected (WRITE_PROTECTED), and an NV write proceeds only if it would not
// exceed the remaining quota (the store itself still re-checks the exact
// quota arithmetic; this is the WRITE_PROTECTED-vs-OUT_OF_RESOURCES
// precedence rule).
func CheckRuntimeWrite(req AdmitRequest, quotaExhausted bool) error {
	if !req.RuntimePhase {
		return nil
	}
	if !req.Attrs.Has(variable.NonVolatile) {
		return fmt.Errorf("%w: volatile write rejected after ExitBootServices", ErrWriteProtected)
	}
	if quotaExhausted {
		return fmt.Errorf("%w: quota exhausted", variable.ErrOutOfResources)
	}
	return nil
}

// IsDelete reports whether req denotes a deletion: empty data and not an
// append (spec.md §3 "Lifecycle").
func (req AdmitRequest) IsDelete() bool {
	return len(req.Data) == 0 && !req.IsAppend
}
