// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package dispatch

import (
	"errors"

	"github.com/tescande/varstored/auth"
	"github.com/tescande/varstored/policy"
	"github.com/tescande/varstored/variable"
)

// mapError translates an error surfaced by variable/auth/policy into the
// UEFI status spec.md §7 assigns it. Errors this package does not
// recognize fail closed as SECURITY_VIOLATION rather than SUCCESS.
func mapError(err error) Status {
	switch {
	case errors.Is(err, variable.ErrNotFound):
		return StatusNotFound
	case errors.Is(err, variable.ErrOutOfResources):
		return StatusOutOfResources
	case errors.Is(err, policy.ErrInvalidParameter):
		return StatusInvalidParameter
	case errors.Is(err, policy.ErrWriteProtected):
		return StatusWriteProtected
	case errors.Is(err, policy.ErrUnsupported):
		return StatusUnsupported
	case errors.Is(err, auth.ErrSecurityViolation):
		return StatusSecurityViolation
	case errors.Is(err, policy.ErrNoTrustRoots):
		return StatusSecurityViolation
	default:
		return StatusSecurityViolation
	}
}
