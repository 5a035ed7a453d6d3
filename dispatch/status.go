// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// UEFI status codes returned in the command buffer (spec.md §7). Modeled
// on scsi.SgioError: a small concrete type implementing error.

package dispatch

import "fmt"

// Status is a UEFI return code (EFI_STATUS is UINTN, 64 bits on the
// virtualized guest's x64 ABI; error codes set the top bit).
type Status uint64

const (
	StatusSuccess           Status = 0
	StatusInvalidParameter  Status = 0x8000000000000002
	StatusNotFound          Status = 0x800000000000000E
	StatusBufferTooSmall    Status = 0x8000000000000005
	StatusOutOfResources    Status = 0x8000000000000009
	StatusWriteProtected    Status = 0x8000000000000008
	StatusSecurityViolation Status = 0x800000000000001A
	StatusUnsupported       Status = 0x8000000000000003
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusInvalidParameter:
		return "INVALID_PARAMETER"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusBufferTooSmall:
		return "BUFFER_TOO_SMALL"
	case StatusOutOfResources:
		return "OUT_OF_RESOURCES"
	case StatusWriteProtected:
		return "WRITE_PROTECTED"
	case StatusSecurityViolation:
		return "SECURITY_VIOLATION"
	case StatusUnsupported:
		return "UNSUPPORTED"
	default:
		return fmt.Sprintf("STATUS(%#x)", uint64(s))
	}
}

// statusError wraps a Status as an error, for callers that want to
// propagate a status through normal Go error handling without losing the
// concrete code.
type statusError struct {
	status Status
	detail string
}

func (e *statusError) Error() string {
	if e.detail == "" {
		return e.status.String()
	}
	return fmt.Sprintf("%s: %s", e.status, e.detail)
}

// StatusErr wraps status with an optional detail string, satisfying error.
func StatusErr(status Status, detail string) error {
	return &statusError{status: status, detail: detail}
}

// StatusOf unwraps err to its Status, defaulting to
// StatusSecurityViolation for any error this package did not itself
// produce (fail closed rather than fail open), matching spec.md §7's
// requirement that every internal error maps to a defined status.
func StatusOf(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	if se, ok := err.(*statusError); ok {
		return se.status
	}
	return mapError(err)
}
