// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Secure Boot mode state machine (spec.md §4.D). The mode is derived, not
// stored: DeriveMode is a pure function of PK presence and the two control
// booleans, matching the teacher's ataMinorVersions table-driven lookup
// style but over a 3-input truth table instead of a single key.

package policy

// Mode is one of the four Secure Boot lifecycle phases (spec.md §4.D).
type Mode int

const (
	ModeSetup Mode = iota
	ModeUser
	ModeAudit
	ModeDeployed
)

func (m Mode) String() string {
	switch m {
	case ModeSetup:
		return "Setup"
	case ModeUser:
		return "User"
	case ModeAudit:
		return "Audit"
	case ModeDeployed:
		return "Deployed"
	default:
		return "Unknown"
	}
}

// DeriveMode computes the Secure Boot mode per spec.md §4.D's table.
func DeriveMode(pkPresent, auditMode, deployedMode bool) Mode {
	if !pkPresent {
		return ModeSetup
	}
	if auditMode {
		return ModeAudit
	}
	if deployedMode {
		return ModeDeployed
	}
	return ModeUser
}

// SecureBoot reports the value the read-only SecureBoot variable should
// expose for m (spec.md §4.D table).
func (m Mode) SecureBoot() bool {
	return m == ModeUser || m == ModeDeployed
}

// SetupMode reports the value the read-only SetupMode variable should
// expose for m (spec.md §4.D table).
func (m Mode) SetupMode() bool {
	return m == ModeSetup || m == ModeAudit
}
