// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Secure Boot mode transitions (spec.md §4.D "Transitions").

package policy

import "fmt"

// ControlVariable names the Global-namespace booleans that drive mode
// transitions. SecureBoot and SetupMode are always derived (spec.md §4.D:
// "read-only except via these defined transitions") and are never
// accepted as direct writes.
type ControlVariable int

const (
	NotControlVariable ControlVariable = iota
	ControlSecureBoot
	ControlSetupMode
	ControlAuditMode
	ControlDeployedMode
)

// ClassifyControlVariable maps a Global-namespace variable name to its
// ControlVariable identity, or NotControlVariable.
func ClassifyControlVariable(name string) ControlVariable {
	switch name {
	case "SecureBoot":
		return ControlSecureBoot
	case "SetupMode":
		return ControlSetupMode
	case "AuditMode":
		return ControlAuditMode
	case "DeployedMode":
		return ControlDeployedMode
	default:
		return NotControlVariable
	}
}

// CheckModeTransition validates a direct write of value to the named
// control variable against the current mode, per spec.md §4.D's
// transition table. SecureBoot and SetupMode reject every direct write;
// AuditMode and DeployedMode accept only the one sanctioned transition
// each.
func CheckModeTransition(cv ControlVariable, mode Mode, value bool) error {
	switch cv {
	case ControlSecureBoot, ControlSetupMode:
		return fmt.Errorf("%w: %v is derived, not directly writable", ErrInvalidParameter, cv)
	case ControlAuditMode:
		if value && mode != ModeSetup {
			return fmt.Errorf("%w: AuditMode may only be set from Setup mode", ErrInvalidParameter)
		}
		return nil
	case ControlDeployedMode:
		if value && mode != ModeUser {
			return fmt.Errorf("%w: DeployedMode may only be set from User mode", ErrInvalidParameter)
		}
		if !value {
			// DeployedMode is irreversible by variable write (spec.md §4.D).
			return fmt.Errorf("%w: DeployedMode cannot be cleared by a variable write", ErrInvalidParameter)
		}
		return nil
	default:
		return nil
	}
}

func (cv ControlVariable) String() string {
	switch cv {
	case ControlSecureBoot:
		return "SecureBoot"
	case ControlSetupMode:
		return "SetupMode"
	case ControlAuditMode:
		return "AuditMode"
	case ControlDeployedMode:
		return "DeployedMode"
	default:
		return "none"
	}
}
