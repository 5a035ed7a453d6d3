// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// UEFI vendor GUID identities for the Secure Boot hierarchy and other
// well-known namespaces.

package guid

import "github.com/google/uuid"

// GUID is a 16-byte UEFI vendor GUID.
type GUID = uuid.UUID

// Nil is the zero GUID.
var Nil = uuid.Nil

// MustParse panics if s is not a valid GUID string. Used only for the
// package-level well-known GUID table below.
func MustParse(s string) GUID {
	return uuid.MustParse(s)
}

var (
	// GlobalVariableGUID is EFI_GLOBAL_VARIABLE, the namespace for PK,
	// SetupMode, AuditMode, DeployedMode and SecureBoot.
	GlobalVariableGUID = MustParse("8be4df61-93ca-11d2-aa0d-00e098032b8c")

	// ImageSecurityDatabaseGUID is EFI_IMAGE_SECURITY_DATABASE_GUID, the
	// namespace for db, dbx, dbt and dbr.
	ImageSecurityDatabaseGUID = MustParse("d719b2cb-3d3a-4596-a3bc-dad00e67656f")

	// VendorGUID is the vendor GUID used to sign PK: a fixed
	// implementation-chosen identity distinct from the Global namespace
	// GUID.
	VendorGUID = MustParse("77fa9abd-0359-4d32-bd60-28f4e78f784c")

	// MicrosoftVendorGUID is the common Microsoft vendor GUID used to sign
	// KEK, db and dbx build-time descriptors.
	MicrosoftVendorGUID = MustParse("77fa9abd-0359-4d32-bd60-28f4e78f784b")

	// EFICertX509GUID / EFICertSHA256GUID identify EFI_SIGNATURE_LIST entry
	// types recognized by the codec.
	EFICertX509GUID   = MustParse("a5c059a1-94e4-4aa4-87b5-ab155c2bf072")
	EFICertSHA256GUID = MustParse("c1c41626-504c-4092-aca9-41f936934328")

	// EFICertTypePKCS7GUID identifies the PKCS#7 payload inside a
	// WIN_CERTIFICATE_UEFI_GUID.
	EFICertTypePKCS7GUID = MustParse("4aafd29d-68df-49ee-8aa9-347d375665a7")
)

// Hierarchy names the fixed Secure Boot variable identities, each bound to
// its namespace GUID.
type Hierarchy int

const (
	NotHierarchy Hierarchy = iota
	HierarchyPK
	HierarchyKEK
	HierarchyDB
	HierarchyDBX
	HierarchyDBT
	HierarchyDBR
)

// Classify reports which (if any) Secure Boot hierarchy identity a
// (name, vendor GUID) pair matches.
func Classify(name string, vendor GUID) Hierarchy {
	switch vendor {
	case GlobalVariableGUID:
		switch name {
		case "PK":
			return HierarchyPK
		case "KEK":
			return HierarchyKEK
		}
	case ImageSecurityDatabaseGUID:
		switch name {
		case "db":
			return HierarchyDB
		case "dbx":
			return HierarchyDBX
		case "dbt":
			return HierarchyDBT
		case "dbr":
			return HierarchyDBR
		}
	}
	return NotHierarchy
}
