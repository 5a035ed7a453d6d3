// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package policy

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tescande/varstored/codec"
	"github.com/tescande/varstored/guid"
	"github.com/tescande/varstored/variable"
)

func TestDeriveMode(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(ModeSetup, DeriveMode(false, false, false))
	assert.Equal(ModeUser, DeriveMode(true, false, false))
	assert.Equal(ModeAudit, DeriveMode(true, true, false))
	assert.Equal(ModeDeployed, DeriveMode(true, false, true))

	assert.True(ModeUser.SecureBoot())
	assert.False(ModeUser.SetupMode())
	assert.False(ModeSetup.SecureBoot())
	assert.True(ModeSetup.SetupMode())
}

func TestCheckAttributesRejectsAttributeChange(t *testing.T) {
	assert := assert.New(t)

	existing := variable.Record{Attributes: variable.NonVolatile | variable.BootserviceAccess}
	err := CheckAttributes(AdmitRequest{
		Attrs:      variable.NonVolatile | variable.BootserviceAccess | variable.RuntimeAccess,
		Existing:   existing,
		ExistingOK: true,
	})
	assert.ErrorIs(err, ErrInvalidParameter)
}

func TestCheckAttributesAllowsAppendBitDifference(t *testing.T) {
	assert := assert.New(t)

	existing := variable.Record{Attributes: variable.NonVolatile | variable.BootserviceAccess}
	err := CheckAttributes(AdmitRequest{
		Attrs:      variable.NonVolatile | variable.BootserviceAccess | variable.AppendWrite,
		Existing:   existing,
		ExistingOK: true,
	})
	assert.NoError(err)
}

func TestCheckAttributesRejectsDeprecatedAW(t *testing.T) {
	assert := assert.New(t)
	err := CheckAttributes(AdmitRequest{Attrs: variable.AuthenticatedWriteAccess})
	assert.ErrorIs(err, ErrUnsupported)
}

func TestRequiresAuthenticationForHierarchyVariablesAlways(t *testing.T) {
	assert := assert.New(t)

	pkReq := AdmitRequest{Key: variable.Key{Name: "PK", Vendor: guid.GlobalVariableGUID}, Mode: ModeSetup}
	assert.True(RequiresAuthentication(pkReq))

	pkReq.Mode = ModeUser
	assert.True(RequiresAuthentication(pkReq))

	kekReq := AdmitRequest{Key: variable.Key{Name: "KEK", Vendor: guid.GlobalVariableGUID}, Mode: ModeSetup}
	assert.True(RequiresAuthentication(kekReq))
}

func TestCheckRuntimeWriteRejectsVolatileAfterExitBootServices(t *testing.T) {
	assert := assert.New(t)

	err := CheckRuntimeWrite(AdmitRequest{
		Attrs:        variable.BootserviceAccess,
		RuntimePhase: true,
	}, false)
	assert.ErrorIs(err, ErrWriteProtected)
}

func TestMergeAppendConcatenatesNonSigListVariables(t *testing.T) {
	assert := assert.New(t)

	out, err := MergeAppend("MyVar", uuid.New(), []byte("AB"), []byte("CD"))
	assert.NoError(err)
	assert.Equal([]byte("ABCD"), out)
}

func TestMergeAppendDeduplicatesSignatureLists(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	owner := uuid.New()
	base, err := codec.EncodeSignatureList(codec.SignatureList{
		Type:       guid.EFICertX509GUID,
		Signatures: []codec.SignatureEntry{{Owner: owner, Data: []byte("certA")}},
	})
	require.NoError(err)
	add, err := codec.EncodeSignatureList(codec.SignatureList{
		Type: guid.EFICertX509GUID,
		Signatures: []codec.SignatureEntry{
			{Owner: owner, Data: []byte("certA")},
			{Owner: owner, Data: []byte("certB")},
		},
	})
	require.NoError(err)

	merged, err := MergeAppend("db", guid.ImageSecurityDatabaseGUID, base, add)
	require.NoError(err)

	lists, err := codec.DecodeSignatureLists(codec.NewCursor(merged))
	require.NoError(err)
	require.Len(lists, 1)
	assert.Len(lists[0].Signatures, 2)
}
