// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package dispatch

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"

	"github.com/tescande/varstored/codec"
	"github.com/tescande/varstored/guid"
	"github.com/tescande/varstored/variable"
)

func genCert(t *testing.T, cn string) (*x509.Certificate, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, key
}

// authBuffer builds the SetVariable buffer for an authenticated write of
// payload to (name, vendor, attrs) at timestamp ts, signed by (cert, key).
func authBuffer(t *testing.T, name string, vendor guid.GUID, attrs variable.Attributes, ts codec.EFITime, payload []byte, cert *x509.Certificate, key *rsa.PrivateKey) []byte {
	t.Helper()
	nameUCS2 := codec.EncodeUCS2(name)
	msg := codec.SignedMessage(nameUCS2, vendor, uint32(attrs), ts, payload)

	sd, err := pkcs7.NewSignedData(msg)
	require.NoError(t, err)
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	require.NoError(t, sd.AddSigner(cert, key, pkcs7.SignerInfoConfig{}))
	sd.Detach()
	der, err := sd.Finish()
	require.NoError(t, err)

	env := codec.VariableAuthentication2{
		TimeStamp: ts,
		AuthInfo: codec.AuthInfo{
			Revision:        codec.WinCertRevision,
			CertificateType: codec.WinCertTypeEFIGUID,
			CertType:        guid.EFICertTypePKCS7GUID,
			CertData:        der,
		},
	}
	return append(codec.EncodeVariableAuthentication2(env), payload...)
}

// sigListOf builds a single-list, single-X509-entry EFI_SIGNATURE_LIST
// payload wrapping cert's raw DER, owned by owner.
func sigListOf(t *testing.T, owner guid.GUID, cert *x509.Certificate) []byte {
	t.Helper()
	out, err := codec.EncodeSignatureList(codec.SignatureList{
		Type: guid.EFICertX509GUID,
		Signatures: []codec.SignatureEntry{
			{Owner: owner, Data: cert.Raw},
		},
	})
	require.NoError(t, err)
	return out
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(variable.New(0, 0), nil)
	require.NoError(t, err)
	return e
}

const hierarchyAttrs = variable.NonVolatile | variable.BootserviceAccess | variable.RuntimeAccess | variable.TimeBasedAuthenticatedWrite

func TestSetupToUserViaPKInstall(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	e := newTestEngine(t)
	pkCert, pkKey := genCert(t, "PK")
	ts := codec.EFITime{Year: 2024, Month: 1, Day: 1}
	payload := sigListOf(t, guid.VendorGUID, pkCert)

	buf := authBuffer(t, "PK", guid.GlobalVariableGUID, hierarchyAttrs, ts, payload, pkCert, pkKey)
	status := e.SetVariable("PK", guid.GlobalVariableGUID, hierarchyAttrs, buf)
	require.Equal(StatusSuccess, status)

	mode := e.currentMode()
	assert.True(mode.SecureBoot())
	assert.False(mode.SetupMode())

	_, data, st := e.GetVariable("PK", guid.GlobalVariableGUID)
	require.Equal(StatusSuccess, st)
	assert.Equal(payload, data)
}

func TestReplayRejected(t *testing.T) {
	require := require.New(t)

	e := newTestEngine(t)
	pkCert, pkKey := genCert(t, "PK")
	ts := codec.EFITime{Year: 2024, Month: 1, Day: 1}
	pkPayload := sigListOf(t, guid.VendorGUID, pkCert)
	pkBuf := authBuffer(t, "PK", guid.GlobalVariableGUID, hierarchyAttrs, ts, pkPayload, pkCert, pkKey)
	require.Equal(StatusSuccess, e.SetVariable("PK", guid.GlobalVariableGUID, hierarchyAttrs, pkBuf))

	kekCert, _ := genCert(t, "KEK")
	kekPayload := sigListOf(t, guid.MicrosoftVendorGUID, kekCert)
	kekTS := codec.EFITime{Year: 2024, Month: 2, Day: 1}
	kekBuf := authBuffer(t, "KEK", guid.GlobalVariableGUID, hierarchyAttrs, kekTS, kekPayload, pkCert, pkKey)

	require.Equal(StatusSuccess, e.SetVariable("KEK", guid.GlobalVariableGUID, hierarchyAttrs, kekBuf))
	// Identical envelope replayed: same timestamp must be rejected.
	require.Equal(StatusSecurityViolation, e.SetVariable("KEK", guid.GlobalVariableGUID, hierarchyAttrs, kekBuf))
}

func TestWrongSignerRejected(t *testing.T) {
	require := require.New(t)

	e := newTestEngine(t)
	pkCert, pkKey := genCert(t, "PK")
	ts := codec.EFITime{Year: 2024, Month: 1, Day: 1}
	pkPayload := sigListOf(t, guid.VendorGUID, pkCert)
	pkBuf := authBuffer(t, "PK", guid.GlobalVariableGUID, hierarchyAttrs, ts, pkPayload, pkCert, pkKey)
	require.Equal(StatusSuccess, e.SetVariable("PK", guid.GlobalVariableGUID, hierarchyAttrs, pkBuf))

	impostorCert, impostorKey := genCert(t, "NotPK")
	kekPayload := sigListOf(t, guid.MicrosoftVendorGUID, impostorCert)
	kekTS := codec.EFITime{Year: 2024, Month: 2, Day: 1}
	kekBuf := authBuffer(t, "KEK", guid.GlobalVariableGUID, hierarchyAttrs, kekTS, kekPayload, impostorCert, impostorKey)

	require.Equal(StatusSecurityViolation, e.SetVariable("KEK", guid.GlobalVariableGUID, hierarchyAttrs, kekBuf))
}

func TestAppendMergesSignatureLists(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	e := newTestEngine(t)
	pkCert, pkKey := genCert(t, "PK")
	ts := codec.EFITime{Year: 2024, Month: 1, Day: 1}
	pkPayload := sigListOf(t, guid.VendorGUID, pkCert)
	pkBuf := authBuffer(t, "PK", guid.GlobalVariableGUID, hierarchyAttrs, ts, pkPayload, pkCert, pkKey)
	require.Equal(StatusSuccess, e.SetVariable("PK", guid.GlobalVariableGUID, hierarchyAttrs, pkBuf))

	certA, _ := genCert(t, "certA")
	certB, _ := genCert(t, "certB")

	dbTS := codec.EFITime{Year: 2024, Month: 2, Day: 1}
	l1 := sigListOf(t, guid.MicrosoftVendorGUID, certA)
	dbBuf := authBuffer(t, "db", guid.ImageSecurityDatabaseGUID, hierarchyAttrs, dbTS, l1, pkCert, pkKey)
	require.Equal(StatusSuccess, e.SetVariable("db", guid.ImageSecurityDatabaseGUID, hierarchyAttrs, dbBuf))

	l2, err := codec.EncodeSignatureList(codec.SignatureList{
		Type: guid.EFICertX509GUID,
		Signatures: []codec.SignatureEntry{
			{Owner: guid.MicrosoftVendorGUID, Data: certA.Raw},
			{Owner: guid.MicrosoftVendorGUID, Data: certB.Raw},
		},
	})
	require.NoError(err)

	appendAttrs := hierarchyAttrs | variable.AppendWrite
	appendTS := codec.EFITime{Year: 2024, Month: 2, Day: 1} // equal timestamp: allowed for APPEND
	appendBuf := authBuffer(t, "db", guid.ImageSecurityDatabaseGUID, appendAttrs, appendTS, l2, pkCert, pkKey)
	require.Equal(StatusSuccess, e.SetVariable("db", guid.ImageSecurityDatabaseGUID, appendAttrs, appendBuf))

	_, data, st := e.GetVariable("db", guid.ImageSecurityDatabaseGUID)
	require.Equal(StatusSuccess, st)

	lists, err := codec.DecodeSignatureLists(codec.NewCursor(data))
	require.NoError(err)
	require.Len(lists, 1)
	assert.Len(lists[0].Signatures, 2, "certA must appear once, not duplicated")
}

func TestPKDeletionReturnsToSetup(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	e := newTestEngine(t)
	pkCert, pkKey := genCert(t, "PK")
	ts := codec.EFITime{Year: 2024, Month: 1, Day: 1}
	pkPayload := sigListOf(t, guid.VendorGUID, pkCert)
	pkBuf := authBuffer(t, "PK", guid.GlobalVariableGUID, hierarchyAttrs, ts, pkPayload, pkCert, pkKey)
	require.Equal(StatusSuccess, e.SetVariable("PK", guid.GlobalVariableGUID, hierarchyAttrs, pkBuf))
	require.True(e.currentMode().SecureBoot())

	delTS := codec.EFITime{Year: 2024, Month: 3, Day: 1}
	delBuf := authBuffer(t, "PK", guid.GlobalVariableGUID, hierarchyAttrs, delTS, nil, pkCert, pkKey)
	require.Equal(StatusSuccess, e.SetVariable("PK", guid.GlobalVariableGUID, hierarchyAttrs, delBuf))

	mode := e.currentMode()
	assert.False(mode.SecureBoot())
	assert.True(mode.SetupMode())

	_, _, st := e.GetVariable("PK", guid.GlobalVariableGUID)
	assert.Equal(StatusNotFound, st)
}

func TestRuntimeWriteProtectForBootserviceOnlyVariable(t *testing.T) {
	require := require.New(t)

	e := newTestEngine(t)
	e.NotifyExitBootServices()

	attrs := variable.BootserviceAccess // volatile, BS-only (no NV, no RT)
	status := e.SetVariable("Scratch", guid.VendorGUID, attrs, []byte("data"))
	require.Equal(StatusWriteProtected, status)
}

func TestQueryVariableInfoReportsQuota(t *testing.T) {
	assert := assert.New(t)

	e, err := NewEngine(variable.New(1024, 256), nil)
	require.NoError(t, err)

	maxStorage, remaining, maxPerVar := e.QueryVariableInfo(0)
	assert.Equal(1024, maxStorage)
	assert.Equal(1024, remaining)
	assert.Equal(256, maxPerVar)
}

func TestGetNextVariableNameSkipsRuntimeInvisibleEntries(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	e := newTestEngine(t)
	require.NoError(e.Store.Put(variable.Record{
		Key:        variable.Key{Name: "BootOrder", Vendor: guid.GlobalVariableGUID},
		Attributes: variable.NonVolatile | variable.BootserviceAccess, // no RT
		Data:       []byte{1, 2},
	}))
	require.NoError(e.Store.Put(variable.Record{
		Key:        variable.Key{Name: "Timeout", Vendor: guid.GlobalVariableGUID},
		Attributes: variable.NonVolatile | variable.BootserviceAccess | variable.RuntimeAccess,
		Data:       []byte{5},
	}))

	e.NotifyExitBootServices()

	name, vendor, st := e.GetNextVariableName("", uuid.Nil)
	require.Equal(StatusSuccess, st)
	assert.Equal("Timeout", name)
	assert.Equal(guid.GlobalVariableGUID, vendor)

	_, _, st = e.GetNextVariableName("Timeout", guid.GlobalVariableGUID)
	assert.Equal(StatusNotFound, st)
}
