// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"

	"github.com/tescande/varstored/codec"
)

// selfSignedCert generates a throwaway self-signed certificate and its
// private key, for exercising the authenticator without depending on any
// externally generated fixture.
func selfSignedCert(t *testing.T, cn string) (*x509.Certificate, *rsa.PrivateKey) {
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

func signEnvelope(t *testing.T, cert *x509.Certificate, key *rsa.PrivateKey, ts codec.EFITime, msg []byte) []byte {
	t.Helper()
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
			CertType:        uuidFromGUID(),
			CertData:        der,
		},
	}
	return codec.EncodeVariableAuthentication2(env)
}

func uuidFromGUID() uuid.UUID {
	return uuid.MustParse("4aafd29d-68df-49ee-8aa9-347d375665a7")
}

func TestVerifyAcceptsValidSelfSignedPK(t *testing.T) {
	require := require.New(t)

	cert, key := selfSignedCert(t, "PK")
	ts := codec.EFITime{Year: 2023, Month: 1, Day: 1}
	name := []byte{'P', 0, 'K', 0}
	vendor := uuid.New()
	payload := []byte("signature-list-bytes")

	msg := codec.SignedMessage(name, vendor, 0x27, ts, payload)
	envWire := signEnvelope(t, cert, key, ts, msg)
	buf := append(envWire, payload...)

	res, err := Verify(Request{
		NameUCS2: name,
		Vendor:   vendor,
		Attrs:    0x27,
		Buffer:   buf,
		Roots:    TrustRoots{Certs: []*x509.Certificate{cert}},
	})
	require.NoError(err)
	require.Equal(payload, res.Payload)
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	require := require.New(t)

	cert, key := selfSignedCert(t, "KEK")
	other, _ := selfSignedCert(t, "NotTrusted")
	ts := codec.EFITime{Year: 2023}
	name := []byte{'K', 0, 'E', 0, 'K', 0}
	vendor := uuid.New()
	payload := []byte("kek-list")

	msg := codec.SignedMessage(name, vendor, 0x27, ts, payload)
	envWire := signEnvelope(t, cert, key, ts, msg)
	buf := append(envWire, payload...)

	_, err := Verify(Request{
		NameUCS2: name,
		Vendor:   vendor,
		Attrs:    0x27,
		Buffer:   buf,
		Roots:    TrustRoots{Certs: []*x509.Certificate{other}},
	})
	require.ErrorIs(err, ErrSecurityViolation)
}

func TestVerifyRejectsReplay(t *testing.T) {
	require := require.New(t)

	cert, key := selfSignedCert(t, "PK")
	ts := codec.EFITime{Year: 2023, Month: 1, Day: 1}
	name := []byte{'P', 0, 'K', 0}
	vendor := uuid.New()
	payload := []byte("payload")

	msg := codec.SignedMessage(name, vendor, 0x27, ts, payload)
	envWire := signEnvelope(t, cert, key, ts, msg)
	buf := append(envWire, payload...)

	roots := TrustRoots{Certs: []*x509.Certificate{cert}}

	_, err := Verify(Request{
		NameUCS2: name, Vendor: vendor, Attrs: 0x27, Buffer: buf, Roots: roots,
		ExistingHasTimestamp: true, ExistingTimestamp: ts,
	})
	require.ErrorIs(err, ErrSecurityViolation)
}

func TestVerifyAllowsAppendAtEqualTimestamp(t *testing.T) {
	require := require.New(t)

	cert, key := selfSignedCert(t, "db")
	ts := codec.EFITime{Year: 2023, Month: 1, Day: 1}
	name := []byte{'d', 0, 'b', 0}
	vendor := uuid.New()
	payload := []byte("payload")

	msg := codec.SignedMessage(name, vendor, 0x27, ts, payload)
	envWire := signEnvelope(t, cert, key, ts, msg)
	buf := append(envWire, payload...)

	_, err := Verify(Request{
		NameUCS2: name, Vendor: vendor, Attrs: 0x27, Buffer: buf,
		Roots:                TrustRoots{Certs: []*x509.Certificate{cert}},
		ExistingHasTimestamp: true, ExistingTimestamp: ts, IsAppend: true,
	})
	require.NoError(err)
}

func TestVerifyRejectsDecreasingTimestamp(t *testing.T) {
	require := require.New(t)

	cert, key := selfSignedCert(t, "db")
	older := codec.EFITime{Year: 2022}
	newer := codec.EFITime{Year: 2023}
	name := []byte{'d', 0, 'b', 0}
	vendor := uuid.New()
	payload := []byte("payload")

	msg := codec.SignedMessage(name, vendor, 0x27, older, payload)
	envWire := signEnvelope(t, cert, key, older, msg)
	buf := append(envWire, payload...)

	_, err := Verify(Request{
		NameUCS2: name, Vendor: vendor, Attrs: 0x27, Buffer: buf,
		Roots:                TrustRoots{Certs: []*x509.Certificate{cert}},
		ExistingHasTimestamp: true, ExistingTimestamp: newer,
	})
	require.ErrorIs(err, ErrSecurityViolation)
}
