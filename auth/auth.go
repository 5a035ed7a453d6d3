// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// EFI_VARIABLE_AUTHENTICATION_2 verification (spec.md §4.C). Grounded on
// the teacher's scsi/sgio.go validate-then-execute shape: parse, check,
// and only then report success — never a partial result.

package auth

import (
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"

	"go.mozilla.org/pkcs7"

	"github.com/tescande/varstored/codec"
	"github.com/tescande/varstored/guid"
)

// oidSHA256 is the digest algorithm OID spec.md §4.C step 4 mandates: "The
// digest algorithm inside PKCS7 must be SHA-256; otherwise
// SECURITY_VIOLATION."
var oidSHA256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}

// ErrSecurityViolation is returned for every verification failure: bad
// descriptor, wrong signer, wrong digest algorithm, or non-increasing
// timestamp (spec.md §4.C step 6 / §7).
var ErrSecurityViolation = errors.New("auth: security violation")

// TrustRoots is the candidate certificate set a write may be signed by,
// selected by the caller (policy package) according to spec.md §4.C step
// 3's target-variable-dependent table. A signature that verifies against
// any one member is sufficient (spec.md §4.C step 4: "Accept if ANY root verifies").
type TrustRoots struct {
	Certs []*x509.Certificate
}

// Request bundles everything Verify needs to authenticate one write.
type Request struct {
	// Name (UCS-2, as stored) and Vendor identify the target variable.
	NameUCS2 []byte
	Vendor   guid.GUID
	// Attrs is the attribute value the write is requesting.
	Attrs uint32
	// Buffer is the caller-supplied SetVariable data: the
	// EFI_VARIABLE_AUTHENTICATION_2 envelope immediately followed by the
	// new payload.
	Buffer []byte
	// Roots is the candidate trust root set (spec.md §4.C step 3).
	Roots TrustRoots
	// Existing is the current timestamp of the target record, if any.
	ExistingTimestamp    codec.EFITime
	ExistingHasTimestamp bool
	// IsAppend permits the new timestamp to equal ExistingTimestamp
	// instead of requiring strict increase (spec.md §4.C step 5).
	IsAppend bool
}

// Result is what a successful Verify returns: the unwrapped payload and
// the normalized timestamp to store.
type Result struct {
	Payload   []byte
	Timestamp codec.EFITime
}

// Verify implements spec.md §4.C's six-step algorithm. Any failure is
// reported uniformly as ErrSecurityViolation (wrapped with detail for
// logging), since SECURITY_VIOLATION carries no finer-grained UEFI status.
func Verify(req Request) (Result, error) {
	c := codec.NewCursor(req.Buffer)
	env, err := codec.DecodeVariableAuthentication2(c)
	if err != nil {
		return Result{}, fmt.Errorf("%w: malformed authentication descriptor: %v", ErrSecurityViolation, err)
	}
	payload := append([]byte(nil), c.Rest()...)

	// Step 1: descriptor field checks.
	if env.AuthInfo.CertType != guid.EFICertTypePKCS7GUID {
		return Result{}, fmt.Errorf("%w: CertType is not EFI_CERT_TYPE_PKCS7_GUID", ErrSecurityViolation)
	}
	if env.AuthInfo.Revision != codec.WinCertRevision {
		return Result{}, fmt.Errorf("%w: wRevision %#x != %#x", ErrSecurityViolation, env.AuthInfo.Revision, codec.WinCertRevision)
	}
	if env.AuthInfo.CertificateType != codec.WinCertTypeEFIGUID {
		return Result{}, fmt.Errorf("%w: wCertificateType %#x != WIN_CERT_TYPE_EFI_GUID", ErrSecurityViolation, env.AuthInfo.CertificateType)
	}

	// Step 2: reconstruct the signed message.
	msg := codec.SignedMessage(req.NameUCS2, req.Vendor, req.Attrs, env.TimeStamp, payload)

	// Step 4: verify the detached PKCS#7 signature against any trust root.
	if err := verifyPKCS7(env.AuthInfo.CertData, msg, req.Roots); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrSecurityViolation, err)
	}

	// Step 5: monotonicity.
	if req.ExistingHasTimestamp {
		if req.IsAppend {
			if env.TimeStamp.Less(req.ExistingTimestamp) {
				return Result{}, fmt.Errorf("%w: append timestamp precedes existing", ErrSecurityViolation)
			}
		} else if !req.ExistingTimestamp.Less(env.TimeStamp) {
			return Result{}, fmt.Errorf("%w: timestamp does not strictly increase", ErrSecurityViolation)
		}
	}

	return Result{Payload: payload, Timestamp: env.TimeStamp.Normalize()}, nil
}

// verifyPKCS7 parses the detached PKCS#7 signature in der, attaches msg as
// the detached content, and accepts if the signing certificate's public
// key matches (by DER-encoded SPKI equality, per spec.md §4.C's
// "key-level trust, not cert-identity") any certificate in roots and the
// cryptographic signature verifies. go.mozilla.org/pkcs7's VerifyWithChain
// is used with a pool containing only the matched root — never the system
// root pool — so no certificate outside the caller-supplied set is ever
// implicitly trusted (spec.md §9).
func verifyPKCS7(der []byte, msg []byte, roots TrustRoots) error {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return fmt.Errorf("parsing PKCS#7: %w", err)
	}
	p7.Content = msg

	signer := p7.GetOnlySigner()
	if signer == nil {
		return fmt.Errorf("PKCS#7 envelope carries no signing certificate")
	}
	if len(p7.Signers) != 1 || !p7.Signers[0].DigestAlgorithm.Algorithm.Equal(oidSHA256) {
		return fmt.Errorf("PKCS#7 digest algorithm is not SHA-256")
	}

	var matched *x509.Certificate
	for _, root := range roots.Certs {
		if samePublicKey(signer, root) {
			matched = root
			break
		}
	}
	if matched == nil {
		return fmt.Errorf("signer does not match any trust root")
	}

	pool := x509.NewCertPool()
	pool.AddCert(matched)
	if err := p7.VerifyWithChain(pool); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}

// samePublicKey compares two certificates' public keys by re-encoded SPKI
// bytes, allowing a certificate to be re-issued (different serial,
// validity, etc.) while remaining the same trust anchor.
func samePublicKey(a, b *x509.Certificate) bool {
	a1, err := x509.MarshalPKIXPublicKey(a.PublicKey)
	if err != nil {
		return false
	}
	b1, err := x509.MarshalPKIXPublicKey(b.PublicKey)
	if err != nil {
		return false
	}
	if len(a1) != len(b1) {
		return false
	}
	for i := range a1 {
		if a1[i] != b1[i] {
			return false
		}
	}
	return true
}
