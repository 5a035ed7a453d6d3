// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Trust root selection (spec.md §4.C step 3).

package policy

import (
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/tescande/varstored/auth"
	"github.com/tescande/varstored/codec"
	"github.com/tescande/varstored/guid"
	"github.com/tescande/varstored/variable"
)

// ErrNoTrustRoots is returned when a variable requires authentication but
// no candidate root set can be constructed (e.g. KEK write attempted with
// no PK installed).
var ErrNoTrustRoots = errors.New("policy: no trust roots available")

// CertsFromRecord extracts every EFI_CERT_X509_GUID entry from a
// hierarchy record's EFI_SIGNATURE_LIST payload as parsed X.509
// certificates. Non-X.509 entries (e.g. EFI_CERT_SHA256_GUID hashes in
// dbx) are ignored: they are revocation hashes, not signing keys.
func CertsFromRecord(data []byte) ([]*x509.Certificate, error) {
	lists, err := codec.DecodeSignatureLists(codec.NewCursor(data))
	if err != nil {
		return nil, fmt.Errorf("policy: decoding signature lists: %w", err)
	}
	var out []*x509.Certificate
	for _, l := range lists {
		if l.Type != guid.EFICertX509GUID {
			continue
		}
		for _, e := range l.Signatures {
			cert, err := x509.ParseCertificate(e.Data)
			if err != nil {
				continue // opaque/unsupported entry, skip rather than fail the whole list
			}
			out = append(out, cert)
		}
	}
	return out, nil
}

// SelectTrustRoots implements spec.md §4.C step 3's table. pk and kek are
// the current PK/KEK records if present; existingCert is the EAA binding
// recorded on the target variable's previous write, if any.
func SelectTrustRoots(target variable.Key, mode Mode, pk, kek *variable.Record, existingCert []byte) (auth.TrustRoots, error) {
	h := guid.Classify(target.Name, target.Vendor)

	switch h {
	case guid.HierarchyPK:
		if pk == nil {
			if mode == ModeSetup {
				// "any key when SetupMode=1" - the authenticator still
				// requires a self-signed envelope; the caller supplies the
				// embedded signing certificate as its own trust root and
				// auth.Verify checks the signature against it.
				// We model "accept any key" by returning no constraint:
				// the errSelfSigned sentinel signals this case explicitly.
				return auth.TrustRoots{}, errSelfSigned
			}
			return auth.TrustRoots{}, fmt.Errorf("%w: PK write requires an existing PK outside Setup mode", ErrNoTrustRoots)
		}
		certs, err := CertsFromRecord(pk.Data)
		if err != nil {
			return auth.TrustRoots{}, err
		}
		return auth.TrustRoots{Certs: certs}, nil

	case guid.HierarchyKEK:
		if pk == nil {
			return auth.TrustRoots{}, fmt.Errorf("%w: KEK write requires PK", ErrNoTrustRoots)
		}
		certs, err := CertsFromRecord(pk.Data)
		if err != nil {
			return auth.TrustRoots{}, err
		}
		return auth.TrustRoots{Certs: certs}, nil

	case guid.HierarchyDB, guid.HierarchyDBX, guid.HierarchyDBT, guid.HierarchyDBR:
		return dbTrustRoots(pk, kek)

	default:
		// Other TBAW variables: PK or any KEK certificate, unless bound to
		// a specific EAA cert on a prior write.
		if len(existingCert) > 0 {
			cert, err := x509.ParseCertificate(existingCert)
			if err != nil {
				return auth.TrustRoots{}, fmt.Errorf("policy: stored EAA cert: %w", err)
			}
			return auth.TrustRoots{Certs: []*x509.Certificate{cert}}, nil
		}
		return dbTrustRoots(pk, kek)
	}
}

func dbTrustRoots(pk, kek *variable.Record) (auth.TrustRoots, error) {
	var roots auth.TrustRoots
	if pk != nil {
		certs, err := CertsFromRecord(pk.Data)
		if err != nil {
			return auth.TrustRoots{}, err
		}
		roots.Certs = append(roots.Certs, certs...)
	}
	if kek != nil {
		certs, err := CertsFromRecord(kek.Data)
		if err != nil {
			return auth.TrustRoots{}, err
		}
		roots.Certs = append(roots.Certs, certs...)
	}
	if len(roots.Certs) == 0 {
		return auth.TrustRoots{}, fmt.Errorf("%w: neither PK nor KEK installed", ErrNoTrustRoots)
	}
	return roots, nil
}

// errSelfSigned signals the "any key when SetupMode=1" PK-install case:
// SelectTrustRoots cannot name a concrete root (there isn't one yet), so
// the caller verifies the envelope is self-consistent (the embedded
// signing certificate signs its own enclosed content) instead of checking
// against a pre-existing trust anchor.
var errSelfSigned = errors.New("policy: accept self-signed PK in Setup mode")

// IsSelfSignedCase reports whether err is the sentinel SelectTrustRoots
// returns for "PK install in Setup mode, any signer accepted."
func IsSelfSignedCase(err error) bool {
	return errors.Is(err, errSelfSigned)
}
