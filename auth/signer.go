// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

package auth

import (
	"crypto/x509"
	"fmt"

	"go.mozilla.org/pkcs7"
)

// ExtractSigner parses der as a PKCS#7 envelope and returns the embedded
// signing certificate, without verifying anything. It is used only for
// the PK-install-in-Setup-mode case (spec.md §4.C step 3: "any key when
// SetupMode=1"), where the signer's own certificate is accepted as its own
// trust root — by construction, Verify still requires the signature over
// the reconstructed message to check out against that certificate.
func ExtractSigner(der []byte) (*x509.Certificate, error) {
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, fmt.Errorf("parsing PKCS#7: %w", err)
	}
	signer := p7.GetOnlySigner()
	if signer == nil {
		return nil, fmt.Errorf("PKCS#7 envelope carries no signing certificate")
	}
	return signer, nil
}
