// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// Build-time EFI_VARIABLE_AUTHENTICATION_2 descriptor generator (spec.md
// §6's companion tool). Reads a signing key/cert, a payload, and optional
// certs to embed as an EFI_SIGNATURE_LIST, and emits the on-wire buffer a
// SetVariable call would carry, ready to be baked into a guest image.
package main

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"go.mozilla.org/pkcs7"

	"github.com/tescande/varstored/codec"
	"github.com/tescande/varstored/guid"
)

func loadKeyCert(keyPath, certPath string) (*rsa.PrivateKey, *x509.Certificate, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read signing key: %w", err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, nil, fmt.Errorf("signing key is not PEM-encoded")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		k, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, nil, fmt.Errorf("parse signing key: %w", err)
		}
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, nil, fmt.Errorf("signing key is not RSA")
		}
		key = rk
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read signing cert: %w", err)
	}
	cblock, _ := pem.Decode(certPEM)
	if cblock == nil {
		return nil, nil, fmt.Errorf("signing cert is not PEM-encoded")
	}
	cert, err := x509.ParseCertificate(cblock.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse signing cert: %w", err)
	}
	return key, cert, nil
}

func loadTrustedCerts(paths []string) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read trusted cert %s: %w", p, err)
		}
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("trusted cert %s is not PEM-encoded", p)
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse trusted cert %s: %w", p, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// buildSignatureListPayload wraps certs as an EFI_SIGNATURE_LIST of type
// EFICertX509GUID, one list per certificate (each X.509 DER is a different
// length, so each gets its own SignatureSize). Entries for PK are owned by
// guid.VendorGUID; entries for every other variable by
// guid.MicrosoftVendorGUID.
func buildSignatureListPayload(name string, certs []*x509.Certificate) ([]byte, error) {
	owner := guid.MicrosoftVendorGUID
	if name == "PK" {
		owner = guid.VendorGUID
	}
	var lists []codec.SignatureList
	for _, c := range certs {
		lists = append(lists, codec.SignatureList{
			Type: guid.EFICertX509GUID,
			Signatures: []codec.SignatureEntry{
				{Owner: owner, Data: c.Raw},
			},
		})
	}
	return codec.EncodeSignatureLists(lists)
}

func nowEFITime() codec.EFITime {
	t := time.Now().UTC()
	return codec.EFITime{
		Year:   uint16(t.Year()),
		Month:  uint8(t.Month()),
		Day:    uint8(t.Day()),
		Hour:   uint8(t.Hour()),
		Minute: uint8(t.Minute()),
		Second: uint8(t.Second()),
	}
}

func main() {
	var (
		keyPath    = flag.String("key", "", "PEM-encoded RSA private key to sign with")
		certPath   = flag.String("cert", "", "PEM-encoded certificate matching -key")
		name       = flag.String("name", "", "UEFI variable name, e.g. PK, KEK, db")
		vendorStr  = flag.String("vendor", "", "vendor GUID for the target variable (defaults to the well-known namespace for PK/KEK/db/dbx)")
		payloadIn  = flag.String("payload", "", "file containing the raw payload (for PK/KEK/db/dbx, normally an EFI_SIGNATURE_LIST)")
		trustedCSV = flag.String("trusted-certs", "", "comma-separated PEM cert files to embed as the payload's EFI_SIGNATURE_LIST, in lieu of -payload")
		out        = flag.String("out", "", "output file for the encoded SetVariable buffer")
	)
	flag.Parse()

	if *keyPath == "" || *certPath == "" || *name == "" || *out == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	key, signerCert, err := loadKeyCert(*keyPath, *certPath)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	var payload []byte
	switch {
	case *payloadIn != "":
		payload, err = os.ReadFile(*payloadIn)
	case *trustedCSV != "":
		var certs []*x509.Certificate
		certs, err = loadTrustedCerts(strings.Split(*trustedCSV, ","))
		if err == nil {
			payload, err = buildSignatureListPayload(*name, certs)
		}
	default:
		err = fmt.Errorf("one of -payload or -trusted-certs is required")
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	vendorGUID := guid.GlobalVariableGUID
	switch *name {
	case "db", "dbx", "dbt", "dbr":
		vendorGUID = guid.ImageSecurityDatabaseGUID
	}
	if *vendorStr != "" {
		vendorGUID, err = parseGUID(*vendorStr)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	}

	attrs := uint32(0x27) // NV | BS | RT | TBAW, the hierarchy variable default
	ts := nowEFITime()
	nameUCS2 := codec.EncodeUCS2(*name)
	msg := codec.SignedMessage(nameUCS2, vendorGUID, attrs, ts, payload)

	signedData, err := pkcs7.NewSignedData(msg)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	signedData.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	signedData.Detach()
	if err := signedData.AddSigner(signerCert, key, pkcs7.SignerInfoConfig{}); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	der, err := signedData.Finish()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	env := codec.VariableAuthentication2{
		TimeStamp: ts,
		AuthInfo: codec.AuthInfo{
			Revision:        codec.WinCertRevision,
			CertificateType: codec.WinCertTypeEFIGUID,
			CertType:        guid.EFICertTypePKCS7GUID,
			CertData:        der,
		},
	}
	buf := append(codec.EncodeVariableAuthentication2(env), payload...)

	if err := os.WriteFile(*out, buf, 0644); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	fmt.Printf("wrote %d bytes to %s\n", len(buf), *out)
}

func parseGUID(s string) (guid.GUID, error) {
	g, err := guidParse(s)
	if err != nil {
		return guid.Nil, fmt.Errorf("parse -vendor %q: %w", s, err)
	}
	return g, nil
}

// guidParse wraps guid.MustParse's panic-on-error form in a recover so a
// malformed -vendor flag produces a diagnostic instead of a crash.
func guidParse(s string) (g guid.GUID, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	g = guid.MustParse(s)
	return g, nil
}
