// Copyright 2017-18 Daniel Swarbrick. All rights reserved.
// Use of this source code is governed by a GPL license that can be found in the LICENSE file.

// EFI_VARIABLE_AUTHENTICATION_2 envelope decode/encode.

package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/tescande/varstored/guid"
)

const (
	// WinCertRevision is the required WIN_CERTIFICATE.wRevision value.
	WinCertRevision = 0x0200
	// WinCertTypeEFIGUID is the required WIN_CERTIFICATE.wCertificateType
	// value (WIN_CERT_TYPE_EFI_GUID).
	WinCertTypeEFIGUID = 0x0EF1

	// winCertHdrSize is sizeof(WIN_CERTIFICATE): dwLength(4) + wRevision(2)
	// + wCertificateType(2).
	winCertHdrSize = 8
	// winCertUEFIGUIDHdrSize is sizeof(WIN_CERT_UEFI_GUID): WIN_CERTIFICATE
	// (8) + CertType GUID (16).
	winCertUEFIGUIDHdrSize = winCertHdrSize + 16
)

// AuthInfo is a decoded WIN_CERTIFICATE_UEFI_GUID: the descriptor header
// wrapping a PKCS#7 DER payload.
type AuthInfo struct {
	Revision        uint16
	CertificateType uint16
	CertType        guid.GUID
	CertData        []byte // PKCS#7 DER
}

// VariableAuthentication2 is a decoded EFI_VARIABLE_AUTHENTICATION_2
// envelope: a timestamp plus the WIN_CERTIFICATE_UEFI_GUID wrapping the
// detached PKCS#7 signature.
type VariableAuthentication2 struct {
	TimeStamp EFITime
	AuthInfo  AuthInfo
}

// DecodeVariableAuthentication2 decodes the envelope from the head of c and
// returns it. The payload bytes following the descriptor are not returned;
// they stay in c, readable as c.Rest() after decode. Every length field is
// validated against the remaining buffer before descent.
func DecodeVariableAuthentication2(c *Cursor) (VariableAuthentication2, error) {
	ts, err := DecodeEFITime(c)
	if err != nil {
		return VariableAuthentication2{}, fmt.Errorf("codec: auth timestamp: %w", err)
	}

	dwLength, err := c.U32()
	if err != nil {
		return VariableAuthentication2{}, fmt.Errorf("codec: auth dwLength: %w", err)
	}
	revision, err := c.U16()
	if err != nil {
		return VariableAuthentication2{}, fmt.Errorf("codec: auth wRevision: %w", err)
	}
	certType, err := c.U16()
	if err != nil {
		return VariableAuthentication2{}, fmt.Errorf("codec: auth wCertificateType: %w", err)
	}
	certTypeGUID, err := c.GUID()
	if err != nil {
		return VariableAuthentication2{}, fmt.Errorf("codec: auth CertType: %w", err)
	}

	if dwLength < winCertUEFIGUIDHdrSize {
		return VariableAuthentication2{}, fmt.Errorf("codec: auth dwLength %d shorter than WIN_CERT_UEFI_GUID header", dwLength)
	}
	// dwLength extending beyond the buffer is reported distinctly from an
	// ordinary short buffer: callers map ErrAuthOverrun to
	// SECURITY_VIOLATION rather than INVALID_PARAMETER.
	certDataLen := int(dwLength) - winCertUEFIGUIDHdrSize
	certData, err := c.Take(certDataLen)
	if err != nil {
		return VariableAuthentication2{}, fmt.Errorf("%w: auth CertData: %v", ErrAuthOverrun, err)
	}

	return VariableAuthentication2{
		TimeStamp: ts,
		AuthInfo: AuthInfo{
			Revision:        revision,
			CertificateType: certType,
			CertType:        certTypeGUID,
			CertData:        append([]byte(nil), certData...),
		},
	}, nil
}

// ErrAuthOverrun is returned when a WIN_CERTIFICATE_UEFI_GUID's declared
// dwLength extends beyond the supplied buffer; callers map this to
// SECURITY_VIOLATION.
var ErrAuthOverrun = fmt.Errorf("codec: authentication descriptor overruns buffer")

// EncodeVariableAuthentication2 serializes v, the inverse of
// DecodeVariableAuthentication2.
func EncodeVariableAuthentication2(v VariableAuthentication2) []byte {
	dwLength := winCertUEFIGUIDHdrSize + len(v.AuthInfo.CertData)
	out := make([]byte, EFITimeSize+dwLength)
	copy(out[0:EFITimeSize], EncodeEFITime(v.TimeStamp))

	o := out[EFITimeSize:]
	binary.LittleEndian.PutUint32(o[0:4], uint32(dwLength))
	binary.LittleEndian.PutUint16(o[4:6], v.AuthInfo.Revision)
	binary.LittleEndian.PutUint16(o[6:8], v.AuthInfo.CertificateType)
	copy(o[8:24], PutGUID(v.AuthInfo.CertType))
	copy(o[24:], v.AuthInfo.CertData)
	return out
}

// SignedMessage reconstructs the bytes that were signed:
// name_ucs2 || vendor_guid || attributes_le32 || timestamp(16B) || payload.
func SignedMessage(nameUCS2 []byte, vendor guid.GUID, attrs uint32, ts EFITime, payload []byte) []byte {
	out := make([]byte, 0, len(nameUCS2)+16+4+EFITimeSize+len(payload))
	out = append(out, nameUCS2...)
	out = append(out, PutGUID(vendor)...)
	var a [4]byte
	binary.LittleEndian.PutUint32(a[:], attrs)
	out = append(out, a[:]...)
	out = append(out, EncodeEFITime(ts)...)
	out = append(out, payload...)
	return out
}
