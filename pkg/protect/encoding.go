// Package protect provides authenticated encryption of opaque payloads
// bound to a purpose chain, plus the key ring that backs it.
//
// A [Provider] hands out [Protector] values. Each protector is bound to an
// ordered list of purpose strings; a payload protected under one chain can
// only be unprotected by a protector with exactly the same chain. Keys are
// derived per payload with HKDF-SHA256 from a master key held by a
// [KeyManager], and payloads are sealed with AES-256-GCM.
//
// Payload layout (all fields fixed width except the ciphertext):
//
//	magic(4) | key id(16) | key modifier(16) | nonce(12) | ciphertext+tag
package protect

import (
	"encoding/base64"

	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

// Base64URLEncode encodes data with the URL-safe alphabet and no padding.
func Base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// Base64URLDecode reverses [Base64URLEncode]. Trailing padding is
// tolerated.
func Base64URLDecode(s string) ([]byte, error) {
	for len(s) > 0 && s[len(s)-1] == '=' {
		s = s[:len(s)-1]
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "protect: malformed base64url input")
	}
	return b, nil
}
