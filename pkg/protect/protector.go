package protect

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	sserr "github.com/StricklySoft/stricklysoft-authn/pkg/errors"
)

const (
	magicHeader     uint32 = 0x09F0C9F0
	keyModifierSize        = 16
	nonceSize              = 12
	tagSize                = 16
	derivedKeySize         = 32
	headerSize             = 4 + len(uuid.UUID{})
	minPayloadSize         = headerSize + keyModifierSize + nonceSize + tagSize

	derivationLabel = "stricklysoft-authn/protect/v1"
)

// Provider creates protectors bound to purpose chains. Providers sharing
// a key source and application name produce interchangeable payloads.
type Provider struct {
	keys        KeySource
	application string
}

// NewProvider returns a provider drawing keys from keys. The application
// name is mixed into every derived key; pass the same value on every
// instance of an application.
func NewProvider(keys KeySource, application string) *Provider {
	return &Provider{keys: keys, application: application}
}

// NewProviderFromManager returns a provider using m and the application
// name from its configuration.
func NewProviderFromManager(m *KeyManager) *Provider {
	return NewProvider(m, m.Config().ApplicationName)
}

// CreateProtector returns a protector for the given purpose chain. An
// empty chain is valid and distinct from every non-empty chain.
func (p *Provider) CreateProtector(purposes ...string) *Protector {
	return newProtector(p.keys, p.application, slices.Clone(purposes))
}

// Protector seals and opens payloads under one purpose chain. It is
// immutable and safe for concurrent use.
type Protector struct {
	keys        KeySource
	application string
	purposes    []string
	info        []byte
}

func newProtector(keys KeySource, application string, purposes []string) *Protector {
	return &Protector{
		keys:        keys,
		application: application,
		purposes:    purposes,
		info:        derivationInfo(application, purposes),
	}
}

// CreateProtector returns a child protector whose chain is this chain
// followed by purpose.
func (p *Protector) CreateProtector(purpose string) *Protector {
	chain := make([]string, len(p.purposes), len(p.purposes)+1)
	copy(chain, p.purposes)
	return newProtector(p.keys, p.application, append(chain, purpose))
}

// Purposes returns a copy of the purpose chain.
func (p *Protector) Purposes() []string {
	return slices.Clone(p.purposes)
}

// Protect seals plaintext with the current default key.
func (p *Protector) Protect(ctx context.Context, plaintext []byte) ([]byte, error) {
	key, err := p.keys.DefaultKey(ctx)
	if err != nil {
		return nil, err
	}

	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header, magicHeader)
	copy(header[4:], key.ID[:])

	out := make([]byte, minPayloadSize-tagSize, minPayloadSize+len(plaintext))
	copy(out, header)
	modifier := out[headerSize : headerSize+keyModifierSize]
	nonce := out[headerSize+keyModifierSize : headerSize+keyModifierSize+nonceSize]
	if _, err := rand.Read(modifier); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalCrypto, "protect: failed to generate key modifier")
	}
	if _, err := rand.Read(nonce); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalCrypto, "protect: failed to generate nonce")
	}

	aead, err := p.aead(key, modifier)
	if err != nil {
		return nil, err
	}
	return aead.Seal(out, nonce, plaintext, header), nil
}

// Unprotect opens a payload produced by a protector with the same chain.
// It fails on a malformed payload, an unknown or revoked key, a different
// chain, or any tampering.
func (p *Protector) Unprotect(ctx context.Context, payload []byte) ([]byte, error) {
	if len(payload) < minPayloadSize {
		return nil, sserr.New(sserr.CodeValidationFormat, "protect: payload is too short")
	}
	if binary.BigEndian.Uint32(payload) != magicHeader {
		return nil, sserr.New(sserr.CodeValidationFormat, "protect: payload has an unrecognized header")
	}
	keyID, err := uuid.FromBytes(payload[4:headerSize])
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidationFormat, "protect: payload has a malformed key id")
	}

	key, err := p.keys.Key(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key.Revoked {
		return nil, sserr.Newf(sserr.CodeAuthenticationInvalid, "protect: key %s has been revoked", keyID)
	}

	header := payload[:headerSize]
	modifier := payload[headerSize : headerSize+keyModifierSize]
	nonce := payload[headerSize+keyModifierSize : headerSize+keyModifierSize+nonceSize]
	ciphertext := payload[headerSize+keyModifierSize+nonceSize:]

	aead, err := p.aead(key, modifier)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, header)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeAuthenticationInvalid, "protect: payload failed authentication")
	}
	return plaintext, nil
}

func (p *Protector) aead(key Key, modifier []byte) (cipher.AEAD, error) {
	if len(key.material) == 0 {
		return nil, sserr.Newf(sserr.CodeInternalCrypto, "protect: key %s has no material", key.ID)
	}
	derived := make([]byte, derivedKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key.material, modifier, p.info), derived); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalCrypto, "protect: key derivation failed")
	}
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalCrypto, "protect: failed to create cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalCrypto, "protect: failed to create GCM")
	}
	return aead, nil
}

// derivationInfo encodes the HKDF info parameter: the label, the
// application name and the purpose count, then each purpose, every string
// prefixed by its length. Length prefixes keep distinct chains such as
// ["ab"] and ["a","b"] from colliding.
func derivationInfo(application string, purposes []string) []byte {
	info := make([]byte, 0, 64)
	info = appendString(info, derivationLabel)
	info = appendString(info, application)
	info = binary.BigEndian.AppendUint32(info, uint32(len(purposes)))
	for _, purpose := range purposes {
		info = appendString(info, purpose)
	}
	return info
}

func appendString(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}
