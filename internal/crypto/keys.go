package crypto

import (
	"crypto/hmac"
	"crypto/sha512"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"
)

const (
	DefaultIterations = 100_000

	encryptionSalt = "securecrdt-encryption-salt"
	signingSalt    = "securecrdt-signing-salt"
)

// Keys holds the symmetric key pair derived from the shared secret. A nil
// *Keys, or one with an empty field, is the explicit "no key" state.
type Keys struct {
	enc  []byte
	sign []byte
}

// Envelope is an encrypted (or explicitly plaintext) message payload.
type Envelope struct {
	Encrypted bool   `json:"encrypted"`
	Nonce     []byte `json:"nonce,omitempty"`
	Tag       []byte `json:"authTag,omitempty"`
	Data      []byte `json:"data"`
}

// DeriveKeys runs PBKDF2-HMAC-SHA512 twice with distinct salts. Same secret,
// same keys, on every instance.
func DeriveKeys(secret []byte, iterations int) (*Keys, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty shared secret")
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	enc := pbkdf2.Key(secret, []byte(encryptionSalt), iterations, XKeySize, sha512.New)
	sign := pbkdf2.Key(secret, []byte(signingSalt), iterations, XKeySize, sha512.New)
	return &Keys{enc: enc, sign: sign}, nil
}

func (k *Keys) String() string {
	return "Keys{REDACTED}"
}

func (k *Keys) GoString() string {
	return "crypto.Keys{REDACTED}"
}

func (k *Keys) CanEncrypt() bool {
	return k != nil && len(k.enc) == XKeySize
}

func (k *Keys) CanSign() bool {
	return k != nil && len(k.sign) > 0
}

// Destroy zeroes the key material.
func (k *Keys) Destroy() {
	if k == nil {
		return
	}
	for i := range k.enc {
		k.enc[i] = 0
	}
	for i := range k.sign {
		k.sign[i] = 0
	}
	k.enc = nil
	k.sign = nil
}

// Encrypt seals plaintext. Without an encryption key the plaintext is wrapped
// with Encrypted=false.
func (k *Keys) Encrypt(plaintext []byte) (Envelope, error) {
	if !k.CanEncrypt() {
		data := make([]byte, len(plaintext))
		copy(data, plaintext)
		return Envelope{Encrypted: false, Data: data}, nil
	}
	nonce, sealed, err := XSeal(k.enc, plaintext, nil)
	if err != nil {
		return Envelope{}, err
	}
	split := len(sealed) - XTagSize
	return Envelope{
		Encrypted: true,
		Nonce:     nonce,
		Tag:       sealed[split:],
		Data:      sealed[:split],
	}, nil
}

// Decrypt opens env. Every failure wraps ErrDecryption together with the
// specific cause.
func (k *Keys) Decrypt(env Envelope) ([]byte, error) {
	if !env.Encrypted {
		out := make([]byte, len(env.Data))
		copy(out, env.Data)
		return out, nil
	}
	if !k.CanEncrypt() {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, ErrKeyUnavailable)
	}
	if len(env.Nonce) != XNonceSize {
		return nil, fmt.Errorf("%w: %w: nonce size %d", ErrDecryption, ErrMalformedEnvelope, len(env.Nonce))
	}
	if len(env.Tag) != XTagSize {
		return nil, fmt.Errorf("%w: %w: tag size %d", ErrDecryption, ErrMalformedEnvelope, len(env.Tag))
	}
	sealed := make([]byte, 0, len(env.Data)+len(env.Tag))
	sealed = append(sealed, env.Data...)
	sealed = append(sealed, env.Tag...)
	pt, err := XOpen(k.enc, env.Nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, err)
	}
	return pt, nil
}

// Sign returns the HMAC over fields, or ok=false when no signing key is
// configured.
func (k *Keys) Sign(fields ...[]byte) (sig []byte, ok bool) {
	if !k.CanSign() {
		return nil, false
	}
	mac := hmac.New(sha3.New256, k.sign)
	mac.Write(BuildFields(fields...))
	return mac.Sum(nil), true
}

// Verify trusts everything when no signing key is configured. With a key, a
// missing signature does not verify.
func (k *Keys) Verify(sig []byte, fields ...[]byte) bool {
	if !k.CanSign() {
		return true
	}
	if len(sig) == 0 {
		return false
	}
	expected, _ := k.Sign(fields...)
	return ConstantTimeEqual(sig, expected)
}

// EnvelopeFields is the canonical field list of env for hashing.
func EnvelopeFields(env Envelope) [][]byte {
	flag := []byte{0}
	if env.Encrypted {
		flag[0] = 1
	}
	return [][]byte{flag, env.Nonce, env.Tag, env.Data}
}
