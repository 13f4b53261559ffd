// internal/crypto/crypto.go
package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/sha3"
)

// -----------------------------------------------------------------------------
// securecrdt crypto suite
//
// - key derivation: PBKDF2-HMAC-SHA512 over a pre-shared secret
// - message AEAD:   XChaCha20-Poly1305, random 24-byte nonce per call
// - signatures:     HMAC-SHA3-256 over length-prefixed fields
// - integrity:      SHA3-256 over length-prefixed fields
// -----------------------------------------------------------------------------

const (
	// XChaCha20-Poly1305 sizes
	XKeySize   = chacha20poly1305.KeySize    // 32
	XNonceSize = chacha20poly1305.NonceSizeX // 24
	XTagSize   = chacha20poly1305.Overhead   // 16
)

const Algorithm = "xchacha20-poly1305"

var (
	ErrKeyUnavailable    = errors.New("key unavailable")
	ErrDecryption        = errors.New("decryption failed")
	ErrAuthentication    = errors.New("authentication tag mismatch")
	ErrMalformedEnvelope = errors.New("malformed envelope")
)

// -----------------------------------------------------------------------------
// SHA-3
// -----------------------------------------------------------------------------

func SHA3_256(msg []byte) []byte {
	sum := sha3.Sum256(msg)
	return sum[:]
}

// Digest hashes the length-prefixed concatenation of parts and returns it hex
// encoded.
func Digest(parts ...[]byte) string {
	return hex.EncodeToString(SHA3_256(BuildFields(parts...)))
}

// -----------------------------------------------------------------------------
// XChaCha20-Poly1305 AEAD
// -----------------------------------------------------------------------------

// XSeal: 랜덤 nonce(24) 생성 + XChaCha20-Poly1305로 봉인.
// aad는 "헤더/컨텍스트" 같은 인증 데이터(선택).
func XSeal(key32, plaintext, aad []byte) (nonce24 []byte, ciphertext []byte, err error) {
	if len(key32) != XKeySize {
		return nil, nil, fmt.Errorf("bad key size: need %d", XKeySize)
	}
	aead, err := chacha20poly1305.NewX(key32)
	if err != nil {
		return nil, nil, err
	}

	nonce := make([]byte, XNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	ct := aead.Seal(nil, nonce, plaintext, aad)
	return nonce, ct, nil
}

func XOpen(key32, nonce24, ciphertext, aad []byte) ([]byte, error) {
	if len(key32) != XKeySize {
		return nil, fmt.Errorf("bad key size: need %d", XKeySize)
	}
	if len(nonce24) != XNonceSize {
		return nil, fmt.Errorf("%w: bad nonce size: need %d", ErrMalformedEnvelope, XNonceSize)
	}
	aead, err := chacha20poly1305.NewX(key32)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce24, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return pt, nil
}

// -----------------------------------------------------------------------------
// Constant-time comparison
// -----------------------------------------------------------------------------

// ConstantTimeEqual reports whether a and b hold the same bytes. The loop
// always walks the longer input so timing depends only on the lengths.
func ConstantTimeEqual(a, b []byte) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	var diff byte
	for i := 0; i < n; i++ {
		var x, y byte
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		diff |= x ^ y
	}
	lenDiff := uint64(len(a)) ^ uint64(len(b))
	for i := 0; i < 8; i++ {
		diff |= byte(lenDiff >> (8 * i))
	}
	return diff == 0
}
