package crypto

import (
	"bytes"
	"errors"
	"testing"
)

const testIterations = 1000

func testKeys(t *testing.T, secret string) *Keys {
	t.Helper()
	k, err := DeriveKeys([]byte(secret), testIterations)
	if err != nil {
		t.Fatalf("derive keys failed: %v", err)
	}
	return k
}

func TestDeriveKeysDeterministic(t *testing.T) {
	a := testKeys(t, "shared-secret")
	b := testKeys(t, "shared-secret")
	if !bytes.Equal(a.enc, b.enc) || !bytes.Equal(a.sign, b.sign) {
		t.Fatalf("key derivation not deterministic")
	}
	if bytes.Equal(a.enc, a.sign) {
		t.Fatalf("encryption and signing keys must differ")
	}
	if len(a.enc) != XKeySize || len(a.sign) != XKeySize {
		t.Fatalf("unexpected key sizes %d/%d", len(a.enc), len(a.sign))
	}
	c := testKeys(t, "other-secret")
	if bytes.Equal(a.enc, c.enc) {
		t.Fatalf("different secrets produced the same key")
	}
}

func TestDeriveKeysEmptySecret(t *testing.T) {
	if _, err := DeriveKeys(nil, testIterations); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	k := testKeys(t, "shared-secret")
	for _, plain := range [][]byte{nil, []byte("x"), []byte(`{"type":"status_update"}`), bytes.Repeat([]byte{0xff}, 4096)} {
		env, err := k.Encrypt(plain)
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}
		if !env.Encrypted || len(env.Nonce) != XNonceSize || len(env.Tag) != XTagSize {
			t.Fatalf("unexpected envelope shape: %+v", env)
		}
		got, err := k.Decrypt(env)
		if err != nil {
			t.Fatalf("decrypt failed: %v", err)
		}
		if !bytes.Equal(got, plain) {
			t.Fatalf("round trip mismatch")
		}
	}
}

func TestEncryptFreshNonce(t *testing.T) {
	k := testKeys(t, "shared-secret")
	a, _ := k.Encrypt([]byte("same"))
	b, _ := k.Encrypt([]byte("same"))
	if bytes.Equal(a.Nonce, b.Nonce) {
		t.Fatalf("nonce reused")
	}
}

func TestEncryptWithoutKeyIsExplicitPlaintext(t *testing.T) {
	var k *Keys
	env, err := k.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if env.Encrypted || string(env.Data) != "hello" {
		t.Fatalf("expected plaintext envelope, got %+v", env)
	}
	got, err := k.Decrypt(env)
	if err != nil || string(got) != "hello" {
		t.Fatalf("plaintext passthrough failed: %v", err)
	}
}

func TestDecryptFailures(t *testing.T) {
	k := testKeys(t, "shared-secret")
	env, err := k.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	var none *Keys
	if _, err := none.Decrypt(env); !errors.Is(err, ErrDecryption) || !errors.Is(err, ErrKeyUnavailable) {
		t.Fatalf("expected key unavailable, got %v", err)
	}

	tampered := env
	tampered.Data = append([]byte(nil), env.Data...)
	tampered.Data[0] ^= 0x01
	if _, err := k.Decrypt(tampered); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected authentication failure, got %v", err)
	}

	badNonce := env
	badNonce.Nonce = env.Nonce[:5]
	if _, err := k.Decrypt(badNonce); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("expected malformed envelope, got %v", err)
	}

	other := testKeys(t, "wrong-secret")
	if _, err := other.Decrypt(env); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected authentication failure for wrong key, got %v", err)
	}
}

func TestSignVerify(t *testing.T) {
	k := testKeys(t, "shared-secret")
	fields := [][]byte{[]byte("id"), []byte("from"), []byte("to"), Uint64Field(42)}
	sig, ok := k.Sign(fields...)
	if !ok || len(sig) == 0 {
		t.Fatalf("expected signature")
	}
	if !k.Verify(sig, fields...) {
		t.Fatalf("valid signature rejected")
	}
	if k.Verify(sig, []byte("id"), []byte("from"), []byte("to"), Uint64Field(43)) {
		t.Fatalf("signature accepted for different fields")
	}
	if k.Verify(nil, fields...) {
		t.Fatalf("missing signature accepted with signing key configured")
	}

	var none *Keys
	if sig, ok := none.Sign(fields...); ok || sig != nil {
		t.Fatalf("expected unsigned state without key")
	}
	if !none.Verify([]byte("garbage"), fields...) {
		t.Fatalf("verification without key must trust")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	cases := []struct {
		a, b []byte
		want bool
	}{
		{nil, nil, true},
		{[]byte{}, nil, true},
		{[]byte("abc"), []byte("abc"), true},
		{[]byte("abc"), []byte("abd"), false},
		{[]byte("abc"), []byte("ab"), false},
		{[]byte{0}, []byte{}, false},
		{[]byte("xbc"), []byte("abc"), false},
	}
	for _, c := range cases {
		if got := ConstantTimeEqual(c.a, c.b); got != c.want {
			t.Fatalf("ConstantTimeEqual(%q,%q)=%v want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestDigestLengthPrefixed(t *testing.T) {
	if Digest([]byte("ab"), []byte("c")) == Digest([]byte("a"), []byte("bc")) {
		t.Fatalf("digest collides across field boundaries")
	}
	if Digest([]byte("a")) != Digest([]byte("a")) {
		t.Fatalf("digest not deterministic")
	}
}

func TestKeysRedacted(t *testing.T) {
	k := testKeys(t, "shared-secret")
	if k.String() != "Keys{REDACTED}" {
		t.Fatalf("keys leaked through String")
	}
	k.Destroy()
	if k.CanEncrypt() || k.CanSign() {
		t.Fatalf("destroyed keys still usable")
	}
}
