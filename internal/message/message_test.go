package message

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securecrdt/internal/clock"
	"securecrdt/internal/crypto"
)

func testKeys(t *testing.T) *crypto.Keys {
	t.Helper()
	k, err := crypto.DeriveKeys([]byte("trinity-shared-secret"), 1000)
	require.NoError(t, err)
	return k
}

func TestBuildDefaultsAndIdentity(t *testing.T) {
	k := testKeys(t)
	m, err := Build(k, "A", Broadcast, []byte("hello"), 1_700_000_000_000, clock.Clock{"A": 1}, Options{})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(m.ID, "A-1700000000000-"))
	assert.Len(t, strings.TrimPrefix(m.ID, "A-1700000000000-"), 16)
	assert.Equal(t, DefaultType, m.Type)
	assert.Equal(t, DefaultPriority, m.Priority)
	assert.Equal(t, DefaultTTL.Milliseconds(), m.TTL)
	assert.True(t, m.Content.Encrypted)
	assert.NotEmpty(t, m.Signature)
	assert.True(t, m.VerifyHash())
	assert.True(t, m.VerifySignature(k))

	plain, err := k.Decrypt(m.Content)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(plain))
}

func TestBuildWithoutKeys(t *testing.T) {
	m, err := Build(nil, "A", "B", []byte("hi"), 10, clock.Clock{"A": 1}, Options{Type: "status", Priority: "high", TTL: time.Minute})
	require.NoError(t, err)
	assert.False(t, m.Content.Encrypted)
	assert.Empty(t, m.Signature)
	assert.Equal(t, int64(60_000), m.TTL)
	assert.True(t, m.VerifyHash())
	assert.True(t, m.VerifySignature(nil))
	assert.False(t, m.VerifySignature(testKeys(t)), "unsigned message must not verify once a key exists")
}

func TestIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := NewID("A", 5)
		require.NoError(t, err)
		require.False(t, seen[id])
		seen[id] = true
	}
}

func TestHashStableAcrossEncoding(t *testing.T) {
	k := testKeys(t)
	m, err := Build(k, "A", "B", []byte("payload"), 42, clock.Clock{"A": 3}, Options{})
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, HashMessage(m), HashMessage(decoded))
	assert.True(t, decoded.VerifyHash())
}

func TestHashExcludesSignatureAndMetadata(t *testing.T) {
	m, err := Build(testKeys(t), "A", "B", []byte("payload"), 42, clock.Clock{"A": 1}, Options{})
	require.NoError(t, err)
	h := HashMessage(m)

	m.Signature = "00"
	m.Priority = "high"
	m.Clock = clock.Clock{"A": 9}
	assert.Equal(t, h, HashMessage(m))
}

func TestHashCoversContent(t *testing.T) {
	m, err := Build(testKeys(t), "A", "B", []byte("payload"), 42, clock.Clock{"A": 1}, Options{})
	require.NoError(t, err)

	tampered := m.Copy()
	tampered.Content.Data[0] ^= 0xff
	assert.False(t, tampered.VerifyHash())
	assert.True(t, m.VerifyHash(), "copy must not alias content bytes")

	moved := m.Copy()
	moved.Timestamp++
	assert.False(t, moved.VerifyHash())

	redirected := m.Copy()
	redirected.To = "C"
	assert.False(t, redirected.VerifyHash())
}

func TestExpiry(t *testing.T) {
	m := Message{Timestamp: 1000, TTL: 500}
	assert.Equal(t, int64(1500), m.ExpiresAt())
	assert.False(t, m.Expired(1500))
	assert.True(t, m.Expired(1501))
}

func TestAddressedTo(t *testing.T) {
	assert.True(t, Message{To: "B"}.AddressedTo("B"))
	assert.True(t, Message{To: Broadcast}.AddressedTo("B"))
	assert.False(t, Message{To: "C"}.AddressedTo("B"))
}

func TestBadSignatureHex(t *testing.T) {
	k := testKeys(t)
	m, err := Build(k, "A", "B", []byte("x"), 1, clock.Clock{"A": 1}, Options{})
	require.NoError(t, err)
	m.Signature = "zz"
	assert.False(t, m.VerifySignature(k))
}

func TestBuildRoundsSubMillisecondTTLUp(t *testing.T) {
	m, err := Build(nil, "A", "B", []byte("x"), 100, clock.Clock{"A": 1}, Options{TTL: 500 * time.Microsecond})
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.TTL)
	assert.False(t, m.Expired(101))

	m, err = Build(nil, "A", "B", []byte("x"), 100, clock.Clock{"A": 1}, Options{TTL: 1500 * time.Microsecond})
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.TTL)
}
