// Package message defines the replicated message record: its identity, the
// fields covered by the signature and the integrity hash, and TTL expiry.
package message

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"securecrdt/internal/clock"
	"securecrdt/internal/crypto"
)

const (
	// Broadcast is the recipient sentinel addressing every instance.
	Broadcast = "ALL"

	DefaultType     = "message"
	DefaultPriority = "normal"
	DefaultTTL      = 7 * 24 * time.Hour
)

// Message is a single entry of the last-writer-wins message set. Timestamp and
// TTL are milliseconds.
type Message struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Content   crypto.Envelope `json:"content"`
	Timestamp int64           `json:"timestamp"`
	Clock     clock.Clock     `json:"vectorClock"`
	Type      string          `json:"type"`
	Priority  string          `json:"priority"`
	TTL       int64           `json:"ttl"`
	Signature string          `json:"signature,omitempty"`
	Hash      string          `json:"hash"`
}

// Options carries the optional tags of a send. Zero values select defaults.
type Options struct {
	Type     string
	Priority string
	TTL      time.Duration
}

func (o Options) withDefaults() Options {
	if o.Type == "" {
		o.Type = DefaultType
	}
	if o.Priority == "" {
		o.Priority = DefaultPriority
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	return o
}

// ttlMillis rounds up so a sub-millisecond TTL does not become zero.
func ttlMillis(d time.Duration) int64 {
	ms := d.Milliseconds()
	if d > time.Duration(ms)*time.Millisecond {
		ms++
	}
	return ms
}

// NewID returns "<instance>-<unix ms>-<16 hex chars>".
func NewID(instance string, ts int64) (string, error) {
	var rnd [8]byte
	if _, err := rand.Read(rnd[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%d-%s", instance, ts, hex.EncodeToString(rnd[:])), nil
}

// Build assembles, encrypts, signs and hashes a message. vc is stored as-is
// and must already be a copy owned by the caller.
func Build(keys *crypto.Keys, from, to string, content []byte, ts int64, vc clock.Clock, opts Options) (Message, error) {
	opts = opts.withDefaults()
	id, err := NewID(from, ts)
	if err != nil {
		return Message{}, fmt.Errorf("message id: %w", err)
	}
	env, err := keys.Encrypt(content)
	if err != nil {
		return Message{}, fmt.Errorf("encrypt: %w", err)
	}
	m := Message{
		ID:        id,
		From:      from,
		To:        to,
		Content:   env,
		Timestamp: ts,
		Clock:     vc,
		Type:      opts.Type,
		Priority:  opts.Priority,
		TTL:       ttlMillis(opts.TTL),
	}
	if sig, ok := keys.Sign(m.SigningFields()...); ok {
		m.Signature = hex.EncodeToString(sig)
	}
	m.Hash = HashMessage(m)
	return m, nil
}

// SigningFields are the identifying fields covered by the HMAC.
func (m Message) SigningFields() [][]byte {
	return [][]byte{
		[]byte(m.ID),
		[]byte(m.From),
		[]byte(m.To),
		crypto.Uint64Field(uint64(m.Timestamp)),
	}
}

// HashMessage digests exactly id, from, to, timestamp and the content
// envelope. Signature and hash are excluded.
func HashMessage(m Message) string {
	parts := [][]byte{
		[]byte(m.ID),
		[]byte(m.From),
		[]byte(m.To),
		crypto.Uint64Field(uint64(m.Timestamp)),
	}
	parts = append(parts, crypto.EnvelopeFields(m.Content)...)
	return crypto.Digest(parts...)
}

// VerifyHash reports whether the stored hash matches the recomputed one.
func (m Message) VerifyHash() bool {
	return crypto.ConstantTimeEqual([]byte(m.Hash), []byte(HashMessage(m)))
}

// VerifySignature checks the HMAC with keys. See crypto.Keys.Verify for the
// no-key policy.
func (m Message) VerifySignature(keys *crypto.Keys) bool {
	var sig []byte
	if m.Signature != "" {
		b, err := hex.DecodeString(m.Signature)
		if err != nil {
			return false
		}
		sig = b
	}
	return keys.Verify(sig, m.SigningFields()...)
}

// ExpiresAt returns the expiry instant in unix milliseconds.
func (m Message) ExpiresAt() int64 {
	return m.Timestamp + m.TTL
}

// Expired reports now - timestamp > ttl, with now in unix milliseconds.
func (m Message) Expired(now int64) bool {
	return now-m.Timestamp > m.TTL
}

// AddressedTo reports whether m is for id, directly or by broadcast.
func (m Message) AddressedTo(id string) bool {
	return m.To == id || m.To == Broadcast
}

// Copy returns a deep copy.
func (m Message) Copy() Message {
	out := m
	out.Clock = m.Clock.Copy()
	out.Content = crypto.Envelope{
		Encrypted: m.Content.Encrypted,
		Nonce:     cloneBytes(m.Content.Nonce),
		Tag:       cloneBytes(m.Content.Tag),
		Data:      cloneBytes(m.Content.Data),
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
