package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securecrdt/internal/clock"
	"securecrdt/internal/crypto"
	"securecrdt/internal/message"
	"securecrdt/internal/peer"
	"securecrdt/internal/store"
)

func sampleState(t *testing.T) State {
	t.Helper()
	keys, err := crypto.DeriveKeys([]byte("secret"), 1000)
	require.NoError(t, err)
	m, err := message.Build(keys, "A", message.Broadcast, []byte("hi"), 1000, clock.Clock{"A": 1}, message.Options{})
	require.NoError(t, err)
	st := EmptyState()
	st.Clock["A"] = 1
	st.Messages[m.ID] = m
	st.Peers.Add("B", map[string]string{"addr": "127.0.0.1:7000"}, 900)
	st.Peers.Remove("C", 950)
	return st
}

func TestCodecRoundTrip(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	codec := Codec{Backend: backend}
	st := sampleState(t)

	require.NoError(t, codec.Save(ctx, st))
	loaded, err := codec.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, st, loaded)

	for _, c := range []string{CollectionClock, CollectionMessages, CollectionPeers} {
		_, err := backend.Read(ctx, c)
		require.NoError(t, err, c)
	}
}

func TestCodecLoadEmpty(t *testing.T) {
	loaded, err := Codec{Backend: store.NewMemory()}.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EmptyState(), loaded)
}

type failingBackend struct{ store.Backend }

func (failingBackend) Read(context.Context, string) ([]byte, error) {
	return nil, errors.New("disk on fire")
}

func (failingBackend) Write(context.Context, string, []byte) error {
	return errors.New("disk on fire")
}

func TestCodecSurfacesBackendErrors(t *testing.T) {
	codec := Codec{Backend: failingBackend{}}
	_, err := codec.Load(context.Background())
	require.Error(t, err)
	require.Error(t, codec.Save(context.Background(), EmptyState()))
}

func TestCodecRejectsCorruptCollection(t *testing.T) {
	ctx := context.Background()
	backend := store.NewMemory()
	require.NoError(t, backend.Write(ctx, CollectionClock, []byte("{not json")))
	_, err := Codec{Backend: backend}.Load(ctx)
	require.Error(t, err)
}

func validSnapshot(t *testing.T) Snapshot {
	st := sampleState(t)
	return Snapshot{
		VectorClock: st.Clock,
		Messages:    st.Messages,
		Peers:       st.Peers,
		ExportedAt:  2000,
		ExportedBy:  "A",
		ExportID:    "id",
	}
}

func TestEncodeDecode(t *testing.T) {
	s := validSnapshot(t)
	data, err := Encode(s)
	require.NoError(t, err)
	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, s, got)
	for _, m := range got.Messages {
		assert.True(t, m.VerifyHash(), "hash must be recomputable from the snapshot alone")
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `{`,
		"missing clock":    `{"messages":{},"peers":{"added":{},"removed":{}},"exportedBy":"A"}`,
		"missing messages": `{"vectorClock":{},"peers":{"added":{},"removed":{}},"exportedBy":"A"}`,
		"missing peers":    `{"vectorClock":{},"messages":{},"exportedBy":"A"}`,
		"missing removed":  `{"vectorClock":{},"messages":{},"peers":{"added":{}},"exportedBy":"A"}`,
		"missing exporter": `{"vectorClock":{},"messages":{},"peers":{"added":{},"removed":{}}}`,
		"key mismatch":     `{"vectorClock":{},"messages":{"x":{"id":"y","from":"A","to":"B","vectorClock":{}}},"peers":{"added":{},"removed":{}},"exportedBy":"A"}`,
		"no sender":        `{"vectorClock":{},"messages":{"x":{"id":"x","to":"B","vectorClock":{}}},"peers":{"added":{},"removed":{}},"exportedBy":"A"}`,
		"no message clock": `{"vectorClock":{},"messages":{"x":{"id":"x","from":"A","to":"B"}},"peers":{"added":{},"removed":{}},"exportedBy":"A"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(raw))
			require.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDecodeMinimal(t *testing.T) {
	s, err := Decode([]byte(`{"vectorClock":{},"messages":{},"peers":{"added":{},"removed":{}},"exportedBy":"A"}`))
	require.NoError(t, err)
	assert.Equal(t, "A", s.ExportedBy)
	assert.Equal(t, peer.NewRegistry(), s.Peers)
}
