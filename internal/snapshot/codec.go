package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"securecrdt/internal/clock"
	"securecrdt/internal/message"
	"securecrdt/internal/peer"
	"securecrdt/internal/store"
)

const (
	CollectionClock    = "vector_clock"
	CollectionMessages = "messages"
	CollectionPeers    = "known_peers"
)

// State is the persisted part of a replica. Keys are never part of it.
type State struct {
	Clock    clock.Clock
	Messages map[string]message.Message
	Peers    peer.Registry
}

func EmptyState() State {
	return State{
		Clock:    clock.New(),
		Messages: make(map[string]message.Message),
		Peers:    peer.NewRegistry(),
	}
}

// Codec maps State onto three collections of a store.Backend.
type Codec struct {
	Backend store.Backend
}

func (c Codec) Save(ctx context.Context, st State) error {
	if err := c.put(ctx, CollectionMessages, st.Messages); err != nil {
		return err
	}
	if err := c.put(ctx, CollectionClock, st.Clock); err != nil {
		return err
	}
	return c.put(ctx, CollectionPeers, st.Peers)
}

func (c Codec) put(ctx context.Context, collection string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", collection, err)
	}
	if err := c.Backend.Write(ctx, collection, data); err != nil {
		return fmt.Errorf("write %s: %w", collection, err)
	}
	return nil
}

// Load reads all three collections. Absent collections start empty; any other
// read or decode failure is returned.
func (c Codec) Load(ctx context.Context) (State, error) {
	st := EmptyState()
	if err := c.get(ctx, CollectionMessages, &st.Messages); err != nil {
		return State{}, err
	}
	if err := c.get(ctx, CollectionClock, &st.Clock); err != nil {
		return State{}, err
	}
	if err := c.get(ctx, CollectionPeers, &st.Peers); err != nil {
		return State{}, err
	}
	if st.Clock == nil {
		st.Clock = clock.New()
	}
	if st.Messages == nil {
		st.Messages = make(map[string]message.Message)
	}
	if st.Peers.Added == nil {
		st.Peers.Added = make(map[string]peer.Entry)
	}
	if st.Peers.Removed == nil {
		st.Peers.Removed = make(map[string]int64)
	}
	return st, nil
}

func (c Codec) get(ctx context.Context, collection string, v any) error {
	data, err := c.Backend.Read(ctx, collection)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", collection, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", collection, err)
	}
	return nil
}
