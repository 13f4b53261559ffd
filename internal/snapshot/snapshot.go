// Package snapshot holds the replica export format exchanged between
// instances and the three-collection layout used for local persistence.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"

	"securecrdt/internal/clock"
	"securecrdt/internal/message"
	"securecrdt/internal/peer"
)

var ErrMalformed = errors.New("malformed snapshot")

// Snapshot is an immutable value copy of a replica. Integrity hashes of every
// message can be recomputed from it alone.
type Snapshot struct {
	VectorClock clock.Clock                `json:"vectorClock"`
	Messages    map[string]message.Message `json:"messages"`
	Peers       peer.Registry              `json:"peers"`
	ExportedAt  int64                      `json:"exportedAt"`
	ExportedBy  string                     `json:"exportedBy"`
	ExportID    string                     `json:"exportId,omitempty"`
}

// Validate checks the fields a merge depends on. A nil map means the field
// was missing on the wire.
func (s Snapshot) Validate() error {
	switch {
	case s.VectorClock == nil:
		return fmt.Errorf("%w: missing vectorClock", ErrMalformed)
	case s.Messages == nil:
		return fmt.Errorf("%w: missing messages", ErrMalformed)
	case s.Peers.Added == nil:
		return fmt.Errorf("%w: missing peers.added", ErrMalformed)
	case s.Peers.Removed == nil:
		return fmt.Errorf("%w: missing peers.removed", ErrMalformed)
	case s.ExportedBy == "":
		return fmt.Errorf("%w: missing exportedBy", ErrMalformed)
	}
	for key, m := range s.Messages {
		if m.ID == "" || m.ID != key {
			return fmt.Errorf("%w: message key %q does not match id %q", ErrMalformed, key, m.ID)
		}
		if m.From == "" || m.To == "" {
			return fmt.Errorf("%w: message %s missing sender or recipient", ErrMalformed, key)
		}
		if m.Clock == nil {
			return fmt.Errorf("%w: message %s missing vectorClock", ErrMalformed, key)
		}
	}
	return nil
}

func Encode(s Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// Decode parses and validates data. Any failure is reported as ErrMalformed.
func Decode(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
