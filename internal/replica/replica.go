// Package replica is the single-owner CRDT replica: a vector clock, a
// last-writer-wins message set with TTL expiry and an observed-remove peer
// registry, plus the merge protocol that folds a remote snapshot into it.
package replica

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"securecrdt/internal/clock"
	"securecrdt/internal/crypto"
	"securecrdt/internal/debuglog"
	"securecrdt/internal/message"
	"securecrdt/internal/metrics"
	"securecrdt/internal/peer"
	"securecrdt/internal/snapshot"
)

const (
	DefaultCacheSize = 1024
	seenExportsSize  = 256
)

var ErrIntegrity = errors.New("integrity check failed")

// IntegrityError reports a remote message whose stored hash does not match
// its recomputed hash.
type IntegrityError struct {
	ID   string
	Want string
	Got  string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("message %s: %v: stored %s, computed %s", e.ID, ErrIntegrity, e.Want, e.Got)
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

type Options struct {
	// Keys may be nil: messages are then stored as explicit plaintext and
	// signatures are neither produced nor enforced.
	Keys *crypto.Keys
	// State restores previously persisted data.
	State *snapshot.State
	// Now defaults to time.Now.
	Now       func() time.Time
	CacheSize int
	Metrics   *metrics.Metrics
}

// Replica is owned by one instance. Methods serialise on an internal mutex so
// transport goroutines can share it; each call is one synchronous
// transformation of the replica state.
type Replica struct {
	mu       sync.Mutex
	id       string
	keys     *crypto.Keys
	clock    clock.Clock
	messages map[string]message.Message
	peers    peer.Registry
	pending  []string
	lastSync int64
	now      func() time.Time
	plain    *lru.Cache[string, []byte]
	seen     *lru.Cache[string, struct{}]
	metrics  *metrics.Metrics
	log      *logrus.Entry
}

func New(id string, opts Options) (*Replica, error) {
	if id == "" {
		return nil, errors.New("missing instance id")
	}
	if id == message.Broadcast {
		return nil, fmt.Errorf("instance id %q is reserved", id)
	}
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	plain, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	seen, err := lru.New[string, struct{}](seenExportsSize)
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	st := snapshot.EmptyState()
	if opts.State != nil {
		st = copyState(*opts.State)
		// a crash between collection writes can leave the stored clock
		// behind the messages; never reuse a counter they already carry
		for _, m := range st.Messages {
			st.Clock.MergeInto(m.Clock)
		}
	}
	if _, ok := st.Clock[id]; !ok {
		st.Clock[id] = 0
	}
	return &Replica{
		id:       id,
		keys:     opts.Keys,
		clock:    st.Clock,
		messages: st.Messages,
		peers:    st.Peers,
		now:      now,
		plain:    plain,
		seen:     seen,
		metrics:  m,
		log:      debuglog.With(logrus.Fields{"instance": id}),
	}, nil
}

func (r *Replica) ID() string {
	return r.id
}

func (r *Replica) Metrics() *metrics.Metrics {
	return r.metrics
}

func (r *Replica) EncryptionEnabled() bool {
	return r.keys.CanEncrypt()
}

func (r *Replica) nowMillis() int64 {
	return r.now().UnixMilli()
}

// Clock returns a copy of the local vector clock.
func (r *Replica) Clock() clock.Clock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock.Copy()
}

// Len returns the number of stored messages, expired or not.
func (r *Replica) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// Message returns a copy of the stored message with id.
func (r *Replica) Message(id string) (message.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.messages[id]
	if !ok {
		return message.Message{}, false
	}
	return m.Copy(), true
}

// Pending returns the ids sent locally since the last export.
func (r *Replica) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.pending))
	copy(out, r.pending)
	return out
}

// State returns a deep copy of the persistable state.
func (r *Replica) State() snapshot.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyState(snapshot.State{Clock: r.clock, Messages: r.messages, Peers: r.peers})
}

func copyState(st snapshot.State) snapshot.State {
	out := snapshot.State{
		Clock:    st.Clock.Copy(),
		Messages: make(map[string]message.Message, len(st.Messages)),
		Peers:    st.Peers.Copy(),
	}
	for id, m := range st.Messages {
		out.Messages[id] = m.Copy()
	}
	return out
}

// AddPeer records id as present with metadata. The add is stamped after any
// change this replica has already observed for id, so under clock skew a
// local re-add beats an earlier observed removal even when the wall clock
// lags it. A remote removal not yet merged is unaffected.
func (r *Replica) AddPeer(id string, meta map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers.Add(id, meta, r.localStampLocked(id))
	r.log.WithField("peer", id).Info("peer added")
}

// RemovePeer records id as removed.
func (r *Replica) RemovePeer(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers.Remove(id, r.localStampLocked(id))
	r.log.WithField("peer", id).Info("peer removed")
}

func (r *Replica) localStampLocked(id string) int64 {
	at := r.nowMillis()
	if last := r.peers.LastChange(id); at <= last {
		at = last + 1
	}
	return at
}

// Peers lists active peers sorted by id.
func (r *Replica) Peers() []peer.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peers.Active()
}

func sortedIDs[V any](m map[string]V) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
