package replica

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"securecrdt/internal/message"
	"securecrdt/internal/metrics"
	"securecrdt/internal/peer"
	"securecrdt/internal/snapshot"
)

// MergeResult reports what a merge did. Rejected messages left the local
// replica untouched.
type MergeResult struct {
	From     string
	ExportID string
	Accepted int
	Rejected []*IntegrityError
	Expired  int
}

// Merge folds a remote snapshot into the replica: clocks by pointwise max,
// messages by last-writer-wins on timestamp with hash verification, peers by
// OR-Set merge, then expired messages are evicted. A snapshot that fails
// validation is rejected whole before anything is applied.
func (r *Replica) Merge(s snapshot.Snapshot) (MergeResult, error) {
	if err := s.Validate(); err != nil {
		r.metrics.IncMalformed()
		return MergeResult{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	res := MergeResult{From: s.ExportedBy, ExportID: s.ExportID}
	if s.ExportID != "" {
		if r.seen.Contains(s.ExportID) {
			r.metrics.IncDuplicate()
		}
		r.seen.Add(s.ExportID, struct{}{})
	}

	r.clock.MergeInto(s.VectorClock)

	now := r.nowMillis()
	for _, id := range sortedIDs(s.Messages) {
		remote := s.Messages[id]
		local, ok := r.messages[id]
		if ok && !supersedes(remote, local) {
			continue
		}
		if remote.Expired(now) {
			continue
		}
		if !remote.VerifyHash() {
			ierr := &IntegrityError{ID: id, Want: remote.Hash, Got: message.HashMessage(remote)}
			res.Rejected = append(res.Rejected, ierr)
			r.log.WithFields(logrus.Fields{"id": id, "from": s.ExportedBy}).Warn("message failed integrity check")
			continue
		}
		r.messages[id] = remote.Copy()
		res.Accepted++
	}

	r.peers = peer.Merge(r.peers, s.Peers)
	res.Expired = r.cleanExpiredLocked(now)

	r.metrics.IncImported()
	r.metrics.AddAccepted(res.Accepted)
	r.metrics.AddDropIntegrity(len(res.Rejected))
	r.metrics.Recent().Add(metrics.MergeHeader{
		ExportedBy: s.ExportedBy,
		ExportID:   s.ExportID,
		Accepted:   res.Accepted,
		Rejected:   len(res.Rejected),
		Expired:    res.Expired,
		At:         r.now().UTC(),
	})
	r.log.WithFields(logrus.Fields{
		"from":     s.ExportedBy,
		"accepted": res.Accepted,
		"rejected": len(res.Rejected),
	}).Info("merged remote state")
	return res, nil
}

// supersedes is the LWW rule: a later timestamp wins. Equal timestamps with
// different content resolve to the larger hash so every replica picks the
// same copy.
func supersedes(remote, local message.Message) bool {
	if remote.Timestamp != local.Timestamp {
		return remote.Timestamp > local.Timestamp
	}
	return remote.Hash > local.Hash
}

// MergeBytes decodes an encoded snapshot and merges it.
func (r *Replica) MergeBytes(data []byte) (MergeResult, error) {
	s, err := snapshot.Decode(data)
	if err != nil {
		r.metrics.IncMalformed()
		return MergeResult{}, err
	}
	return r.Merge(s)
}

// CleanExpired deletes every message whose TTL has elapsed and returns how
// many were removed. There is no tombstone: a lagging replica can hand an
// expired message back, and it is evicted again on that merge.
func (r *Replica) CleanExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanExpiredLocked(r.nowMillis())
}

func (r *Replica) cleanExpiredLocked(now int64) int {
	cleaned := 0
	for id, m := range r.messages {
		if m.Expired(now) {
			delete(r.messages, id)
			r.plain.Remove(id + "/" + m.Hash)
			cleaned++
		}
	}
	if cleaned > 0 {
		r.metrics.AddExpired(cleaned)
		r.log.WithField("count", cleaned).Info("cleaned expired messages")
	}
	return cleaned
}

// Export returns an immutable copy of the replica for transport and clears
// the pending list.
func (r *Replica) Export() snapshot.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := copyState(snapshot.State{Clock: r.clock, Messages: r.messages, Peers: r.peers})
	now := r.nowMillis()
	r.pending = nil
	r.lastSync = now
	r.metrics.IncExported()
	return snapshot.Snapshot{
		VectorClock: st.Clock,
		Messages:    st.Messages,
		Peers:       st.Peers,
		ExportedAt:  now,
		ExportedBy:  r.id,
		ExportID:    uuid.NewString(),
	}
}

// ExportBytes is Export followed by snapshot.Encode.
func (r *Replica) ExportBytes() ([]byte, error) {
	return snapshot.Encode(r.Export())
}
