package replica

import (
	"container/heap"

	"github.com/sirupsen/logrus"

	"securecrdt/internal/clock"
	"securecrdt/internal/message"
)

// Delivered is a decrypted message handed to the caller.
type Delivered struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Content   []byte      `json:"content"`
	Timestamp int64       `json:"timestamp"`
	Clock     clock.Clock `json:"vectorClock"`
	Type      string      `json:"type"`
	Priority  string      `json:"priority"`
	// Verified is the signature check result. A false value does not drop
	// the message.
	Verified bool `json:"verified"`
}

// Failure is a message that could not be decrypted.
type Failure struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}

// Inbox is the result of Receive.
type Inbox struct {
	Messages []Delivered
	Failed   []Failure
}

// Receive returns the live messages addressed to forID or broadcast, in causal
// order. Messages that happen before others come first; causally unordered
// messages are ordered by timestamp, then id. A message that fails to decrypt
// is reported in Failed and does not affect the rest.
func (r *Replica) Receive(forID string) Inbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowMillis()
	var inbox Inbox
	for _, id := range sortedIDs(r.messages) {
		m := r.messages[id]
		if !m.AddressedTo(forID) || m.Expired(now) {
			continue
		}
		content, err := r.decryptLocked(m)
		if err != nil {
			r.metrics.IncDecryptFailed()
			r.log.WithFields(logrus.Fields{"id": id, "error": err}).Warn("failed to decrypt message")
			inbox.Failed = append(inbox.Failed, Failure{ID: id, Err: err})
			continue
		}
		inbox.Messages = append(inbox.Messages, Delivered{
			ID:        m.ID,
			From:      m.From,
			To:        m.To,
			Content:   content,
			Timestamp: m.Timestamp,
			Clock:     m.Clock.Copy(),
			Type:      m.Type,
			Priority:  m.Priority,
			Verified:  m.VerifySignature(r.keys),
		})
	}
	inbox.Messages = causalOrder(inbox.Messages)
	return inbox
}

// decryptLocked consults the plaintext cache keyed by the integrity hash,
// which binds the ciphertext.
func (r *Replica) decryptLocked(m message.Message) ([]byte, error) {
	key := m.ID + "/" + m.Hash
	if cached, ok := r.plain.Get(key); ok {
		return copyBytes(cached), nil
	}
	pt, err := r.keys.Decrypt(m.Content)
	if err != nil {
		return nil, err
	}
	r.plain.Add(key, copyBytes(pt))
	return pt, nil
}

// causalOrder is a topological sort over HappensBefore that always emits the
// ready message with the smallest (timestamp, id).
func causalOrder(msgs []Delivered) []Delivered {
	n := len(msgs)
	if n < 2 {
		return msgs
	}
	succ := make([][]int, n)
	indeg := make([]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j && clock.HappensBefore(msgs[i].Clock, msgs[j].Clock) {
				succ[i] = append(succ[i], j)
				indeg[j]++
			}
		}
	}
	ready := &readyQueue{msgs: msgs}
	for i := 0; i < n; i++ {
		if indeg[i] == 0 {
			ready.idx = append(ready.idx, i)
		}
	}
	heap.Init(ready)
	out := make([]Delivered, 0, n)
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		out = append(out, msgs[i])
		for _, j := range succ[i] {
			indeg[j]--
			if indeg[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}
	return out
}

type readyQueue struct {
	msgs []Delivered
	idx  []int
}

func (q *readyQueue) Len() int { return len(q.idx) }

func (q *readyQueue) Less(a, b int) bool {
	ma, mb := q.msgs[q.idx[a]], q.msgs[q.idx[b]]
	if ma.Timestamp != mb.Timestamp {
		return ma.Timestamp < mb.Timestamp
	}
	return ma.ID < mb.ID
}

func (q *readyQueue) Swap(a, b int) { q.idx[a], q.idx[b] = q.idx[b], q.idx[a] }

func (q *readyQueue) Push(x any) { q.idx = append(q.idx, x.(int)) }

func (q *readyQueue) Pop() any {
	last := q.idx[len(q.idx)-1]
	q.idx = q.idx[:len(q.idx)-1]
	return last
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
