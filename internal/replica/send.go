package replica

import (
	"errors"

	"github.com/sirupsen/logrus"

	"securecrdt/internal/clock"
	"securecrdt/internal/message"
)

// Receipt identifies a locally sent message.
type Receipt struct {
	ID        string      `json:"messageId"`
	Timestamp int64       `json:"timestamp"`
	Clock     clock.Clock `json:"vectorClock"`
}

// Send ticks the local clock, then encrypts, signs, hashes and stores a new
// message for to (an instance id or message.Broadcast). The id is queued as
// pending for the next export.
func (r *Replica) Send(to string, content []byte, opts message.Options) (Receipt, error) {
	if to == "" {
		return Receipt{}, errors.New("missing recipient")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.nowMillis()
	vc := r.clock.Tick(r.id)
	m, err := message.Build(r.keys, r.id, to, content, ts, vc, opts)
	if err != nil {
		// the tick stands; counters never move backwards
		return Receipt{}, err
	}
	r.messages[m.ID] = m
	r.pending = append(r.pending, m.ID)
	r.metrics.IncSent()
	r.log.WithFields(logrus.Fields{"id": m.ID, "to": to}).Debug("message sent")
	return Receipt{ID: m.ID, Timestamp: ts, Clock: vc.Copy()}, nil
}
