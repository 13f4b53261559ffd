package replica

import (
	"fmt"
	"time"

	"securecrdt/internal/clock"
	"securecrdt/internal/crypto"
)

const (
	Name    = "securecrdt"
	Version = "1.0.0"
)

type EncryptionStatus struct {
	Enabled   bool   `json:"enabled"`
	Algorithm string `json:"algorithm"`
}

type Statistics struct {
	TotalMessages  int `json:"totalMessages"`
	UnreadMessages int `json:"unreadMessages"`
	KnownPeers     int `json:"knownPeers"`
	PendingSync    int `json:"pendingSync"`
}

type Status struct {
	Name        string           `json:"name"`
	Version     string           `json:"version"`
	InstanceID  string           `json:"instanceId"`
	Encryption  EncryptionStatus `json:"encryption"`
	Statistics  Statistics       `json:"statistics"`
	VectorClock clock.Clock      `json:"vectorClock"`
	Peers       []string         `json:"peers"`
	LastSync    int64            `json:"lastSync,omitempty"`
}

type HubReport struct {
	Component string         `json:"component"`
	Timestamp string         `json:"timestamp"`
	Health    string         `json:"health"`
	Summary   string         `json:"summary"`
	Metrics   map[string]int `json:"metrics"`
	Details   Status         `json:"details"`
}

// Status summarises the replica. Unread counts the live messages addressed
// to this instance, without decrypting them.
func (r *Replica) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.nowMillis()
	unread := 0
	for _, m := range r.messages {
		if m.AddressedTo(r.id) && !m.Expired(now) {
			unread++
		}
	}
	active := r.peers.Active()
	ids := make([]string, 0, len(active))
	for _, p := range active {
		ids = append(ids, p.ID)
	}
	return Status{
		Name:       Name,
		Version:    Version,
		InstanceID: r.id,
		Encryption: EncryptionStatus{
			Enabled:   r.keys.CanEncrypt(),
			Algorithm: crypto.Algorithm,
		},
		Statistics: Statistics{
			TotalMessages:  len(r.messages),
			UnreadMessages: unread,
			KnownPeers:     len(active),
			PendingSync:    len(r.pending),
		},
		VectorClock: r.clock.Copy(),
		Peers:       ids,
		LastSync:    r.lastSync,
	}
}

func (r *Replica) HubReport() HubReport {
	st := r.Status()
	health := "IDLE"
	if st.Statistics.TotalMessages > 0 {
		health = "ACTIVE"
	}
	enc := "DISABLED"
	if st.Encryption.Enabled {
		enc = "ENABLED"
	}
	return HubReport{
		Component: Name,
		Timestamp: r.now().UTC().Format(time.RFC3339),
		Health:    health,
		Summary: fmt.Sprintf("Instance: %s. %d messages, %d unread. %d peers. Encryption: %s",
			st.InstanceID, st.Statistics.TotalMessages, st.Statistics.UnreadMessages, st.Statistics.KnownPeers, enc),
		Metrics: map[string]int{
			"messages":    st.Statistics.TotalMessages,
			"unread":      st.Statistics.UnreadMessages,
			"peers":       st.Statistics.KnownPeers,
			"pendingSync": st.Statistics.PendingSync,
		},
		Details: st,
	}
}
