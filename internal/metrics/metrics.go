package metrics

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// MergeHeader summarises one ingested snapshot.
type MergeHeader struct {
	ExportedBy string    `json:"exported_by"`
	ExportID   string    `json:"export_id,omitempty"`
	Accepted   int       `json:"accepted"`
	Rejected   int       `json:"rejected"`
	Expired    int       `json:"expired"`
	At         time.Time `json:"at"`
}

type Snapshot struct {
	GeneratedAt    time.Time         `json:"generated_at"`
	Messages       MessageMetrics    `json:"messages"`
	Snapshots      SnapshotMetrics   `json:"snapshots"`
	Sync           SyncMetrics       `json:"sync"`
	DropByReason   map[string]uint64 `json:"drop_by_reason"`
	CurrentConns   int64             `json:"current_conns"`
	CurrentStreams int64             `json:"current_streams"`
	Recent         []MergeHeader     `json:"recent"`
}

type MessageMetrics struct {
	Sent          uint64 `json:"sent"`
	Accepted      uint64 `json:"accepted"`
	DropIntegrity uint64 `json:"drop_integrity"`
	DecryptFailed uint64 `json:"decrypt_failed"`
	Expired       uint64 `json:"expired"`
}

type SnapshotMetrics struct {
	Exported  uint64 `json:"exported"`
	Imported  uint64 `json:"imported"`
	Duplicate uint64 `json:"duplicate"`
	Malformed uint64 `json:"malformed"`
}

type SyncMetrics struct {
	Rounds uint64 `json:"rounds"`
	Errors uint64 `json:"errors"`
}

type Metrics struct {
	sent           atomic.Uint64
	accepted       atomic.Uint64
	dropIntegrity  atomic.Uint64
	decryptFailed  atomic.Uint64
	expired        atomic.Uint64
	exported       atomic.Uint64
	imported       atomic.Uint64
	duplicate      atomic.Uint64
	malformed      atomic.Uint64
	syncRounds     atomic.Uint64
	syncErrors     atomic.Uint64
	currentConns   atomic.Int64
	currentStreams atomic.Int64
	dropMu         sync.Mutex
	dropByReason   map[string]uint64
	recent         *MergeRecent
}

func New() *Metrics {
	return &Metrics{recent: NewMergeRecent(64), dropByReason: make(map[string]uint64)}
}

func (m *Metrics) Recent() *MergeRecent {
	return m.recent
}

func (m *Metrics) IncSent() {
	m.sent.Add(1)
}

func (m *Metrics) AddAccepted(n int) {
	m.accepted.Add(uint64(n))
}

func (m *Metrics) AddDropIntegrity(n int) {
	m.dropIntegrity.Add(uint64(n))
}

func (m *Metrics) IncDecryptFailed() {
	m.decryptFailed.Add(1)
}

func (m *Metrics) AddExpired(n int) {
	m.expired.Add(uint64(n))
}

func (m *Metrics) IncExported() {
	m.exported.Add(1)
}

func (m *Metrics) IncImported() {
	m.imported.Add(1)
}

func (m *Metrics) IncDuplicate() {
	m.duplicate.Add(1)
}

func (m *Metrics) IncMalformed() {
	m.malformed.Add(1)
}

func (m *Metrics) IncSyncRound() {
	m.syncRounds.Add(1)
}

func (m *Metrics) IncSyncError() {
	m.syncErrors.Add(1)
}

func (m *Metrics) IncDropByReason(reason string) {
	if reason == "" {
		return
	}
	m.dropMu.Lock()
	m.dropByReason[reason]++
	m.dropMu.Unlock()
}

func (m *Metrics) SetCurrentConns(n int64) {
	m.currentConns.Store(n)
}

func (m *Metrics) AddCurrentConns(delta int64) {
	m.currentConns.Add(delta)
}

func (m *Metrics) SetCurrentStreams(n int64) {
	m.currentStreams.Store(n)
}

func (m *Metrics) AddCurrentStreams(delta int64) {
	m.currentStreams.Add(delta)
}

func (m *Metrics) Snapshot() Snapshot {
	recent := []MergeHeader{}
	if m.recent != nil {
		recent = m.recent.List()
	}
	m.dropMu.Lock()
	drops := make(map[string]uint64, len(m.dropByReason))
	for k, v := range m.dropByReason {
		drops[k] = v
	}
	m.dropMu.Unlock()
	return Snapshot{
		GeneratedAt: time.Now().UTC(),
		Messages: MessageMetrics{
			Sent:          m.sent.Load(),
			Accepted:      m.accepted.Load(),
			DropIntegrity: m.dropIntegrity.Load(),
			DecryptFailed: m.decryptFailed.Load(),
			Expired:       m.expired.Load(),
		},
		Snapshots: SnapshotMetrics{
			Exported:  m.exported.Load(),
			Imported:  m.imported.Load(),
			Duplicate: m.duplicate.Load(),
			Malformed: m.malformed.Load(),
		},
		Sync: SyncMetrics{
			Rounds: m.syncRounds.Load(),
			Errors: m.syncErrors.Load(),
		},
		DropByReason:   drops,
		CurrentConns:   m.currentConns.Load(),
		CurrentStreams: m.currentStreams.Load(),
		Recent:         recent,
	}
}

func (m *Metrics) WriteSnapshot(path string) error {
	if path == "" {
		return nil
	}
	snap := m.Snapshot()
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

type MergeRecent struct {
	mu   sync.Mutex
	cap  int
	list []MergeHeader
}

func NewMergeRecent(capacity int) *MergeRecent {
	if capacity <= 0 {
		capacity = 64
	}
	return &MergeRecent{cap: capacity}
}

func (r *MergeRecent) Add(h MergeHeader) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) >= r.cap {
		copy(r.list, r.list[1:])
		r.list[len(r.list)-1] = h
		return
	}
	r.list = append(r.list, h)
}

func (r *MergeRecent) List() []MergeHeader {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MergeHeader, len(r.list))
	copy(out, r.list)
	return out
}
