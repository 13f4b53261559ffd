package peer

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Entry is the latest add observed for a peer.
type Entry struct {
	Timestamp int64             `json:"timestamp"`
	Data      map[string]string `json:"data,omitempty"`
}

// Peer is an active member of the registry.
type Peer struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata,omitempty"`
	AddedAt  int64             `json:"addedAt"`
}

// Registry is an observed-remove set of peer ids keyed by millisecond
// timestamps. A peer is present iff its add timestamp is strictly greater
// than its remove timestamp; ties go to the removal. History is never
// collected.
type Registry struct {
	Added   map[string]Entry `json:"added"`
	Removed map[string]int64 `json:"removed"`
}

func NewRegistry() Registry {
	return Registry{
		Added:   make(map[string]Entry),
		Removed: make(map[string]int64),
	}
}

func (r *Registry) ensure() {
	if r.Added == nil {
		r.Added = make(map[string]Entry)
	}
	if r.Removed == nil {
		r.Removed = make(map[string]int64)
	}
}

// Add records an add of id at timestamp at, overwriting the previous add.
func (r *Registry) Add(id string, meta map[string]string, at int64) {
	r.ensure()
	r.Added[id] = Entry{Timestamp: at, Data: copyMeta(meta)}
}

// Remove records a removal of id at timestamp at.
func (r *Registry) Remove(id string, at int64) {
	r.ensure()
	r.Removed[id] = at
}

// Has reports whether id is currently present.
func (r Registry) Has(id string) bool {
	add, ok := r.Added[id]
	if !ok {
		return false
	}
	return add.Timestamp > r.Removed[id]
}

// Active returns present peers sorted by id.
func (r Registry) Active() []Peer {
	out := make([]Peer, 0, len(r.Added))
	for id, add := range r.Added {
		if add.Timestamp <= r.Removed[id] {
			continue
		}
		out = append(out, Peer{ID: id, Metadata: copyMeta(add.Data), AddedAt: add.Timestamp})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Copy returns a deep copy.
func (r Registry) Copy() Registry {
	out := NewRegistry()
	for id, e := range r.Added {
		out.Added[id] = Entry{Timestamp: e.Timestamp, Data: copyMeta(e.Data)}
	}
	for id, ts := range r.Removed {
		out.Removed[id] = ts
	}
	return out
}

// Merge keeps, per id, the later add and the later remove of both sides.
// Equal add timestamps with different metadata resolve to the larger
// canonical encoding so the result does not depend on argument order.
func Merge(local, remote Registry) Registry {
	out := local.Copy()
	for id, e := range remote.Added {
		cur, ok := out.Added[id]
		if !ok || e.Timestamp > cur.Timestamp ||
			(e.Timestamp == cur.Timestamp && bytes.Compare(canonical(e.Data), canonical(cur.Data)) > 0) {
			out.Added[id] = Entry{Timestamp: e.Timestamp, Data: copyMeta(e.Data)}
		}
	}
	for id, ts := range remote.Removed {
		if cur, ok := out.Removed[id]; !ok || ts > cur {
			out.Removed[id] = ts
		}
	}
	return out
}

// LastChange returns the largest timestamp recorded for id in either map.
func (r Registry) LastChange(id string) int64 {
	last := r.Removed[id]
	if add, ok := r.Added[id]; ok && add.Timestamp > last {
		last = add.Timestamp
	}
	return last
}

func canonical(meta map[string]string) []byte {
	if len(meta) == 0 {
		return nil
	}
	// map keys are sorted by encoding/json
	b, _ := json.Marshal(meta)
	return b
}

func copyMeta(meta map[string]string) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
