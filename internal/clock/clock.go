// Package clock implements vector clocks: per-instance logical counters with
// pointwise-max merge and a happens-before partial order.
package clock

import (
	"fmt"
	"sort"
	"strings"
)

// Clock maps an instance id to its counter. Absent entries read as zero.
type Clock map[string]uint64

func New() Clock {
	return make(Clock)
}

// Copy returns an independent copy. The copy of a nil clock is empty, not nil.
func (c Clock) Copy() Clock {
	out := make(Clock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Tick increments id's own counter by one and returns a copy of the result.
// Only the owning instance may tick its entry.
func (c Clock) Tick(id string) Clock {
	c[id]++
	return c.Copy()
}

// Get returns the counter for id, zero when absent.
func (c Clock) Get(id string) uint64 {
	return c[id]
}

// Merge returns the pointwise max of a and b over the union of their keys.
func Merge(a, b Clock) Clock {
	out := a.Copy()
	for k, v := range b {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

// MergeInto folds b into c in place.
func (c Clock) MergeInto(b Clock) {
	for k, v := range b {
		if v > c[k] {
			c[k] = v
		}
	}
}

// HappensBefore reports whether every component of a is <= the matching
// component of b and at least one is strictly less.
func HappensBefore(a, b Clock) bool {
	less := false
	for k, av := range a {
		bv := b[k]
		if av > bv {
			return false
		}
		if av < bv {
			less = true
		}
	}
	if less {
		return true
	}
	for k, bv := range b {
		if _, ok := a[k]; !ok && bv > 0 {
			return true
		}
	}
	return false
}

// Concurrent reports that neither clock happens before the other and they
// are not equal.
func Concurrent(a, b Clock) bool {
	return !HappensBefore(a, b) && !HappensBefore(b, a) && !Equal(a, b)
}

// Equal compares clocks treating absent entries as zero.
func Equal(a, b Clock) bool {
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	for k, v := range b {
		if a[k] != v {
			return false
		}
	}
	return true
}

// String renders the clock with sorted keys, e.g. {A:1 B:3}.
func (c Clock) String() string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s:%d", k, c[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
