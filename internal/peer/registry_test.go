package peer_test

import (
	"reflect"
	"testing"

	"securecrdt/internal/peer"
)

func TestRegistryAddRemove(t *testing.T) {
	r := peer.NewRegistry()
	r.Add("Cloud", map[string]string{"type": "cloud_cli"}, 100)
	r.Add("C1", nil, 100)
	if !r.Has("Cloud") || !r.Has("C1") {
		t.Fatalf("expected both peers present")
	}
	r.Remove("C1", 150)
	if r.Has("C1") {
		t.Fatalf("expected C1 removed")
	}
	active := r.Active()
	if len(active) != 1 || active[0].ID != "Cloud" {
		t.Fatalf("unexpected active set: %+v", active)
	}
	if active[0].Metadata["type"] != "cloud_cli" || active[0].AddedAt != 100 {
		t.Fatalf("metadata lost: %+v", active[0])
	}
}

func TestRegistryRemoveWinsTies(t *testing.T) {
	r := peer.NewRegistry()
	r.Add("P", nil, 100)
	r.Remove("P", 100)
	if r.Has("P") {
		t.Fatalf("remove must win an equal timestamp")
	}
}

func TestRegistryActiveSorted(t *testing.T) {
	r := peer.NewRegistry()
	for _, id := range []string{"delta", "alpha", "charlie", "bravo"} {
		r.Add(id, nil, 10)
	}
	first := r.Active()
	second := r.Active()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("active listing not deterministic")
	}
	want := []string{"alpha", "bravo", "charlie", "delta"}
	for i, p := range first {
		if p.ID != want[i] {
			t.Fatalf("position %d: got %s want %s", i, p.ID, want[i])
		}
	}
}

func TestRegistryMergeConcurrentReAdd(t *testing.T) {
	a := peer.NewRegistry()
	a.Add("P", nil, 100)
	a.Remove("P", 200)

	b := peer.NewRegistry()
	b.Add("P", nil, 150)

	merged := peer.Merge(a, b)
	if merged.Has("P") {
		t.Fatalf("removal at 200 must beat add at 150")
	}
	if merged.Added["P"].Timestamp != 150 || merged.Removed["P"] != 200 {
		t.Fatalf("unexpected merged state: %+v", merged)
	}

	c := peer.NewRegistry()
	c.Add("P", nil, 250)
	if !peer.Merge(merged, c).Has("P") {
		t.Fatalf("add at 250 must beat removal at 200")
	}
}

func TestRegistryMergeLaws(t *testing.T) {
	a := peer.NewRegistry()
	a.Add("X", map[string]string{"v": "a"}, 10)
	a.Remove("Y", 5)
	b := peer.NewRegistry()
	b.Add("X", map[string]string{"v": "b"}, 10)
	b.Add("Y", nil, 7)
	c := peer.NewRegistry()
	c.Remove("X", 11)
	c.Add("Z", nil, 1)

	if !reflect.DeepEqual(peer.Merge(a, b), peer.Merge(b, a)) {
		t.Fatalf("merge not commutative")
	}
	if !reflect.DeepEqual(peer.Merge(peer.Merge(a, b), c), peer.Merge(a, peer.Merge(b, c))) {
		t.Fatalf("merge not associative")
	}
	ab := peer.Merge(a, b)
	if !reflect.DeepEqual(peer.Merge(ab, ab), ab) {
		t.Fatalf("merge not idempotent")
	}
}

func TestRegistryMergeDoesNotAlias(t *testing.T) {
	a := peer.NewRegistry()
	b := peer.NewRegistry()
	b.Add("X", map[string]string{"k": "v"}, 1)
	merged := peer.Merge(a, b)
	merged.Added["X"].Data["k"] = "changed"
	if b.Added["X"].Data["k"] != "v" {
		t.Fatalf("merge result aliases the remote registry")
	}
	if len(a.Added) != 0 {
		t.Fatalf("merge mutated local registry")
	}
}

func TestRegistryZeroValue(t *testing.T) {
	var r peer.Registry
	r.Add("P", nil, 1)
	if !r.Has("P") {
		t.Fatalf("zero registry must accept adds")
	}
	if r.LastChange("P") != 1 {
		t.Fatalf("unexpected last change")
	}
}
