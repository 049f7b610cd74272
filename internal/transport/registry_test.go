package transport

import "testing"

func TestRegistryReplaceOnRegister(t *testing.T) {
	r := NewRegistry[func() string]()
	if r.Register("a", func() string { return "first" }) {
		t.Error("first register reported replacement")
	}
	if !r.Register("a", func() string { return "second" }) {
		t.Error("second register did not report replacement")
	}
	if r.Len() != 1 {
		t.Fatalf("len = %d, want 1", r.Len())
	}
	if got := r.Snapshot()[0](); got != "second" {
		t.Errorf("slot holds %q, want second", got)
	}
}

func TestRegistrySnapshotOrderedByKey(t *testing.T) {
	r := NewRegistry[string]()
	r.Register("b", "B")
	r.Register("a", "A")
	r.Register("c", "C")
	r.Unregister("c")
	r.Unregister("missing")

	got := r.Snapshot()
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("snapshot = %v, want [A B]", got)
	}
}
