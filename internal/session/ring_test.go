package session

import "testing"

func TestRingPushWithinCapacity(t *testing.T) {
	r := NewRing(1024)
	r.Push([]byte("hello"))
	r.Push([]byte(" world"))

	snap := r.Snapshot()
	if string(snap) != "hello world" {
		t.Errorf("Snapshot() = %q, want %q", snap, "hello world")
	}
}

func TestRingTrimsOldestInBulk(t *testing.T) {
	r := NewRing(10)

	r.Push([]byte("0123456789"))
	r.Push([]byte("abcde"))

	snap := r.Snapshot()
	if len(snap) != 10 {
		t.Fatalf("Snapshot() len = %d, want 10", len(snap))
	}
	if string(snap) != "56789abcde" {
		t.Errorf("Snapshot() = %q, want tail-preserving trim", snap)
	}
}

func TestRingSnapshotIsNonDestructive(t *testing.T) {
	r := NewRing(1024)
	r.Push([]byte("persisted"))

	first := r.Snapshot()
	second := r.Snapshot()

	if string(first) != string(second) {
		t.Errorf("two Snapshot() calls diverged: %q vs %q", first, second)
	}
	if r.Len() != len("persisted") {
		t.Errorf("Len() = %d, want %d", r.Len(), len("persisted"))
	}
}

func TestRingSnapshotCopiesData(t *testing.T) {
	r := NewRing(1024)
	r.Push([]byte("abc"))

	snap := r.Snapshot()
	snap[0] = 'z'

	if string(r.Snapshot()) != "abc" {
		t.Error("mutating a Snapshot() result should not affect the ring")
	}
}
