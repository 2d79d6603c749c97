package session

import (
	"os"
	"testing"
)

func TestAllocStartsPending(t *testing.T) {
	r := New()
	s := r.Alloc()
	if s.State != Pending {
		t.Fatalf("new session state = %v, want Pending", s.State)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
	if r.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", r.Count())
	}
}

func TestMoveUpdatesUserIndex(t *testing.T) {
	r := New()
	s := r.Alloc()
	s.UserID = 7
	s.PID = 1234
	s.PipeIn, s.PipeOut = dummyFiles()
	s.Sock = nil
	r.Move(s, Orphaned)

	if r.CountState(Pending) != 0 || r.CountState(Orphaned) != 1 {
		t.Fatalf("unexpected state counts: %s", r)
	}
	found, ok := r.LookupOrphanByUser(7)
	if !ok || found.ID != s.ID {
		t.Fatalf("LookupOrphanByUser(7) = %v, %v; want s, true", found, ok)
	}
}

func TestFreeRemovesFromAllIndices(t *testing.T) {
	r := New()
	s := r.Alloc()
	s.UserID = 3
	r.Move(s, Connected)
	r.Free(s)

	if r.Count() != 0 {
		t.Fatalf("Count() = %d, want 0 after Free", r.Count())
	}
	if _, ok := r.LookupOrphanByUser(3); ok {
		t.Fatalf("freed session still reachable by userid")
	}
}

// TestReconnectIdempotence exercises spec.md §8's reconnect law directly on
// the registry: merging a pending session into an orphan keeps the
// orphan's pid and frees the pending record.
func TestReconnectIdempotence(t *testing.T) {
	r := New()
	orphan := r.Alloc()
	orphan.UserID = 42
	orphan.PID = 999
	orphan.PipeIn, orphan.PipeOut = dummyFiles()
	r.Move(orphan, Connected)
	r.Move(orphan, Orphaned)

	pending := r.Alloc()
	pending.UserID = 42

	found, ok := r.LookupOrphanByUser(pending.UserID)
	if !ok {
		t.Fatal("expected an orphan for userid 42")
	}
	if found.PID != 999 {
		t.Fatalf("merge target pid = %d, want 999", found.PID)
	}
	r.Free(pending)
	if r.CountState(Pending) != 0 {
		t.Fatalf("pending session not freed after merge")
	}
}

// dummyFiles returns a real pipe's two ends for tests that only need
// non-nil *os.File values to satisfy the CONNECTED/ORPHANED invariants.
func dummyFiles() (a, b *os.File) {
	r, w, err := os.Pipe()
	if err != nil {
		panic(err)
	}
	return r, w
}
