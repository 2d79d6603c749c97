package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/john-champagne/easyhack/internal/authframer"
)

// Registry holds every live Session, partitioned into the three populations
// spec.md §2 describes (pending, connected, orphaned) plus a by-userid
// index enforcing invariant 5 (at most one Session per userid in
// CONNECTED∪ORPHANED). All methods are meant to be called only from the
// single supervisor goroutine; none take a lock.
//
// spec.md §4.2 models this as three intrusive doubly-linked lists because
// an iteration that mutates its list mid-traversal is natural on one; Go's
// map deletion during range is well-defined (a concurrent delete of the
// current key is safe), so a map-of-pointers-per-state gets the same
// "free it while iterating" property without hand-rolled list pointers.
// Keys are random uuids, not a monotonically increasing id, and iteration
// order within a state is not defined.
type Registry struct {
	byState  [3]map[uuid.UUID]*Session
	byUserID map[int]*Session // only CONNECTED or ORPHANED sessions
	count    int
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byState: [3]map[uuid.UUID]*Session{
			Pending:   make(map[uuid.UUID]*Session),
			Connected: make(map[uuid.UUID]*Session),
			Orphaned:  make(map[uuid.UUID]*Session),
		},
		byUserID: make(map[int]*Session),
	}
}

// Alloc creates a new Session in the PENDING state and indexes it. It is
// the registry equivalent of spec.md's alloc_client_data(&init_list_head).
func (r *Registry) Alloc() *Session {
	now := time.Now()
	s := &Session{
		ID:           uuid.New(),
		State:        Pending,
		Framer:       authframer.New(),
		CreatedAt:    now,
		PendingSince: now,
	}
	r.byState[Pending][s.ID] = s
	r.count++
	return s
}

// Move transitions s to a new state, updating the by-userid index as
// invariant 5 requires (set on entry to CONNECTED/ORPHANED, cleared on
// leaving both).
func (r *Registry) Move(s *Session, to State) {
	delete(r.byState[s.State], s.ID)
	s.State = to
	r.byState[to][s.ID] = s

	switch to {
	case Connected, Orphaned:
		r.byUserID[s.UserID] = s
	case Pending:
		if s.UserID != 0 {
			delete(r.byUserID, s.UserID)
		}
	}
}

// Free removes s from every index. Callers (subprocess/relay cleanup paths)
// are responsible for closing its descriptors first.
func (r *Registry) Free(s *Session) {
	delete(r.byState[s.State], s.ID)
	if existing, ok := r.byUserID[s.UserID]; ok && existing.ID == s.ID {
		delete(r.byUserID, s.UserID)
	}
	r.count--
}

// Lookup finds a Session by its correlation id regardless of state. The
// supervisor uses this to resolve events that only carry an id, and to
// discriminate a stale event against a Session that has since been freed
// (spec.md §5: "the map yielding none is the discriminant").
func (r *Registry) Lookup(id uuid.UUID) (*Session, bool) {
	for _, state := range []State{Pending, Connected, Orphaned} {
		if s, ok := r.byState[state][id]; ok {
			return s, true
		}
	}
	return nil, false
}

// LookupOrphanByUser implements spec.md §4.3's "is there a disconnected
// game process for this user?" scan, in O(1) instead of server.c's linear
// walk of disconnected_list — a strengthening, not a behavior change (see
// DESIGN.md).
func (r *Registry) LookupOrphanByUser(userID int) (*Session, bool) {
	s, ok := r.byUserID[userID]
	if !ok || s.State != Orphaned {
		return nil, false
	}
	return s, true
}

// ForEach iterates every Session in the given state. fn may call Move/Free
// on the current Session (not others) without corrupting the iteration, the
// property spec.md §4.2 calls out intrusive lists for.
func (r *Registry) ForEach(state State, fn func(*Session)) {
	for _, s := range r.byState[state] {
		fn(s)
	}
}

// Count returns the total number of live sessions across all three states,
// i.e. spec.md's client_count.
func (r *Registry) Count() int { return r.count }

// CountState returns the number of sessions in a single state.
func (r *Registry) CountState(state State) int { return len(r.byState[state]) }

// Snapshot returns a point-in-time summary for the admin dump and audit
// log (SPEC_FULL §6 additions). It copies only non-sensitive fields.
type Snapshot struct {
	ID       string
	State    string
	UserID   int
	PID      int
	BytesIn  uint64
	BytesOut uint64
}

func (r *Registry) Snapshot() []Snapshot {
	out := make([]Snapshot, 0, r.count)
	for _, state := range []State{Pending, Connected, Orphaned} {
		for _, s := range r.byState[state] {
			out = append(out, Snapshot{
				ID:       s.ID.String(),
				State:    state.String(),
				UserID:   s.UserID,
				PID:      s.PID,
				BytesIn:  s.BytesIn,
				BytesOut: s.BytesOut,
			})
		}
	}
	return out
}

func (r *Registry) String() string {
	return fmt.Sprintf("pending=%d connected=%d orphaned=%d",
		r.CountState(Pending), r.CountState(Connected), r.CountState(Orphaned))
}
