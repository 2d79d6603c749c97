// Package session implements the connection-multiplexing supervisor's data
// model: one Session record per (remote connection OR surviving game
// subprocess), the three-list registry that partitions them, and the
// indices the supervisor goroutine uses to dispatch events.
//
// Every exported method here is documented as being called only from the
// single supervisor goroutine (internal/supervisor) — there is
// deliberately no locking, matching spec.md §5: "all Session state is
// owned by that thread and needs no locking."
package session

import (
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/john-champagne/easyhack/internal/authframer"
)

// State mirrors spec.md §3's state ∈ {PENDING, CONNECTED, ORPHANED}.
type State int

const (
	Pending State = iota
	Connected
	Orphaned
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Connected:
		return "connected"
	case Orphaned:
		return "orphaned"
	default:
		return "unknown"
	}
}

// Session is the supervisor's record of one logical user connection,
// possibly detached from its socket. Field names and nil-ability follow
// spec.md §3 exactly: Sock is nil in ORPHANED, PipeIn/PipeOut are nil only
// in PENDING.
type Session struct {
	ID    uuid.UUID // correlation id only — never part of the wire protocol
	State State

	UserID int // 0 until authenticated; stable thereafter
	PID    int // 0 until the child is spawned; 0 again once reaped

	Sock     net.Conn // client-facing stream; nil in ORPHANED
	PipeOut  *os.File // supervisor-write -> child-read
	PipeIn   *os.File // child-write -> supervisor-read

	// Framer accumulates the auth frame while PENDING; spec.md's
	// authbuf/authlen become the authframer.Framer it already owns (C3),
	// rather than duplicating the two primitives here. Nil once the
	// Session leaves PENDING.
	Framer *authframer.Framer

	CreatedAt time.Time
	// PendingSince marks entry into PENDING, for the auth_timeout sweep
	// (SPEC_FULL §6 addition; spec.md itself leaves this case open).
	PendingSince time.Time

	// BytesIn/BytesOut count relayed bytes for the admin dump and audit
	// log (SPEC_FULL additions — not part of any spec.md invariant).
	BytesIn  uint64
	BytesOut uint64
}

// Validate checks invariants 2-4 from spec.md §3 against the Session's
// current field values. It is used by tests, never on the hot path.
func (s *Session) Validate() error {
	switch s.State {
	case Pending:
		if s.PID != 0 || s.PipeIn != nil || s.PipeOut != nil || s.UserID != 0 {
			return errInvariant("PENDING session has pid/pipes/userid set")
		}
		if s.Framer == nil {
			return errInvariant("PENDING session missing framer")
		}
	case Connected:
		if s.Sock == nil || s.PipeIn == nil || s.PipeOut == nil || s.UserID == 0 || s.PID == 0 {
			return errInvariant("CONNECTED session missing sock/pipes/userid/pid")
		}
	case Orphaned:
		if s.Sock != nil || s.PipeIn == nil || s.PipeOut == nil || s.UserID == 0 || s.PID == 0 {
			return errInvariant("ORPHANED session has sock set or missing pipes/userid/pid")
		}
	}
	return nil
}

// ToSnapshot copies this Session's non-sensitive fields for the admin
// surface and audit log (SPEC_FULL §6 additions).
func (s *Session) ToSnapshot() Snapshot {
	return Snapshot{
		ID:       s.ID.String(),
		State:    s.State.String(),
		UserID:   s.UserID,
		PID:      s.PID,
		BytesIn:  s.BytesIn,
		BytesOut: s.BytesOut,
	}
}

type invariantError string

func (e invariantError) Error() string { return string(e) }

func errInvariant(msg string) error { return invariantError(msg) }
