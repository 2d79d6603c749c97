package supervisor

import (
	"net"

	"github.com/google/uuid"

	"github.com/john-champagne/easyhack/internal/config"
	"github.com/john-champagne/easyhack/internal/session"
)

// event is the single type every producer (accept loop, per-session
// readers, reap goroutines, auth calls, timers, shutdown) sends on the
// supervisor's one event channel (spec.md §4.6's epoll_wait translated to
// a Go select over a chan event).
type event interface{ isEvent() }

type evAccept struct{ conn net.Conn }

func (evAccept) isEvent() {}

// evAuthData carries the complete credential frame a still-PENDING
// session's framer has accumulated.
type evAuthData struct {
	id   uuid.UUID
	data []byte
}

func (evAuthData) isEvent() {}

// evAuthOverflow/evSocketClosed report a PENDING reader goroutine's
// terminal outcome before a frame completed. evSocketClosed is also posted
// by a CONNECTED session's ingress pump and by the drain that follows a
// pipe close.
type evAuthOverflow struct{ id uuid.UUID }

func (evAuthOverflow) isEvent() {}

type evSocketClosed struct {
	id   uuid.UUID
	conn net.Conn // identity check: ignore if session has since re-attached a different conn
}

func (evSocketClosed) isEvent() {}

// evAuthResult is posted once the (possibly slow) Authenticator call
// returns, from its own goroutine.
type evAuthResult struct {
	id     uuid.UUID
	userid int
	err    error
}

func (evAuthResult) isEvent() {}

// evChildExited is posted by a subprocess's reap goroutine.
type evChildExited struct {
	id  uuid.UUID
	pid int
	err error
}

func (evChildExited) isEvent() {}

// evPipeClosed is posted by a Session's Egress pump when pipe_in closes.
type evPipeClosed struct{ id uuid.UUID }

func (evPipeClosed) isEvent() {}

// evShutdownRequested is posted by RequestShutdown (the signal watcher or
// the admin shutdown route); repeats after the first are ignored.
type evShutdownRequested struct{}

func (evShutdownRequested) isEvent() {}

// evSnapshotRequest lets a non-event-loop goroutine (the admin HTTP
// surface) read the registry without racing the event loop's writes — the
// registry's own doc comment is explicit that none of its methods take a
// lock, so every read crosses back through this channel same as a write.
type evSnapshotRequest struct {
	reply chan []session.Snapshot
}

func (evSnapshotRequest) isEvent() {}

// evAdminKick forces one session's cleanup for the admin "kick" operation
// (SPEC_FULL §6, C12). destroySession must only run on the supervisor
// goroutine, so this crosses back onto the event channel the same way
// evSnapshotRequest does.
type evAdminKick struct {
	id    uuid.UUID
	reply chan bool
}

func (evAdminKick) isEvent() {}

// evConfigReload carries a hot-reloaded config.Reloadable onto the event
// loop so the fields it touches (idle ticker interval, shutdown grace,
// admin secret) are only ever mutated by the single goroutine that reads
// them — matching Registry's single-owner rule applied to cfg.
type evConfigReload struct {
	r config.Reloadable
}

func (evConfigReload) isEvent() {}
