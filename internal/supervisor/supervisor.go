// Package supervisor implements C6: the single goroutine that owns the
// Session registry and serializes every state transition by reading one
// event channel — the Go translation of server.c's epoll_wait loop
// (spec.md §4.6, §5).
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/john-champagne/easyhack/internal/auth"
	"github.com/john-champagne/easyhack/internal/config"
	"github.com/john-champagne/easyhack/internal/listener"
	"github.com/john-champagne/easyhack/internal/logger"
	"github.com/john-champagne/easyhack/internal/relay"
	"github.com/john-champagne/easyhack/internal/session"
	"github.com/john-champagne/easyhack/internal/subprocess"
	"github.com/john-champagne/easyhack/internal/vtsnapshot"
)

// Hook observes session lifecycle transitions. internal/audit and
// internal/admin both implement it without this package needing to import
// either — matching spec.md's "game logic is an external collaborator"
// pattern applied to observability instead of gameplay.
type Hook interface {
	SessionEvent(kind string, s session.Snapshot)
}

// secretSetter lets onConfigReload push a reloaded admin JWT secret to
// whichever hook has one (internal/admin.Server), without this package
// importing that one.
type secretSetter interface {
	SetSecret(secret []byte)
}

// Supervisor is the coordinating task spec.md §5 describes: it owns
// Registry and is the only goroutine that ever mutates a Session.
type Supervisor struct {
	cfg       *config.Config
	reg       *session.Registry
	authN     auth.Authenticator
	spawner   *subprocess.Spawner
	listeners *listener.Set
	hooks     []Hook

	events chan event

	egresses map[uuid.UUID]*relay.Egress
	vterms   map[uuid.UUID]*vtsnapshot.VTerm

	shuttingDown     bool
	shutdownDeadline time.Time

	idleTicker *time.Ticker

	// authTimeoutNS mirrors cfg.AuthTimeout but is read from onAuthData's
	// spawned per-connection goroutine, not just the event loop, so a hot
	// reload (SPEC_FULL §6) must update it atomically rather than through a
	// plain field on cfg.
	authTimeoutNS atomic.Int64
}

// New builds a Supervisor. Run must be called to actually process events.
func New(cfg *config.Config, authN auth.Authenticator, spawner *subprocess.Spawner, listeners *listener.Set, hooks ...Hook) *Supervisor {
	s := &Supervisor{
		cfg:       cfg,
		reg:       session.New(),
		authN:     authN,
		spawner:   spawner,
		listeners: listeners,
		hooks:     hooks,
		events:    make(chan event, 256),
		egresses:  make(map[uuid.UUID]*relay.Egress),
		vterms:    make(map[uuid.UUID]*vtsnapshot.VTerm),
	}
	s.authTimeoutNS.Store(int64(cfg.AuthTimeout))
	return s
}

// authTimeout returns the current auth timeout, safe to call from any
// goroutine (see authTimeoutNS).
func (s *Supervisor) authTimeout() time.Duration {
	return time.Duration(s.authTimeoutNS.Load())
}

// RequestShutdown is the only thing the signal handler is allowed to do —
// spec.md §5's async-signal-safe boundary: "the handler does nothing but
// send on a channel."
func (s *Supervisor) RequestShutdown() {
	select {
	case s.events <- evShutdownRequested{}:
	default:
	}
}

// Snapshot exposes the registry for the admin surface (C12). It crosses
// back onto the event loop via evSnapshotRequest rather than calling
// reg.Snapshot directly, since Registry's methods take no lock and assume
// a single caller — this is safe to call from any goroutine, including a
// concurrent admin HTTP request.
func (s *Supervisor) Snapshot() []session.Snapshot {
	reply := make(chan []session.Snapshot, 1)
	select {
	case s.events <- evSnapshotRequest{reply: reply}:
	case <-time.After(5 * time.Second):
		return nil
	}
	select {
	case snaps := <-reply:
		return snaps
	case <-time.After(5 * time.Second):
		return nil
	}
}

// Kick forces cleanup of the session identified by id, for the admin
// "kick" operation (SPEC_FULL §6, C12). Like Snapshot, it crosses back onto
// the event loop since destroySession may only run on the supervisor
// goroutine. Reports whether a matching session was found.
func (s *Supervisor) Kick(id string) bool {
	sessID, err := uuid.Parse(id)
	if err != nil {
		return false
	}
	reply := make(chan bool, 1)
	select {
	case s.events <- evAdminKick{id: sessID, reply: reply}:
	case <-time.After(5 * time.Second):
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-time.After(5 * time.Second):
		return false
	}
}

// ApplyReload pushes a hot-reloaded config.Reloadable onto the event loop
// (SPEC_FULL §6: idle/auth timeouts, shutdown grace, and the admin secret
// may all change live). The send is best-effort, matching RequestShutdown —
// a full event channel means a reload is reapplied on the watcher's next
// fsnotify event rather than blocking the caller.
func (s *Supervisor) ApplyReload(r config.Reloadable) {
	s.authTimeoutNS.Store(int64(r.AuthTimeout))
	select {
	case s.events <- evConfigReload{r: r}:
	default:
	}
}

// AddHook registers an additional Hook. Must be called before Run starts —
// it exists for hooks like internal/admin that need a *Supervisor (to
// satisfy admin.SnapshotSource) before one can be constructed via New.
func (s *Supervisor) AddHook(h Hook) {
	s.hooks = append(s.hooks, h)
}

// Run is the event loop. It blocks until ctx is canceled or the shutdown
// sequence completes, then returns the accept goroutine's result, which is
// always nil.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.acceptLoop(gctx) })

	idle := time.NewTicker(s.cfg.IdleMarkInterval)
	defer idle.Stop()
	s.idleTicker = idle

	authCheck := time.NewTicker(time.Second)
	defer authCheck.Stop()

	var shutdownTimer *time.Timer
	for {
		var shutdownC <-chan time.Time
		if shutdownTimer != nil {
			shutdownC = shutdownTimer.C
		}

		select {
		case <-ctx.Done():
			s.teardownAll()
			return g.Wait()

		case ev := <-s.events:
			s.dispatch(ev)
			if s.shuttingDown && shutdownTimer == nil {
				grace := time.Until(s.shutdownDeadline)
				if grace < 0 {
					grace = 0
				}
				shutdownTimer = time.NewTimer(grace)
			}
			if s.shuttingDown && s.reg.Count() == 0 {
				s.teardownAll()
				return g.Wait()
			}

		case <-idle.C:
			logger.Info("supervisor: idle mark", "sessions", s.reg.Count(),
				"pending", s.reg.CountState(session.Pending),
				"connected", s.reg.CountState(session.Connected),
				"orphaned", s.reg.CountState(session.Orphaned))

		case <-authCheck.C:
			s.sweepAuthTimeouts()

		case <-shutdownC:
			s.teardownAll()
			return g.Wait()
		}
	}
}

// acceptLoop feeds evAccept events from the listener set. It is the one
// producer goroutine started directly by Run, per spec.md §4.1/§4.6.
func (s *Supervisor) acceptLoop(ctx context.Context) error {
	for {
		conn, err := s.listeners.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("supervisor: accept error", "error", err)
			continue
		}
		select {
		case s.events <- evAccept{conn: conn}:
		case <-ctx.Done():
			conn.Close()
			return nil
		}
	}
}

func (s *Supervisor) dispatch(ev event) {
	switch e := ev.(type) {
	case evAccept:
		s.onAccept(e.conn)
	case evAuthData:
		s.onAuthData(e)
	case evAuthOverflow:
		s.onAuthOverflow(e.id)
	case evSocketClosed:
		s.onSocketClosed(e)
	case evAuthResult:
		s.onAuthResult(e)
	case evChildExited:
		s.onChildExited(e)
	case evPipeClosed:
		s.onPipeClosed(e)
	case evShutdownRequested:
		s.onShutdownRequested()
	case evSnapshotRequest:
		e.reply <- s.reg.Snapshot()
	case evAdminKick:
		s.onAdminKick(e)
	case evConfigReload:
		s.onConfigReload(e)
	default:
		logger.Warn("supervisor: unknown event", "type", fmt.Sprintf("%T", ev))
	}
}

func (s *Supervisor) fire(kind string, sess *session.Session) {
	if sess == nil {
		return
	}
	snap := sess.ToSnapshot()
	for _, h := range s.hooks {
		h.SessionEvent(kind, snap)
	}
}
