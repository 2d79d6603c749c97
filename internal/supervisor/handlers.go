package supervisor

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/john-champagne/easyhack/internal/authframer"
	"github.com/john-champagne/easyhack/internal/logger"
	"github.com/john-champagne/easyhack/internal/relay"
	"github.com/john-champagne/easyhack/internal/session"
	"github.com/john-champagne/easyhack/internal/subprocess"
	"github.com/john-champagne/easyhack/internal/vtsnapshot"
)

// onAccept handles a new connection: alloc a PENDING Session and start its
// socket reader goroutine, which owns reading until a complete auth frame
// (or overflow, or disconnect) — spec.md §4.3/§4.6 PENDING handling.
func (s *Supervisor) onAccept(conn net.Conn) {
	sess := s.reg.Alloc()
	sess.Sock = conn

	go pendingReader(sess.ID, conn, sess.Framer, s.events)
}

// pendingReader loops Read->Feed until the frame completes, overflows, or
// the socket errors, posting exactly one event: evAuthData with the complete
// frame, evAuthOverflow, or evSocketClosed. It never touches Session state directly
// (Framer.Feed is the only Session-owned field it mutates, and it is the
// sole owner of that Framer for as long as this goroutine runs).
func pendingReader(id uuid.UUID, conn net.Conn, framer *authframer.Framer, events chan<- event) {
	buf := make([]byte, 512)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			events <- evSocketClosed{id: id, conn: conn}
			return
		}
		chunk := make([]byte, n)
		copy(chunk, buf[:n])

		switch framer.Feed(chunk) {
		case authframer.Ready:
			events <- evAuthData{id: id, data: framer.Bytes()}
			return
		case authframer.Overflow:
			logger.Warn("supervisor: auth frame overflow", "peer", conn.RemoteAddr())
			events <- evAuthOverflow{id: id}
			return
		case authframer.NeedMore:
			// loop for more bytes
		}
	}
}

// onAuthData fires once a PENDING session's frame is complete. The actual
// Authenticate call runs in its own goroutine so a slow/blocking
// credential check never stalls the supervisor (SPEC_FULL §4.6).
func (s *Supervisor) onAuthData(e evAuthData) {
	if _, ok := s.reg.Lookup(e.id); !ok {
		return // freed before the frame completed
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.authTimeout())
		defer cancel()
		userid, err := s.authN.Authenticate(ctx, e.data)
		s.events <- evAuthResult{id: e.id, userid: userid, err: err}
	}()
}

func (s *Supervisor) onAuthOverflow(id uuid.UUID) {
	sess, ok := s.reg.Lookup(id)
	if !ok {
		return
	}
	s.cleanupPending(sess)
}

// onSocketClosed fans out to both PENDING-socket-died and
// CONNECTED-client-disconnected handling, disambiguated by the Session's
// current state (and, for CONNECTED, by the conn identity check that
// drops a stale event for an already-reattached Session).
func (s *Supervisor) onSocketClosed(e evSocketClosed) {
	sess, ok := s.reg.Lookup(e.id)
	if !ok {
		return
	}

	switch sess.State {
	case session.Pending:
		s.cleanupPending(sess)

	case session.Connected:
		if sess.Sock != e.conn {
			return // stale: session has already reattached a new socket
		}
		sess.Sock = nil
		if eg, ok := s.egresses[sess.ID]; ok {
			eg.SetSink(nil)
		}
		s.reg.Move(sess, session.Orphaned)
		s.fire("orphaned", sess)
		logger.Info("supervisor: session orphaned", "userid", sess.UserID, "pid", sess.PID)

	case session.Orphaned:
		// Nothing to do: no socket to lose while already orphaned.
	}
}

func (s *Supervisor) onAuthResult(e evAuthResult) {
	sess, ok := s.reg.Lookup(e.id)
	if !ok {
		return // freed (e.g. socket died) while Authenticate was in flight
	}

	if e.err != nil || e.userid == 0 {
		s.rejectAuth(sess)
		return
	}

	sess.UserID = e.userid

	if orphan, found := s.reg.LookupOrphanByUser(e.userid); found {
		s.mergeIntoOrphan(sess, orphan)
		return
	}
	s.spawnForSession(sess)
}

// rejectAuth implements spec.md's AUTH_FAILED path: write the sentinel,
// then drain-and-wait for the peer to disconnect rather than closing the
// socket out from under still-in-flight bytes.
func (s *Supervisor) rejectAuth(sess *session.Session) {
	conn := sess.Sock
	writeSentinel(conn, AuthFailed)
	s.reg.Free(sess)
	go relay.DrainAndWaitClose(conn, func() { conn.Close() })
}

// mergeIntoOrphan implements spec.md's reconnect law: the new socket takes
// over the existing pid/pipes, the PENDING record is discarded, and the
// orphan interval's buffered child output is never replayed verbatim —
// only a derived VTerm snapshot is, if enabled.
func (s *Supervisor) mergeIntoOrphan(pending, orphan *session.Session) {
	conn := pending.Sock
	orphan.Sock = conn
	s.reg.Free(pending)
	s.reg.Move(orphan, session.Connected)

	if eg, ok := s.egresses[orphan.ID]; ok {
		eg.SetSink(conn)
	}

	writeSentinel(conn, AuthSuccessReconnect)
	if vt, ok := s.vterms[orphan.ID]; ok {
		writeAll(conn, vt.Snapshot())
	}

	ing := relay.NewIngress(conn, orphan.PipeOut)
	go ing.Run(func(n uint64, err error) {
		orphan.BytesIn += n
		s.events <- evSocketClosed{id: orphan.ID, conn: conn}
	})

	s.fire("reconnected", orphan)
	logger.Info("supervisor: session reconnected", "userid", orphan.UserID, "pid", orphan.PID)
}

// spawnForSession implements spec.md's new-connection path: spawn the
// child, wire pipes, move PENDING -> CONNECTED, start ingress+egress.
func (s *Supervisor) spawnForSession(sess *session.Session) {
	conn := sess.Sock
	handle, err := s.spawner.Spawn(context.Background(), sess.UserID, func(pid int, err error) {
		s.events <- evChildExited{id: sess.ID, pid: pid, err: err}
	})
	if err != nil {
		logger.Warn("supervisor: spawn failed", "userid", sess.UserID, "error", err)
		writeSentinel(conn, AuthFailed)
		s.reg.Free(sess)
		conn.Close()
		return
	}

	sess.PID = handle.PID
	sess.PipeOut = handle.PipeOut
	sess.PipeIn = handle.PipeIn
	s.reg.Move(sess, session.Connected)
	sess.Framer = nil

	eg := relay.NewEgress()
	eg.SetSink(conn)
	s.egresses[sess.ID] = eg

	if s.cfg.VTSnapshot {
		s.vterms[sess.ID] = vtsnapshot.New(80, 24)
	}

	go eg.Run(sess.PipeIn, func(n uint64, err error) {
		sess.BytesOut += n
		s.events <- evPipeClosed{id: sess.ID}
	})

	writeSentinel(conn, AuthSuccessNew)

	ing := relay.NewIngress(conn, sess.PipeOut)
	go ing.Run(func(n uint64, err error) {
		sess.BytesIn += n
		s.events <- evSocketClosed{id: sess.ID, conn: conn}
	})

	s.fire("connected", sess)
	logger.Info("supervisor: session connected", "userid", sess.UserID, "pid", sess.PID)
}

func (s *Supervisor) onChildExited(e evChildExited) {
	sess, ok := s.reg.Lookup(e.id)
	if !ok {
		return
	}
	logger.Info("supervisor: child exited", "userid", sess.UserID, "pid", e.pid, "error", e.err)
	s.destroySession(sess)
}

// onPipeClosed implements spec.md's close_client_pipe: once the child's
// pipes close, half-close the socket's read side (here: drain-and-wait,
// see relay.DrainAndWaitClose's doc comment on why) and destroy on the
// peer's eventual disconnect. If there is no socket at all (already
// ORPHANED), destroy immediately.
func (s *Supervisor) onPipeClosed(e evPipeClosed) {
	sess, ok := s.reg.Lookup(e.id)
	if !ok {
		return
	}

	if sess.Sock == nil {
		s.destroySession(sess)
		return
	}

	conn := sess.Sock
	go relay.DrainAndWaitClose(conn, func() {
		conn.Close()
		s.events <- evSocketClosed{id: sess.ID, conn: conn}
	})
}

// destroySession is the terminal operation: close every descriptor this
// Session owns and remove it from the registry.
func (s *Supervisor) destroySession(sess *session.Session) {
	if sess.Sock != nil {
		sess.Sock.Close()
	}
	if sess.PipeOut != nil {
		sess.PipeOut.Close()
	}
	if sess.PipeIn != nil && sess.PipeIn != sess.PipeOut {
		sess.PipeIn.Close()
	}
	delete(s.egresses, sess.ID)
	if vt, ok := s.vterms[sess.ID]; ok {
		vt.Close()
		delete(s.vterms, sess.ID)
	}
	s.fire("destroyed", sess)
	s.reg.Free(sess)
}

// cleanupPending frees a PENDING session that never completed auth
// (overflow, disconnect, or timeout), closing its socket.
func (s *Supervisor) cleanupPending(sess *session.Session) {
	if sess.Sock != nil {
		sess.Sock.Close()
	}
	s.reg.Free(sess)
}

// sweepAuthTimeouts frees PENDING sessions that have held the connection
// open past auth_timeout without completing a frame (SPEC_FULL §6
// addition; spec.md leaves this case unspecified).
func (s *Supervisor) sweepAuthTimeouts() {
	now := time.Now()
	var expired []*session.Session
	s.reg.ForEach(session.Pending, func(sess *session.Session) {
		if now.Sub(sess.PendingSince) > s.authTimeout() {
			expired = append(expired, sess)
		}
	})
	for _, sess := range expired {
		logger.Warn("supervisor: auth timeout", "peer", remoteAddrOf(sess))
		s.cleanupPending(sess)
	}
}

func (s *Supervisor) onShutdownRequested() {
	if s.shuttingDown {
		return
	}
	s.shuttingDown = true
	s.shutdownDeadline = time.Now().Add(s.cfg.ShutdownGrace)
	if err := s.listeners.Close(); err != nil {
		logger.Warn("supervisor: error closing listeners", "error", err)
	}
	logger.Info("supervisor: shutdown requested", "grace", s.cfg.ShutdownGrace)
}

// teardownAll is the shutdown deadline's terminal action: SIGTERM every
// live child and close every descriptor, across all three populations.
func (s *Supervisor) teardownAll() {
	for _, st := range []session.State{session.Pending, session.Connected, session.Orphaned} {
		s.reg.ForEach(st, func(sess *session.Session) {
			subprocess.Terminate(sess.PID)
			s.destroySession(sess)
		})
	}
}

func writeSentinel(conn net.Conn, b byte) {
	if conn == nil {
		return
	}
	if _, err := conn.Write([]byte{b}); err != nil {
		logger.Warn("supervisor: failed writing response sentinel", "error", err)
	}
}

func writeAll(conn net.Conn, p []byte) {
	w := bufio.NewWriter(conn)
	if _, err := w.Write(p); err != nil {
		logger.Warn("supervisor: failed writing vterm snapshot", "error", err)
		return
	}
	w.Flush()
}

// onAdminKick implements the admin "kick" operation: force destroySession
// on whatever session matches the id, in any of the three populations.
func (s *Supervisor) onAdminKick(e evAdminKick) {
	sess, ok := s.reg.Lookup(e.id)
	if ok {
		logger.Info("supervisor: admin kick", "userid", sess.UserID, "pid", sess.PID)
		s.destroySession(sess)
	}
	e.reply <- ok
}

// onConfigReload applies the subset of a hot-reloaded config the event
// loop goroutine owns: idle ticker interval, shutdown grace, and the admin
// secret. AcceptRatePerSec/AcceptBurst go straight to listener.Set.SetRate
// from main's watch callback instead, since the rate limiter is already
// safe for concurrent use. AuthTimeout was already applied atomically by
// ApplyReload before this event was even sent.
func (s *Supervisor) onConfigReload(e evConfigReload) {
	s.cfg.IdleMarkInterval = e.r.IdleMarkInterval
	s.cfg.ShutdownGrace = e.r.ShutdownGrace
	s.cfg.AdminJWTSecret = e.r.AdminJWTSecret
	if s.idleTicker != nil {
		s.idleTicker.Reset(e.r.IdleMarkInterval)
	}
	for _, h := range s.hooks {
		if sec, ok := h.(secretSetter); ok {
			sec.SetSecret([]byte(e.r.AdminJWTSecret))
		}
	}
	logger.Info("supervisor: config reloaded",
		"idle_mark_interval", e.r.IdleMarkInterval,
		"shutdown_grace", e.r.ShutdownGrace,
		"auth_timeout", e.r.AuthTimeout)
}

func remoteAddrOf(sess *session.Session) string {
	if sess.Sock == nil {
		return "<none>"
	}
	return sess.Sock.RemoteAddr().String()
}
