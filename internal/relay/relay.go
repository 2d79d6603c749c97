// Package relay implements C5: moving bytes between a client socket and
// its paired subprocess pipes while CONNECTED, and draining/discarding
// pipe output while ORPHANED so the child is never blocked on a full pipe
// (spec.md §4.5).
package relay

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"

	"github.com/john-champagne/easyhack/internal/logger"
)

// maxIngressChunk is spec.md's ingress cap: "move bytes... in ≤1 MiB
// chunks, until the kernel returns a short transfer."
const maxIngressChunk = 1 << 20

// egressReadSize is spec.md's egress read size: "repeatedly read up to
// 8 KiB from pipe_in."
const egressReadSize = 8192

// Ingress pumps bytes from sock to pipeOut until sock is closed or errors.
// It is created fresh for every CONNECTED attach (initial spawn or
// reconnect merge) — its own lifetime IS the detection mechanism for "the
// client socket closed," the Go translation of epoll's EPOLLRDHUP/HUP/ERR
// on the socket fd. onClosed is called exactly once, from this goroutine,
// when the pump stops for any reason.
type Ingress struct {
	sock    net.Conn
	pipeOut *os.File
}

// NewIngress returns an Ingress ready to Run.
func NewIngress(sock net.Conn, pipeOut *os.File) *Ingress {
	return &Ingress{sock: sock, pipeOut: pipeOut}
}

// Run blocks, pumping bytes until sock is closed or an unrecoverable
// error occurs, then invokes onClosed(bytesMoved, err). err is nil on a
// clean EOF. Run never returns on EBADF-adjacent pipe errors by retrying —
// per spec.md, those are the caller's cue to clean up the whole session,
// not this pump's job to retry.
func (p *Ingress) Run(onClosed func(bytesMoved uint64, err error)) {
	n, err := splice(p.sock, p.pipeOut, maxIngressChunk)
	if err != nil && isTransient(err) {
		err = nil
	}
	onClosed(n, err)
}

// Egress pumps bytes from one Session's pipe_in to whichever socket is
// currently attached (or discards them, while ORPHANED). Unlike Ingress,
// one Egress lives for the entire time the subprocess's pipes are open —
// it survives disconnect/reconnect cycles, since the pipe itself does.
// SetSink is the one place in this package two goroutines (this pump's
// reader and the supervisor) touch shared state, so it is the one
// deliberately mutex-guarded field in an otherwise lock-free design
// (spec.md §5 single-writer applies to Session state in the supervisor,
// not to this narrow attach-point handoff).
type Egress struct {
	mu   sync.Mutex
	sink net.Conn // nil while ORPHANED
}

// NewEgress returns an Egress with no sink attached (ORPHANED mode).
func NewEgress() *Egress {
	return &Egress{}
}

// SetSink attaches (non-nil) or detaches (nil) the live socket. Called
// only from the supervisor goroutine on CONNECTED<->ORPHANED transitions.
func (e *Egress) SetSink(sock net.Conn) {
	e.mu.Lock()
	e.sink = sock
	e.mu.Unlock()
}

func (e *Egress) currentSink() net.Conn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink
}

// Run blocks reading from pipeIn until it closes or errors, writing each
// burst to the current sink (or discarding it, implementing spec.md's
// orphan drain) and invoking onClosed exactly once at the end.
func (e *Egress) Run(pipeIn *os.File, onClosed func(bytesMoved uint64, err error)) {
	buf := make([]byte, egressReadSize)
	var total uint64

	for {
		n, readErr := pipeIn.Read(buf)
		if n > 0 {
			if sink := e.currentSink(); sink != nil {
				if werr := writeAll(sink, buf[:n]); werr != nil {
					// spec.md §4.5: "a write returning -1 is logged; the
					// session is not torn down on a single write error."
					logger.Warn("relay: egress write failed", "error", werr)
				} else {
					total += uint64(n)
				}
			}
			// sink == nil: orphan drain — bytes are read and discarded so
			// the child never blocks on a full pipe.
		}
		if readErr != nil {
			if isTransient(readErr) {
				continue
			}
			if errors.Is(readErr, io.EOF) {
				readErr = nil
			}
			onClosed(total, readErr)
			return
		}
	}
}

// writeAll loops on short writes, per spec.md's "be careful to write all
// of it" note.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// DrainAndWaitClose implements the auth-failure path (spec.md §4.3): after
// AUTH_FAILED has been written, discard anything further the peer sends
// and invoke onDone once it disconnects. This is the practical Go
// translation of shutdown(sock, SHUT_RD): Go's CloseRead makes further
// local reads fail immediately rather than waiting on the peer's FIN, the
// opposite of "let it drain until peer closes" — so instead we keep
// reading (and throwing away) until the peer actually goes away.
func DrainAndWaitClose(sock net.Conn, onDone func()) {
	buf := make([]byte, 2048)
	for {
		_, err := sock.Read(buf)
		if err != nil {
			onDone()
			return
		}
	}
}

func isTransient(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
