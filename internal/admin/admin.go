// Package admin exposes the supervisor's session registry over HTTP for
// operators — a JSON snapshot endpoint and a WebSocket stream of live
// session lifecycle events (SPEC_FULL §6, C12). It is additive: nothing
// in spec.md requires an admin surface, and the supervisor runs fine with
// this package never imported.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/dustin/go-humanize"
	"github.com/golang-jwt/jwt/v5"

	"github.com/john-champagne/easyhack/internal/logger"
	"github.com/john-champagne/easyhack/internal/session"
)

// SnapshotSource is the one thing admin needs from the supervisor to serve
// GET /sessions. Kept as a narrow interface so this package never imports
// internal/supervisor (mirrors the supervisor.Hook decoupling).
type SnapshotSource interface {
	Snapshot() []session.Snapshot
}

// Control is the supervisor surface admin needs for the two write
// operations SPEC_FULL §6/C12 promises: forcing a session's cleanup and
// triggering the two-phase shutdown drain.
type Control interface {
	Kick(id string) bool
	RequestShutdown()
}

// Server is the admin HTTP+WebSocket surface. It implements
// supervisor.Hook so the supervisor can push live events to it without
// this package depending on that one.
type Server struct {
	Source  SnapshotSource
	Control Control
	Secret  []byte // initial HMAC secret for admin JWTs; empty disables auth (local/dev only)

	mu       sync.Mutex
	listener net.Listener
	clients  map[*wsClient]struct{}
	secret   []byte // guarded copy of Secret; SetSecret updates it live on config reload
}

// SetSecret replaces the admin JWT secret live, the one field a config hot
// reload is allowed to touch here (SPEC_FULL §6). An empty secret disables
// auth the same way a nil Secret at construction does.
func (s *Server) SetSecret(secret []byte) {
	s.mu.Lock()
	s.secret = secret
	s.mu.Unlock()
}

func (s *Server) currentSecret() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secret
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// sessionEvent is the shape pushed to WebSocket subscribers on every
// lifecycle transition.
type sessionEvent struct {
	Kind      string           `json:"kind"`
	At        time.Time        `json:"at"`
	Session   session.Snapshot `json:"session"`
	HumanSize string           `json:"bytes_total,omitempty"`
}

// SessionEvent implements supervisor.Hook.
func (s *Server) SessionEvent(kind string, snap session.Snapshot) {
	ev := sessionEvent{
		Kind:      kind,
		At:        time.Now(),
		Session:   snap,
		HumanSize: humanize.Bytes(snap.BytesIn + snap.BytesOut),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Warn("admin: failed to marshal session event", "error", err)
		return
	}
	s.broadcast(data)
}

func (s *Server) broadcast(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// slow subscriber; drop the message rather than block the
			// event loop that's broadcasting it.
		}
	}
}

// Start begins listening and serving on addr. It blocks until the
// listener is closed.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	s.clients = make(map[*wsClient]struct{})
	s.secret = s.Secret
	s.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /sessions", s.authGuard(s.handleSessions))
	mux.HandleFunc("GET /events", s.authGuard(s.handleEvents))
	mux.HandleFunc("POST /sessions/{id}/kick", s.authGuard(s.handleKick))
	mux.HandleFunc("POST /shutdown", s.authGuard(s.handleShutdown))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("admin listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logger.Info("admin: listening", "addr", addr)
	return http.Serve(ln, mux)
}

// Close stops the listener and disconnects every WebSocket subscriber.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.conn.Close(websocket.StatusGoingAway, "admin server shutting down")
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true}`))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	snaps := s.Source.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snaps)
}

// handleKick implements POST /sessions/{id}/kick: force the named
// session's cleanup, bypassing the normal disconnect/child-exit path
// (SPEC_FULL §6, C12).
func (s *Server) handleKick(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.Control == nil {
		http.Error(w, "kick control unavailable", http.StatusServiceUnavailable)
		return
	}
	if !s.Control.Kick(id) {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true}`))
}

// handleShutdown implements POST /shutdown: trigger the same two-phase
// drain a SIGTERM would (SPEC_FULL §6, C12).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if s.Control == nil {
		http.Error(w, "shutdown control unavailable", http.StatusServiceUnavailable)
		return
	}
	s.Control.RequestShutdown()
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true}`))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn("admin: websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(64 * 1024)

	c := &wsClient{conn: conn, send: make(chan []byte, 32)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		conn.CloseNow()
	}()

	ctx := r.Context()

	// A subscriber never sends meaningful data; drain reads so a client
	// close is detected and the write goroutine can exit.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// authGuard wraps a handler with bearer-JWT verification. When Secret is
// empty, auth is skipped entirely — an explicit opt-out for local
// development, never the default in a deployed config (admin_jwt_secret
// must be set in config.Config for that).
func (s *Server) authGuard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		secret := s.currentSecret()
		if len(secret) == 0 {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		tokenStr := strings.TrimPrefix(auth, "Bearer ")
		if err := s.verify(tokenStr, secret); err != nil {
			logger.Warn("admin: jwt verification failed", "error", err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) verify(tokenStr string, secret []byte) error {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return fmt.Errorf("parse admin jwt: %w", err)
	}
	if !token.Valid {
		return fmt.Errorf("invalid admin jwt")
	}
	return nil
}

// IssueToken mints a bearer token for an operator, used by eshkctl after
// an out-of-band secret check. There is no login flow here: the secret is
// shared between the daemon and the CLI via config/flag, not a password.
func IssueToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
