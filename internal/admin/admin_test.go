package admin

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/john-champagne/easyhack/internal/logger"
	"github.com/john-champagne/easyhack/internal/session"
)

func TestMain(m *testing.M) {
	logger.Init("error", "")
	os.Exit(m.Run())
}

type fakeSource struct{ snaps []session.Snapshot }

func (f *fakeSource) Snapshot() []session.Snapshot { return f.snaps }

func startServer(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	errc := make(chan error, 1)
	go func() { errc <- s.Start(addr) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if conn, err := net.Dial("tcp", addr); err == nil {
			conn.Close()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Cleanup(func() { s.Close() })
	return addr
}

func TestSessionsEndpointReturnsSnapshot(t *testing.T) {
	src := &fakeSource{snaps: []session.Snapshot{
		{ID: "s1", State: "connected", UserID: 7, PID: 100, BytesIn: 10, BytesOut: 20},
	}}
	s := &Server{Source: src}
	addr := startServer(t, s)

	resp, err := http.Get("http://" + addr + "/sessions")
	if err != nil {
		t.Fatalf("GET /sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got []session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != "s1" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}

func TestSessionsEndpointRejectsMissingToken(t *testing.T) {
	s := &Server{Source: &fakeSource{}, Secret: []byte("shh")}
	addr := startServer(t, s)

	resp, err := http.Get("http://" + addr + "/sessions")
	if err != nil {
		t.Fatalf("GET /sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestSessionsEndpointAcceptsValidToken(t *testing.T) {
	secret := []byte("shh")
	s := &Server{Source: &fakeSource{}, Secret: secret}
	addr := startServer(t, s)

	tok, err := IssueToken(secret, "operator", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	req, _ := http.NewRequest("GET", "http://"+addr+"/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /sessions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestEventsStreamDeliversBroadcast(t *testing.T) {
	s := &Server{Source: &fakeSource{}}
	addr := startServer(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	// give the accept handler a moment to register the client before we
	// broadcast, since registration happens after the handshake completes.
	time.Sleep(50 * time.Millisecond)

	s.SessionEvent("connected", session.Snapshot{ID: "s1", UserID: 1})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got sessionEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Kind != "connected" || got.Session.ID != "s1" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

type fakeControl struct {
	kicked       string
	kickOK       bool
	shutdownHits int
}

func (f *fakeControl) Kick(id string) bool {
	f.kicked = id
	return f.kickOK
}

func (f *fakeControl) RequestShutdown() { f.shutdownHits++ }

func TestKickEndpointForwardsIDToControl(t *testing.T) {
	ctl := &fakeControl{kickOK: true}
	s := &Server{Source: &fakeSource{}, Control: ctl}
	addr := startServer(t, s)

	resp, err := http.Post("http://"+addr+"/sessions/abc-123/kick", "application/json", nil)
	if err != nil {
		t.Fatalf("POST kick: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ctl.kicked != "abc-123" {
		t.Fatalf("Control.Kick called with %q, want abc-123", ctl.kicked)
	}
}

func TestKickEndpointReturns404WhenNotFound(t *testing.T) {
	ctl := &fakeControl{kickOK: false}
	s := &Server{Source: &fakeSource{}, Control: ctl}
	addr := startServer(t, s)

	resp, err := http.Post("http://"+addr+"/sessions/missing/kick", "application/json", nil)
	if err != nil {
		t.Fatalf("POST kick: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestShutdownEndpointCallsRequestShutdown(t *testing.T) {
	ctl := &fakeControl{}
	s := &Server{Source: &fakeSource{}, Control: ctl}
	addr := startServer(t, s)

	resp, err := http.Post("http://"+addr+"/shutdown", "application/json", nil)
	if err != nil {
		t.Fatalf("POST shutdown: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ctl.shutdownHits != 1 {
		t.Fatalf("RequestShutdown called %d times, want 1", ctl.shutdownHits)
	}
}

func TestSetSecretTakesEffectLive(t *testing.T) {
	s := &Server{Source: &fakeSource{}}
	addr := startServer(t, s)

	// no secret yet: unauthenticated request succeeds
	resp, err := http.Get("http://" + addr + "/sessions")
	if err != nil {
		t.Fatalf("GET /sessions: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 before SetSecret", resp.StatusCode)
	}

	s.SetSecret([]byte("new-secret"))

	resp, err = http.Get("http://" + addr + "/sessions")
	if err != nil {
		t.Fatalf("GET /sessions: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 after SetSecret", resp.StatusCode)
	}
}

func TestHealthEndpointNeverRequiresAuth(t *testing.T) {
	s := &Server{Source: &fakeSource{}, Secret: []byte("shh")}
	addr := startServer(t, s)

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
