package subprocess

import (
	"bufio"
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/john-champagne/easyhack/internal/config"
)

// The test game binary is a shell one-liner that dups pipe_out/pipe_in to
// fd 3/4 itself, standing in for spec.md's external "game logic"
// collaborator (client_main(userid, read_fd, write_fd) never sees stdin or
// stdout — a plain /bin/cat would try to open argv[last], the stringified
// userid, as a filename instead of reading fd 3 at all).
func TestSpawnPipesEchoesBytes(t *testing.T) {
	shPath, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not found on PATH, skipping subprocess integration test")
	}
	s := NewSpawner(shPath, []string{"-c", "cat <&3 >&4"}, config.TransportPipes)

	exited := make(chan struct{})
	h, err := s.Spawn(context.Background(), 7, func(pid int, err error) {
		close(exited)
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if h.PID == 0 {
		t.Fatal("Spawn returned pid 0")
	}

	if _, err := h.PipeOut.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write to pipe_out: %v", err)
	}

	reader := bufio.NewReader(h.PipeIn)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read from pipe_in: %v", err)
	}
	if line != "hello\n" {
		t.Fatalf("echoed line = %q, want %q", line, "hello\n")
	}

	if err := Terminate(h.PID); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("onExit never fired after Terminate")
	}
}

func TestTerminateOnAlreadyExitedIsBenign(t *testing.T) {
	s := NewSpawner("/bin/true", nil, config.TransportPipes)
	exited := make(chan struct{})
	h, err := s.Spawn(context.Background(), 1, func(int, error) { close(exited) })
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("/bin/true never exited")
	}

	// pid has already been reaped; sending a signal to it now may return
	// an error (process gone) but must never panic.
	_ = Terminate(h.PID)
}
