// Package subprocess implements C4: spawning a per-user game child,
// wiring its two anonymous pipes (or a PTY), tracking its pid, and
// reaping it on exit.
package subprocess

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/john-champagne/easyhack/internal/config"
	"github.com/john-champagne/easyhack/internal/rlimit"
	"github.com/john-champagne/easyhack/internal/session"
)

// Handle is the supervisor-side result of a successful Spawn: the running
// child's pid and the two ends of its transport that the relay reads/
// writes. It deliberately does not reference *session.Session — the
// supervisor wires Handle's fields onto the Session itself.
type Handle struct {
	PID     int
	PipeOut *os.File // supervisor write -> child read
	PipeIn  *os.File // child write -> supervisor read
	Wait    <-chan struct{} // closed when the child has been reaped
}

// Spawner launches game child processes. GameBin/GameArgs name the
// external game binary (spec.md: "game logic... is an external
// collaborator"); the binary receives the userid as its final argv
// element and its read/write pipe ends as fd 3 and fd 4.
type Spawner struct {
	GameBin   string
	GameArgs  []string
	Transport config.Transport

	// MemLimitBytes/PIDLimit cap each child via internal/rlimit. Zero
	// disables the corresponding limit; both zero disables rlimit
	// entirely, so Spawn never touches cgroups at all.
	MemLimitBytes uint64
	PIDLimit      uint32
}

// NewSpawner returns a Spawner. Each Spawn starts its own waiter goroutine
// that reports an exit via the onExit callback passed to Spawn — the Go
// substitute for a global SIGCHLD handler (spec.md §6), since os/exec
// already reaps per-Cmd via Wait.
func NewSpawner(gameBin string, gameArgs []string, transport config.Transport) *Spawner {
	return &Spawner{GameBin: gameBin, GameArgs: gameArgs, Transport: transport}
}

// Spawn creates the communication channel(s), forks the child (via
// os/exec, Go's forkless translation per spec.md §9 — "use spawn with an
// explicit fd whitelist"), and returns a Handle. onExit is invoked exactly
// once, from a dedicated goroutine, when the child has been reaped.
//
// If pipe/PTY creation or the exec itself fails, everything partially
// created is torn down and an error is returned; the caller must not send
// an auth-success reply to the client (spec.md §4.4).
func (s *Spawner) Spawn(ctx context.Context, userID int, onExit func(pid int, err error)) (*Handle, error) {
	switch s.Transport {
	case config.TransportPTY:
		return s.spawnPTY(ctx, userID, onExit)
	default:
		return s.spawnPipes(ctx, userID, onExit)
	}
}

// spawnPipes is the direct translation of server.c:fork_client: two
// anonymous pipes, close-on-exec on the supervisor's ends, the child
// inherits exactly the other two ends.
func (s *Spawner) spawnPipes(ctx context.Context, userID int, onExit func(int, error)) (*Handle, error) {
	// pipe_out: supervisor writes, child reads.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create pipe_out: %w", err)
	}
	// pipe_in: child writes, supervisor reads.
	inR, inW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("create pipe_in: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.GameBin, append(s.GameArgs, fmt.Sprint(userID))...)
	// The child's fd 3 and 4 are exactly these two, per spec.md §6 — Go's
	// ExtraFiles is the explicit fd whitelist spec.md §9 calls for in a
	// forkless target; everything else the process inherits is the
	// language runtime's own open files, never a listener or another
	// session's pipe (those were never marked inheritable to begin with).
	cmd.ExtraFiles = []*os.File{outR, inW}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		inR.Close()
		inW.Close()
		return nil, fmt.Errorf("spawn game process: %w", err)
	}

	// Close the child's ends in the supervisor — mirrors
	// server.c:fork_client's close(pipe_out_fd[0])/close(pipe_in_fd[1]).
	outR.Close()
	inW.Close()

	mgr := s.confine(cmd.Process.Pid)

	waitDone := make(chan struct{})
	go s.reapWaiter(cmd, mgr, onExit, waitDone)

	return &Handle{PID: cmd.Process.Pid, PipeOut: outW, PipeIn: inR, Wait: waitDone}, nil
}

// confine creates and joins an rlimit cgroup for pid if the Spawner has
// limits configured. Failure is logged by internal/rlimit itself and never
// prevents the child from running unconfined.
func (s *Spawner) confine(pid int) *rlimit.Manager {
	mgr, err := rlimit.New(fmt.Sprintf("pid-%d", pid), s.MemLimitBytes, s.PIDLimit)
	if err != nil || mgr == nil {
		return nil
	}
	if err := mgr.AddPID(pid); err != nil {
		mgr.Destroy()
		return nil
	}
	return mgr
}

// spawnPTY is the SPEC_FULL §4.4 addition: wires a pseudo-terminal instead
// of raw pipes, for games (like the terminal roguelike this supervisor was
// built for) that assume real terminal semantics. pipe_in and pipe_out are
// both backed by the same *os.File (the PTY master); that's fine — the
// relay already treats them as independent directions of one conceptual
// channel and a PTY is full-duplex.
func (s *Spawner) spawnPTY(ctx context.Context, userID int, onExit func(int, error)) (*Handle, error) {
	cmd := exec.CommandContext(ctx, s.GameBin, append(s.GameArgs, fmt.Sprint(userID))...)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = 5 * time.Second

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: 80, Rows: 24})
	if err != nil {
		return nil, fmt.Errorf("start pty game process: %w", err)
	}

	mgr := s.confine(cmd.Process.Pid)

	waitDone := make(chan struct{})
	go s.reapWaiter(cmd, mgr, onExit, waitDone)

	return &Handle{PID: cmd.Process.Pid, PipeOut: ptmx, PipeIn: ptmx, Wait: waitDone}, nil
}

// reapWaiter blocks on cmd.Wait() and reports the exit to onExit — the
// per-child goroutine that replaces a global SIGCHLD handler. It always
// closes waitDone, even on error, so callers never block forever on it.
// mgr is destroyed after the child has exited, since a cgroup cannot be
// removed while it still has member processes.
func (s *Spawner) reapWaiter(cmd *exec.Cmd, mgr *rlimit.Manager, onExit func(int, error), waitDone chan<- struct{}) {
	err := cmd.Wait()
	pid := 0
	if cmd.Process != nil {
		pid = cmd.Process.Pid
	}
	mgr.Destroy()
	if onExit != nil {
		onExit(pid, err)
	}
	close(waitDone)
}

// Terminate sends SIGTERM to a still-running child, the signal
// cleanup_game_process sends in spec.md §4.2/§9. A process that has
// already exited returns a benign error that callers should ignore.
func Terminate(pid int) error {
	if pid == 0 {
		return nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}

// Resize applies a terminal resize to a PTY-transport session. For the
// pipe transport f is not a terminal, and the resize ioctl's error is
// returned.
func Resize(f *os.File, cols, rows uint16) error {
	return pty.Setsize(f, &pty.Winsize{Cols: cols, Rows: rows})
}

// ApplySession copies a Handle's fields onto a Session, completing the
// PENDING -> CONNECTED transition's data-model side (spec.md §4.4 step 3).
func ApplySession(s *session.Session, h *Handle) {
	s.PID = h.PID
	s.PipeOut = h.PipeOut
	s.PipeIn = h.PipeIn
}
