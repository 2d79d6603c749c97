// Package vtsnapshot maintains a server-side virtual terminal fed by a
// game's output stream, so a reconnecting client can be repainted with a
// full, valid screen instead of whatever partial escape sequence the
// stream happened to be mid-emitting when it last disconnected
// (SPEC_FULL §4.5, adapted from the teacher's egg.VTerm).
package vtsnapshot

import (
	"fmt"
	"strings"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// scrollbackLines bounds how much history a reconnect repaint can replay.
// A game screen doesn't need the generous ~50k-line buffer a coding-agent
// transcript does — spec.md's repaint only needs to make the *current*
// screen sane, not hand back a session transcript — so this is much
// smaller than the teacher's equivalent constant.
const scrollbackLines = 2000

// VTerm wraps charmbracelet/x/vt with scrollback capture via the
// emulator's ScrollOut callback. All methods are safe for concurrent use;
// callbacks fire inside Write, with mu already held.
type VTerm struct {
	emu        *vt.Emulator
	scrollback []string
	sbHead     int
	sbLen      int

	mu           sync.Mutex
	altScreen    bool
	cursorHidden bool
	rows         int
}

// New creates a VTerm sized to the game's terminal dimensions.
func New(cols, rows int) *VTerm {
	v := &VTerm{
		emu:        vt.NewEmulator(cols, rows),
		scrollback: make([]string, scrollbackLines),
		rows:       rows,
	}
	v.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			if v.altScreen {
				return
			}
			for _, line := range lines {
				if v.sbLen == len(v.scrollback) {
					v.scrollback[v.sbHead] = ""
				}
				v.scrollback[v.sbHead] = line.Render()
				v.sbHead = (v.sbHead + 1) % len(v.scrollback)
				if v.sbLen < len(v.scrollback) {
					v.sbLen++
				}
			}
		},
		ScrollbackClear: func() {
			for i := range v.scrollback {
				v.scrollback[i] = ""
			}
			v.sbLen, v.sbHead = 0, 0
		},
		AltScreen:        func(on bool) { v.altScreen = on },
		CursorVisibility: func(visible bool) { v.cursorHidden = !visible },
	})
	return v
}

// Write shadow-feeds game output to the emulator. The supervisor calls
// this for every byte that crosses pipe_in, both while CONNECTED (to keep
// the emulator current) and while ORPHANED (so the next reconnect's
// repaint reflects what the game did during the gap).
func (v *VTerm) Write(p []byte) (int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.emu.Write(p)
}

// Resize changes the terminal dimensions, mirroring a PTY winsize change.
func (v *VTerm) Resize(cols, rows int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.emu.Resize(cols, rows)
	v.rows = rows
}

// Snapshot renders a reconnect repaint: scrollback, a screen flush so
// xterm-style clients scroll it into their own scrollback, a full grid
// repaint, and cursor position/visibility restore. The result is valid
// ANSI a client can write to its own terminal verbatim.
func (v *VTerm) Snapshot() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()

	var buf strings.Builder

	lines := v.scrollbackSnapshot()
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
	if len(lines) > 0 {
		for range max(v.rows-1, 0) {
			buf.WriteByte('\n')
		}
	}

	buf.WriteString("\x1b[m\x1b[H")
	buf.WriteString(v.emu.Render())

	pos := v.emu.CursorPosition()
	fmt.Fprintf(&buf, "\x1b[%d;%dH", pos.Y+1, pos.X+1)

	if v.cursorHidden {
		buf.WriteString("\x1b[?25l")
	} else {
		buf.WriteString("\x1b[?25h")
	}

	return []byte(buf.String())
}

// Close releases the emulator.
func (v *VTerm) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.emu.Close()
}

func (v *VTerm) scrollbackSnapshot() []string {
	if v.sbLen == 0 {
		return nil
	}
	lines := make([]string, v.sbLen)
	start := (v.sbHead - v.sbLen + len(v.scrollback)) % len(v.scrollback)
	for i := range v.sbLen {
		lines[i] = v.scrollback[(start+i)%len(v.scrollback)]
	}
	return lines
}
