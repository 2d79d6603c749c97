package vtsnapshot

import (
	"fmt"
	"strings"
	"testing"
)

func TestSnapshotContainsWrittenOutput(t *testing.T) {
	v := New(80, 24)
	defer v.Close()

	v.Write([]byte("hello world"))
	snap := v.Snapshot()
	if !strings.Contains(string(snap), "hello world") {
		t.Errorf("snapshot missing basic output, got:\n%s", snap)
	}
}

func TestScrollbackCapture(t *testing.T) {
	v := New(80, 10)
	defer v.Close()

	for i := range 50 {
		v.Write([]byte(fmt.Sprintf("line %d\r\n", i)))
	}

	if got := v.sbLen; got != 41 {
		t.Errorf("scrollback len = %d, want 41", got)
	}
}

func TestScrollbackRingWrap(t *testing.T) {
	v := New(80, 10)
	defer v.Close()

	total := scrollbackLines + 500
	for i := range total {
		v.Write([]byte(fmt.Sprintf("line %06d\r\n", i)))
	}

	if got := v.sbLen; got != scrollbackLines {
		t.Errorf("scrollback len = %d, want %d (ring cap)", got, scrollbackLines)
	}
}

func TestSnapshotIncludesCursorRestore(t *testing.T) {
	v := New(80, 24)
	defer v.Close()

	v.Write([]byte("\x1b[?25l")) // hide cursor
	snap := v.Snapshot()
	if !strings.Contains(string(snap), "\x1b[?25l") {
		t.Errorf("snapshot did not restore hidden cursor visibility, got:\n%q", snap)
	}
}

func TestResizeAppliesBeforeNextSnapshot(t *testing.T) {
	v := New(80, 24)
	defer v.Close()

	v.Resize(100, 30)
	if v.rows != 30 {
		t.Fatalf("rows = %d, want 30", v.rows)
	}
}
