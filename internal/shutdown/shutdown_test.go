package shutdown

import (
	"syscall"
	"testing"
	"time"
)

type fakeRequester struct{ ch chan struct{} }

func (f *fakeRequester) RequestShutdown() { close(f.ch) }

func TestWatchTriggersOnSigterm(t *testing.T) {
	target := &fakeRequester{ch: make(chan struct{})}
	stop := Watch(target)
	defer stop()

	syscall.Kill(syscall.Getpid(), syscall.SIGTERM)

	select {
	case <-target.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("RequestShutdown never called after SIGTERM")
	}
}

func TestStopReleasesHook(t *testing.T) {
	target := &fakeRequester{ch: make(chan struct{})}
	stop := Watch(target)
	stop()

	select {
	case <-target.ch:
		t.Fatal("RequestShutdown called after stop")
	case <-time.After(100 * time.Millisecond):
	}
}
