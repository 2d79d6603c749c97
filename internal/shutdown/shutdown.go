// Package shutdown wires OS signals to the supervisor's shutdown sequence.
// It is deliberately tiny: spec.md §5 calls out that a signal handler must
// do nothing but flip a flag or write to a self-pipe; os/signal.Notify
// already is Go's self-pipe, so there is no handler body to write at all.
package shutdown

import (
	"os"
	"os/signal"
	"syscall"
)

// Requester is the one method shutdown needs from the supervisor.
type Requester interface {
	RequestShutdown()
}

// Watch starts a goroutine that calls target.RequestShutdown() on the
// first SIGINT/SIGTERM, matching server.c:trigger_server_shutdown's
// termination_flag. It returns a stop function that releases the signal
// hook without shutting anything down (used in tests).
func Watch(target Requester) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			target.RequestShutdown()
		case <-done:
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
