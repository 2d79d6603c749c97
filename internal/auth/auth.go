// Package auth defines the delegated credential-check contract spec.md
// calls out as an external collaborator ("auth(buf) → userid | 0"; "the
// credential store / user database" is explicitly out of scope) and ships
// one reference implementation for tests and standalone runs.
package auth

import "context"

// Authenticator validates a raw credential frame (the bytes the auth
// framer accumulated, unparsed) and returns the authenticated userid, or 0
// if the credentials were rejected. It is invoked from its own goroutine
// per SPEC_FULL.md §4.6 — a slow credential store must never stall the
// supervisor goroutine.
type Authenticator interface {
	Authenticate(ctx context.Context, frame []byte) (userid int, err error)
}

// Func adapts a plain function to the Authenticator interface.
type Func func(ctx context.Context, frame []byte) (int, error)

func (f Func) Authenticate(ctx context.Context, frame []byte) (int, error) {
	return f(ctx, frame)
}
