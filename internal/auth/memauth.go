package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// credentialFrame is the only shape MemStore understands; the auth framer
// upstream never parses JSON itself (spec.md §4.3), so this parsing is
// entirely local to this one reference backend, not the framing layer.
type credentialFrame struct {
	User     string `json:"u"`
	Password string `json:"p"`
}

// MemStore is an in-memory Authenticator keyed by username, storing only
// bcrypt hashes. It exists for tests and for running the supervisor
// standalone; a production deployment swaps it for the real credential
// store spec.md declares external.
type MemStore struct {
	mu    sync.RWMutex
	users map[string]memUser
	next  int
}

type memUser struct {
	userid int
	hash   []byte
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{users: make(map[string]memUser)}
}

// AddUser registers a username/password pair and returns the assigned
// userid (always > 0, matching spec.md's "0 means unauthenticated").
func (m *MemStore) AddUser(username, password string) (int, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	m.users[username] = memUser{userid: m.next, hash: hash}
	return m.next, nil
}

// Authenticate implements Authenticator. It never returns a non-nil error:
// a wrong password, an unknown user and a frame that isn't well-formed
// JSON are all a normal "userid=0" rejection, not a system fault.
func (m *MemStore) Authenticate(_ context.Context, frame []byte) (int, error) {
	var cred credentialFrame
	if err := json.Unmarshal(frame, &cred); err != nil {
		return 0, nil
	}

	m.mu.RLock()
	u, ok := m.users[cred.User]
	m.mu.RUnlock()
	if !ok {
		return 0, nil
	}

	if err := bcrypt.CompareHashAndPassword(u.hash, []byte(cred.Password)); err != nil {
		return 0, nil
	}
	return u.userid, nil
}
