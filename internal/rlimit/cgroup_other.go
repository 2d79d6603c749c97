//go:build !linux

package rlimit

// Manager is a no-op on non-Linux platforms; cgroups v2 is Linux-only.
type Manager struct{}

func New(sessionID string, memLimitBytes uint64, pidLimit uint32) (*Manager, error) {
	return nil, nil
}

func (m *Manager) AddPID(pid int) error { return nil }
func (m *Manager) Destroy() error       { return nil }
