//go:build linux

// Package rlimit applies an optional per-session cgroup v2 resource cap to
// a spawned game child (SPEC_FULL §6 addition; spec.md itself says nothing
// about resource limits, but the game binary is an untrusted external
// collaborator the same way the sandboxed agent runner is, and cgroups v2
// is the only way to cap real RSS/process-tree size rather than just
// virtual address space).
package rlimit

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/john-champagne/easyhack/internal/logger"
)

// Manager owns one cgroups v2 sub-cgroup for a single session's game
// child. A nil *Manager is valid and every method on it is a no-op, so
// callers that spawn with no limits configured never need a nil check.
type Manager struct {
	path string
}

// New creates a cgroup v2 sub-cgroup capping memory and/or pids for one
// session. Returns (nil, nil) — not an error — whenever cgroups v2 is
// unavailable or the current process lacks permission to create
// sub-cgroups; callers fall back to running the child unconfined rather
// than fail the whole session over an optional limit.
func New(sessionID string, memLimitBytes uint64, pidLimit uint32) (*Manager, error) {
	if memLimitBytes == 0 && pidLimit == 0 {
		return nil, nil
	}

	if _, err := os.Stat("/sys/fs/cgroup/cgroup.controllers"); err != nil {
		logger.Warn("rlimit: cgroups v2 not available, running session unconfined")
		return nil, nil
	}

	ownPath, err := readOwnCgroup()
	if err != nil {
		logger.Warn("rlimit: cannot read own cgroup, running session unconfined", "error", err)
		return nil, nil
	}

	parentPath := filepath.Join("/sys/fs/cgroup", ownPath)
	cgroupPath := filepath.Join(parentPath, "eshk-session-"+sessionID)

	if err := os.MkdirAll(cgroupPath, 0755); err != nil {
		logger.Warn("rlimit: cannot create cgroup, running session unconfined", "path", cgroupPath, "error", err)
		return nil, nil
	}

	var controllers []string
	if memLimitBytes > 0 {
		controllers = append(controllers, "+memory")
	}
	if pidLimit > 0 {
		controllers = append(controllers, "+pids")
	}
	if err := enableControllers(parentPath, controllers); err != nil {
		os.Remove(cgroupPath)
		logger.Warn("rlimit: cannot enable controllers, running session unconfined", "error", err)
		return nil, nil
	}

	if memLimitBytes > 0 {
		if err := os.WriteFile(filepath.Join(cgroupPath, "memory.max"), []byte(fmt.Sprintf("%d", memLimitBytes)), 0644); err != nil {
			os.Remove(cgroupPath)
			logger.Warn("rlimit: cannot set memory.max, running session unconfined", "error", err)
			return nil, nil
		}
	}
	if pidLimit > 0 {
		if err := os.WriteFile(filepath.Join(cgroupPath, "pids.max"), []byte(fmt.Sprintf("%d", pidLimit)), 0644); err != nil {
			os.Remove(cgroupPath)
			logger.Warn("rlimit: cannot set pids.max, running session unconfined", "error", err)
			return nil, nil
		}
	}

	return &Manager{path: cgroupPath}, nil
}

// AddPID moves a process into this cgroup. A nil Manager is a no-op.
func (m *Manager) AddPID(pid int) error {
	if m == nil {
		return nil
	}
	return os.WriteFile(filepath.Join(m.path, "cgroup.procs"), []byte(fmt.Sprintf("%d", pid)), 0644)
}

// Destroy removes the cgroup. The child must have already exited. A nil
// Manager is a no-op.
func (m *Manager) Destroy() error {
	if m == nil {
		return nil
	}
	return os.Remove(m.path)
}

func parseCgroupV2Path(content string) (string, error) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "0::") {
			return line[3:], nil
		}
	}
	return "", fmt.Errorf("no cgroup v2 entry found")
}

func readOwnCgroup() (string, error) {
	data, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return "", fmt.Errorf("read /proc/self/cgroup: %w", err)
	}
	return parseCgroupV2Path(string(data))
}

// enableControllers writes to cgroup.subtree_control to enable the given
// controllers on parentPath, handling EBUSY (parent has direct member
// processes) by moving the current process into a leaf cgroup first.
func enableControllers(parentPath string, controllers []string) error {
	if len(controllers) == 0 {
		return nil
	}
	payload := strings.Join(controllers, " ")
	controlPath := filepath.Join(parentPath, "cgroup.subtree_control")

	if err := os.WriteFile(controlPath, []byte(payload), 0644); err == nil {
		return nil
	}

	leafPath := filepath.Join(parentPath, "eshk-daemon")
	if err := os.MkdirAll(leafPath, 0755); err != nil {
		return fmt.Errorf("create leaf cgroup: %w", err)
	}
	if err := os.WriteFile(filepath.Join(leafPath, "cgroup.procs"), []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
		return fmt.Errorf("move self to leaf cgroup: %w", err)
	}
	return os.WriteFile(controlPath, []byte(payload), 0644)
}
