// Package daemon tracks a backgrounded issues server through a PID file.
package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrNotRunning is returned when no live server is recorded.
	ErrNotRunning = errors.New("server is not running")
	// ErrAlreadyRunning is returned when a live server is already recorded.
	ErrAlreadyRunning = errors.New("server is already running")
)

const pollInterval = 100 * time.Millisecond

// PIDFile manages a PID file for daemon process tracking.
type PIDFile struct {
	Path string
}

// NewPIDFile creates a PIDFile manager for the given path.
func NewPIDFile(path string) *PIDFile {
	return &PIDFile{Path: path}
}

// Write writes the current process's PID to the file.
func (p *PIDFile) Write() error {
	return p.WritePID(os.Getpid())
}

// WritePID writes the given PID to the file.
func (p *PIDFile) WritePID(pid int) error {
	return os.WriteFile(p.Path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

// Read reads the PID from the file.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	return pid, nil
}

// Remove deletes the PID file.
func (p *PIDFile) Remove() error {
	return os.Remove(p.Path)
}

// EnsureNotRunning fails with ErrAlreadyRunning when the recorded process is
// alive, and clears a stale file otherwise.
func (p *PIDFile) EnsureNotRunning() error {
	pid, running := p.IsRunning()
	if running {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	if pid != 0 {
		_ = p.Remove()
	}
	return nil
}

// Stop sends term to the recorded process and escalates to kill if it has
// not exited within timeout. The PID file is removed once the process is gone.
func (p *PIDFile) Stop(term, kill syscall.Signal, timeout time.Duration) (int, error) {
	pid, running := p.IsRunning()
	if !running {
		if pid != 0 {
			_ = p.Remove()
		}
		return 0, ErrNotRunning
	}

	if err := p.Signal(term); err != nil {
		return pid, fmt.Errorf("signal pid %d: %w", pid, err)
	}
	if !p.waitExit(timeout) {
		if err := p.Signal(kill); err != nil {
			return pid, fmt.Errorf("kill pid %d: %w", pid, err)
		}
		p.waitExit(timeout)
	}

	_ = p.Remove()
	return pid, nil
}

func (p *PIDFile) waitExit(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, running := p.IsRunning(); !running {
			return true
		}
		time.Sleep(pollInterval)
	}
	_, running := p.IsRunning()
	return !running
}
