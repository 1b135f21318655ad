// Package pidfile provides single-instance enforcement for the ouajourad
// daemon via a PID file on disk.
package pidfile

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDFile represents a PID file for daemon process management.
type PIDFile struct {
	path string
	pid  int
}

// New creates a new PIDFile instance for the current process.
func New(path string) *PIDFile {
	return &PIDFile{
		path: path,
		pid:  os.Getpid(),
	}
}

// Create writes the PID file, refusing to do so if another instance is
// still running. A stale file (owning process no longer alive) is removed
// and replaced.
func (p *PIDFile) Create() error {
	if p.exists() {
		existingPID, err := p.readExistingPID()
		if err != nil {
			return fmt.Errorf("pidfile: read existing: %w", err)
		}

		if p.isProcessRunning(existingPID) {
			return fmt.Errorf("pidfile: ouajourad already running with PID %d", existingPID)
		}

		if err := os.Remove(p.path); err != nil {
			return fmt.Errorf("pidfile: remove stale file: %w", err)
		}
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pidfile: create directory: %w", err)
	}

	if err := os.WriteFile(p.path, []byte(fmt.Sprintf("%d\n", p.pid)), 0o644); err != nil {
		return fmt.Errorf("pidfile: write: %w", err)
	}

	return nil
}

// Remove deletes the PID file unless it names a different process. A file
// whose contents cannot be read as a PID is deleted as well.
func (p *PIDFile) Remove() error {
	if !p.exists() {
		return nil
	}

	existingPID, err := p.readExistingPID()
	if err != nil {
		return os.Remove(p.path)
	}

	if existingPID != p.pid {
		return fmt.Errorf("pidfile: file contains different PID (%d vs %d), not removing", existingPID, p.pid)
	}

	return os.Remove(p.path)
}

// Path returns the path to the PID file.
func (p *PIDFile) Path() string {
	return p.path
}

func (p *PIDFile) exists() bool {
	_, err := os.Stat(p.path)
	return err == nil
}

func (p *PIDFile) readExistingPID() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, err
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("pidfile: invalid PID %q", pidStr)
	}

	return pid, nil
}

// isProcessRunning probes /proc first (cheap, no subprocess) and falls
// back to ps for platforms without a procfs.
func (p *PIDFile) isProcessRunning(pid int) bool {
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err == nil {
		return true
	}

	cmd := exec.Command("ps", "-p", strconv.Itoa(pid))
	if err := cmd.Run(); err == nil {
		return true
	}

	cmd = exec.Command("sh", "-c", "ps | grep '^"+strconv.Itoa(pid)+" '")
	return cmd.Run() == nil
}

// ForceRemove removes the PID file regardless of ownership, for --force
// recovery from a crashed instance.
func (p *PIDFile) ForceRemove() error {
	return os.Remove(p.path)
}

// CheckRunning reports whether another instance currently owns the PID
// file and, if so, its PID.
func (p *PIDFile) CheckRunning() (bool, int, error) {
	if !p.exists() {
		return false, 0, nil
	}

	existingPID, err := p.readExistingPID()
	if err != nil {
		return false, 0, fmt.Errorf("pidfile: read: %w", err)
	}

	if p.isProcessRunning(existingPID) {
		return true, existingPID, nil
	}

	return false, existingPID, nil
}
