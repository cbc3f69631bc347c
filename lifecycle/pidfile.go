// Package lifecycle manages a running server from the outside: the PID file
// that enforces a single instance, and the stop, reload and restart commands.
package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var (
	ErrNotRunning     = errors.New("lifecycle: server is not running")
	ErrAlreadyRunning = errors.New("lifecycle: server is already running")
)

// PIDFile is the path of a file holding the server's process id.
type PIDFile string

// Read returns the pid stored in the file.
func (p PIDFile) Read() (int, error) {
	data, err := os.ReadFile(string(p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, ErrNotRunning
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("lifecycle: bad pid file %s: %q", p, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

// IsRunning reports whether the file names a live process, and its pid.
func (p PIDFile) IsRunning() (int, bool) {
	pid, err := p.Read()
	if err != nil {
		return 0, false
	}
	return pid, alive(pid)
}

// Write records the current process. It fails with ErrAlreadyRunning when the
// file already names another live process; a stale file is overwritten.
func (p PIDFile) Write() error {
	if pid, ok := p.IsRunning(); ok && pid != os.Getpid() {
		return fmt.Errorf("%w: pid %d in %s", ErrAlreadyRunning, pid, p)
	}
	return os.WriteFile(string(p), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

// Remove deletes the file. A missing file is not an error.
func (p PIDFile) Remove() error {
	if err := os.Remove(string(p)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// runningPID is Read plus a liveness check; a stale file is removed.
func (p PIDFile) runningPID() (int, error) {
	pid, err := p.Read()
	if err != nil {
		return 0, err
	}
	if !alive(pid) {
		p.Remove()
		return 0, ErrNotRunning
	}
	return pid, nil
}
