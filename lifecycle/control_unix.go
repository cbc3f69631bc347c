//go:build unix

package lifecycle

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"
)

// DaemonEnv marks the re-executed child so it does not daemonize again.
const DaemonEnv = "YAR_DAEMONIZED"

func alive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// Stop sends SIGTERM, waits up to grace for the process to exit, then sends
// SIGKILL, and removes the PID file.
func Stop(p PIDFile, grace time.Duration) error {
	pid, err := p.runningPID()
	if err != nil {
		return err
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("lifecycle: SIGTERM %d: %w", pid, err)
	}
	deadline := time.Now().Add(grace)
	for alive(pid) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if alive(pid) {
		syscall.Kill(pid, syscall.SIGKILL)
	}
	return p.Remove()
}

// Reload sends SIGUSR1, which makes the server replace its task workers.
func Reload(p PIDFile) error {
	pid, err := p.runningPID()
	if err != nil {
		return err
	}
	return syscall.Kill(pid, syscall.SIGUSR1)
}

// Restart stops the server and starts it again, detached, with the command
// line it was running with.
func Restart(p PIDFile, grace time.Duration) error {
	pid, err := p.runningPID()
	if err != nil {
		return err
	}
	args, err := Cmdline(pid)
	if err != nil {
		return err
	}
	if err := Stop(p, grace); err != nil {
		return err
	}
	return startDetached(args, nil)
}

// Cmdline returns the argv of a running process from /proc.
func Cmdline(pid int) ([]string, error) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/cmdline")
	if err != nil {
		return nil, fmt.Errorf("lifecycle: cannot find server process %d: %w", pid, err)
	}
	args := parseCmdline(data)
	if len(args) == 0 {
		return nil, fmt.Errorf("lifecycle: empty command line for %d", pid)
	}
	return args, nil
}

func parseCmdline(data []byte) []string {
	var args []string
	for _, f := range bytes.Split(bytes.TrimRight(data, "\x00"), []byte{0}) {
		if len(f) > 0 {
			args = append(args, string(f))
		}
	}
	return args
}

// Daemonize re-executes the current binary in a new session and reports
// whether the caller is the parent, which should then exit. The child sees
// DaemonEnv set and gets false.
func Daemonize() (bool, error) {
	if os.Getenv(DaemonEnv) == "1" {
		return false, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return false, err
	}
	args := append([]string{exe}, os.Args[1:]...)
	if err := startDetached(args, []string{DaemonEnv + "=1"}); err != nil {
		return false, err
	}
	return true, nil
}

func startDetached(args []string, env []string) error {
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("lifecycle: start %s: %w", args[0], err)
	}
	return cmd.Process.Release()
}
