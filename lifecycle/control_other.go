//go:build !unix

package lifecycle

import (
	"errors"
	"os"
	"time"
)

const DaemonEnv = "YAR_DAEMONIZED"

var errUnsupported = errors.New("lifecycle: not supported on this platform")

func alive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}

func Stop(p PIDFile, grace time.Duration) error { return errUnsupported }

func Reload(p PIDFile) error { return errUnsupported }

func Restart(p PIDFile, grace time.Duration) error { return errUnsupported }

func Cmdline(pid int) ([]string, error) { return nil, errUnsupported }

func Daemonize() (bool, error) { return false, errUnsupported }
