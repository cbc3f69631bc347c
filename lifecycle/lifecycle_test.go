//go:build unix

package lifecycle

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"reflect"
	"strconv"
	"syscall"
	"testing"
	"time"
)

// TestHelperProcess is not a real test. It is the child process started by
// the signal tests.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv("YAR_HELPER")
	if mode == "" {
		return
	}
	sigs := make(chan os.Signal, 1)
	switch mode {
	case "reload":
		signal.Notify(sigs, syscall.SIGUSR1)
	case "ignore-term":
		signal.Ignore(syscall.SIGTERM)
	}
	fmt.Println("ready")
	select {
	case <-sigs:
		os.Exit(0)
	case <-time.After(10 * time.Second):
		os.Exit(3)
	}
}

func startHelper(t *testing.T, mode string) (*exec.Cmd, <-chan error) {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
	cmd.Env = append(os.Environ(), "YAR_HELPER="+mode)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	if line, _ := bufio.NewReader(stdout).ReadString('\n'); line != "ready\n" {
		t.Fatalf("helper not ready: %q", line)
	}
	// reap the child so it stops counting as alive once it exits
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	t.Cleanup(func() { cmd.Process.Kill() })
	return cmd, done
}

func writePID(t *testing.T, pid int) PIDFile {
	t.Helper()
	p := PIDFile(filepath.Join(t.TempDir(), "yar.pid"))
	if err := os.WriteFile(string(p), []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command(os.Args[0], "-test.run=^$")
	if err := cmd.Run(); err != nil {
		t.Fatal(err)
	}
	return cmd.Process.Pid
}

func TestPIDFileLifecycle(t *testing.T) {
	p := PIDFile(filepath.Join(t.TempDir(), "yar.pid"))

	if _, err := p.Read(); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expect ErrNotRunning, got %v", err)
	}
	if err := p.Write(); err != nil {
		t.Fatal(err)
	}
	pid, ok := p.IsRunning()
	if !ok || pid != os.Getpid() {
		t.Fatalf("expect own pid running, got %d %v", pid, ok)
	}
	// rewriting our own pid is allowed
	if err := p.Write(); err != nil {
		t.Fatal(err)
	}
	if err := p.Remove(); err != nil {
		t.Fatal(err)
	}
	if err := p.Remove(); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestPIDFileRefusesLiveProcess(t *testing.T) {
	cmd, _ := startHelper(t, "wait")
	p := writePID(t, cmd.Process.Pid)

	if err := p.Write(); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expect ErrAlreadyRunning, got %v", err)
	}
}

func TestPIDFileOverwritesStale(t *testing.T) {
	p := writePID(t, deadPID(t))
	if _, ok := p.IsRunning(); ok {
		t.Fatal("dead pid reported running")
	}
	if err := p.Write(); err != nil {
		t.Fatal(err)
	}
}

func TestPIDFileGarbage(t *testing.T) {
	p := PIDFile(filepath.Join(t.TempDir(), "yar.pid"))
	os.WriteFile(string(p), []byte("nope"), 0o644)
	if _, err := p.Read(); err == nil {
		t.Fatal("expect parse error")
	}
}

func TestStop(t *testing.T) {
	cmd, done := startHelper(t, "wait")
	p := writePID(t, cmd.Process.Pid)

	if err := Stop(p, 2*time.Second); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("helper still running")
	}
	if _, err := os.Stat(string(p)); !os.IsNotExist(err) {
		t.Fatal("pid file not removed")
	}
}

func TestStopKillsAfterGrace(t *testing.T) {
	cmd, done := startHelper(t, "ignore-term")
	p := writePID(t, cmd.Process.Pid)

	if err := Stop(p, 100*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expect killed helper")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("helper survived SIGKILL")
	}
}

func TestStopNotRunning(t *testing.T) {
	p := writePID(t, deadPID(t))
	if err := Stop(p, time.Second); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expect ErrNotRunning, got %v", err)
	}
	if _, err := os.Stat(string(p)); !os.IsNotExist(err) {
		t.Fatal("stale pid file not removed")
	}
}

func TestReload(t *testing.T) {
	cmd, done := startHelper(t, "reload")
	p := writePID(t, cmd.Process.Pid)

	if err := Reload(p); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("helper should see SIGUSR1 and exit cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("SIGUSR1 not delivered")
	}
}

func TestParseCmdline(t *testing.T) {
	got := parseCmdline([]byte("yar-server\x00-p\x009600\x00\x00"))
	want := []string{"yar-server", "-p", "9600"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	if parseCmdline(nil) != nil {
		t.Fatal("expect nil for empty cmdline")
	}
}
