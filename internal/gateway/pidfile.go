package gateway

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// PIDFile records the running gateway's process id under the home
// directory so start/stop/status can find it.
type PIDFile struct {
	path string
}

// NewPIDFile returns the pid file for a gateway home.
func NewPIDFile(home string) *PIDFile {
	return &PIDFile{path: filepath.Join(home, "gateway.pid")}
}

func (p *PIDFile) Path() string { return p.path }

// Write records the current process id. Fails if another live gateway
// already holds the file.
func (p *PIDFile) Write() error {
	if pid, running := p.Running(); running {
		return fmt.Errorf("gateway already running (pid %d)", pid)
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("pid file dir: %w", err)
	}
	data := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(p.path, []byte(data), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Remove deletes the pid file; a missing file is not an error.
func (p *PIDFile) Remove() {
	_ = os.Remove(p.path)
}

// Read returns the recorded pid, or 0 when no file exists.
func (p *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pid file %s: %w", p.path, err)
	}
	return pid, nil
}

// Running reports whether the recorded process is still alive. A stale
// file (dead process) is cleaned up.
func (p *PIDFile) Running() (int, bool) {
	pid, err := p.Read()
	if err != nil || pid == 0 {
		return 0, false
	}
	if !processAlive(pid) {
		p.Remove()
		return 0, false
	}
	return pid, true
}

// Signal sends sig to the recorded process.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	pid, running := p.Running()
	if !running {
		return fmt.Errorf("gateway is not running")
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	return nil
}

// Signal 0 probes for existence without delivering anything.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
