package executor

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// processAlive reports whether pid exists and is not a zombie — the signal
// Get uses to flip a workflow to detached when the supervisor that owned it
// is gone (§3: "becomes detached if the supervisor is restarted while the
// underlying process is known-missing").
func (e *Executor) processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if e.processZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// processZombie checks whether pid is a zombie/dead process, preferring
// /proc/<pid>/stat and falling back to `ps` on hosts without procfs
// mounted (sandboxes, non-Linux CI runners). The fallback is logged since
// it means PID liveness is being derived from a forked `ps` rather than a
// direct read, and is worth knowing about if reconciliation ever misfires.
func (e *Executor) processZombie(pid int) bool {
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		e.log.Debug("procfs unavailable, falling back to ps for liveness check", zap.Int("pid", pid))
		return processZombieFromPS(pid)
	}
	statPath := filepath.Join("/proc", strconv.Itoa(pid), "stat")
	b, err := os.ReadFile(statPath)
	if err != nil {
		return false
	}
	line := string(b)
	closeIdx := strings.LastIndexByte(line, ')')
	if closeIdx < 0 || closeIdx+2 >= len(line) {
		return false
	}
	state := line[closeIdx+2]
	return state == 'Z' || state == 'X'
}

func processZombieFromPS(pid int) bool {
	out, err := exec.Command("ps", "-o", "state=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		return false
	}
	state := strings.TrimSpace(string(out))
	if state == "" {
		return false
	}
	c := state[0]
	return c == 'Z' || c == 'X'
}
