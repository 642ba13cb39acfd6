//go:build unix

package audio

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// terminate asks the process to exit with SIGTERM.
func terminate(p *os.Process) error {
	err := unix.Kill(p.Pid, unix.SIGTERM)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// ProcessExists reports whether pid refers to a live (or zombie) process.
func ProcessExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
