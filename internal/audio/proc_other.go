//go:build !unix

package audio

import (
	"os"
)

// terminate has no graceful signal outside unix; the process is killed.
func terminate(p *os.Process) error {
	return p.Kill()
}

// ProcessExists reports whether pid refers to a live process.
func ProcessExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
