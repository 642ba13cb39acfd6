//go:build unix

package voicecache

import "syscall"

// detachAttr puts the server in its own session, away from the terminal's
// process group and its signals.
func detachAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
