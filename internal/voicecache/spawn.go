package voicecache

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/charmbracelet/log"
)

// SpawnFunc starts a cache server listening on addr without waiting for it.
type SpawnFunc func(addr string) error

// SpawnSelf re-executes the running binary as `voice serve --addr addr`,
// detached from the caller's session so it outlives this invocation.
func SpawnSelf(addr string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating speak executable: %w", err)
	}
	return spawnDetached(exe, "voice", "serve", "--addr", addr)
}

func spawnDetached(name string, args ...string) error {
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", os.DevNull, err)
	}
	defer devnull.Close()

	cmd := exec.Command(name, args...)
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = detachAttr()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting cache server: %w", err)
	}
	log.Debug("spawned cache server", "pid", cmd.Process.Pid, "args", args)
	return cmd.Process.Release()
}
