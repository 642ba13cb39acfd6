package engines

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/dgnsrekt/speak/internal/ttypes"
)

const (
	// streamChunkSize is the read size for subprocess stdout.
	streamChunkSize = 4096

	// interruptGrace is how long a canceled subprocess gets between
	// SIGINT and SIGKILL.
	interruptGrace = 500 * time.Millisecond
)

// procError describes a failed engine subprocess.
type procError struct {
	binary   string
	err      error
	stderr   string
	timedOut bool
	timeout  time.Duration
}

func (e *procError) Error() string {
	if e.timedOut {
		return fmt.Sprintf("%s timed out after %v", e.binary, e.timeout)
	}
	if e.stderr != "" {
		return fmt.Sprintf("%s failed: %v: %s", e.binary, e.err, e.stderr)
	}
	return fmt.Sprintf("%s failed: %v", e.binary, e.err)
}

func (e *procError) Unwrap() error { return e.err }

// procSpec describes one engine subprocess invocation.
type procSpec struct {
	binary  string
	args    []string
	stdin   string
	timeout time.Duration
}

func (p procSpec) command(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, p.binary, p.args...)
	// stdin is set before start; piper reads it immediately
	cmd.Stdin = strings.NewReader(p.stdin)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = interruptGrace
	return cmd
}

// streamProcess runs spec and hands stdout to emit in chunks as it arrives.
// An error returned by emit stops the process and is returned unchanged.
func streamProcess(ctx context.Context, spec procSpec, emit ttypes.EmitFunc) error {
	ctx, cancel := context.WithTimeout(ctx, spec.timeout)
	defer cancel()

	cmd := spec.command(ctx)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &procError{binary: spec.binary, err: err}
	}
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return ttypes.DependencyError(spec.binary)
		}
		return &procError{binary: spec.binary, err: err}
	}

	var emitErr error
	buf := make([]byte, streamChunkSize)
	for index := 0; ; {
		n, rerr := stdout.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if err := emit(ttypes.AudioChunk{Data: data, Index: index}); err != nil {
				emitErr = err
				cancel()
				break
			}
			index++
		}
		if rerr != nil {
			if !errors.Is(rerr, io.EOF) && !errors.Is(rerr, os.ErrClosed) {
				emitErr = &procError{binary: spec.binary, err: rerr}
				cancel()
			}
			break
		}
	}

	werr := cmd.Wait()
	if emitErr != nil {
		return emitErr
	}
	return spec.checkExit(ctx, werr, stderr.String())
}

// runProcess runs spec to completion and returns stdout.
func runProcess(ctx context.Context, spec procSpec) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, spec.timeout)
	defer cancel()

	cmd := spec.command(ctx)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, ttypes.DependencyError(spec.binary)
		}
		return nil, spec.checkExit(ctx, err, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (p procSpec) checkExit(ctx context.Context, err error, stderr string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &procError{binary: p.binary, err: ctx.Err(), timedOut: true, timeout: p.timeout}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return &procError{binary: p.binary, err: err, stderr: strings.TrimSpace(stderr)}
	}
	return nil
}
