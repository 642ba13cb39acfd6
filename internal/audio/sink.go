package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/speak/internal/ttypes"
)

const (
	// DefaultFinishTimeout is how long Finish waits after closing stdin.
	DefaultFinishTimeout = 5 * time.Second

	// DefaultTerminateTimeout is how long a process gets after SIGTERM before SIGKILL.
	DefaultTerminateTimeout = 2 * time.Second

	// DefaultPlayTimeout bounds PlayFile.
	DefaultPlayTimeout = 10 * time.Minute

	stderrTail = 4 << 10
)

// Sink owns the local audio-output process. At most one handle is active;
// starting a new one terminates the previous one first.
type Sink struct {
	players Players

	finishTimeout    time.Duration
	terminateTimeout time.Duration
	playTimeout      time.Duration

	mu     sync.Mutex
	active *Handle
}

// Option configures a Sink.
type Option func(*Sink)

func WithFinishTimeout(d time.Duration) Option {
	return func(s *Sink) { s.finishTimeout = d }
}

func WithTerminateTimeout(d time.Duration) Option {
	return func(s *Sink) { s.terminateTimeout = d }
}

func WithPlayTimeout(d time.Duration) Option {
	return func(s *Sink) { s.playTimeout = d }
}

// NewSink creates a sink that launches the given players.
func NewSink(players Players, opts ...Option) *Sink {
	s := &Sink{
		players:          players,
		finishTimeout:    DefaultFinishTimeout,
		terminateTimeout: DefaultTerminateTimeout,
		playTimeout:      DefaultPlayTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle wraps one running output process.
type Handle struct {
	sink   *Sink
	player string
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer

	closeStdinOnce sync.Once

	done     chan struct{}
	exitCode int
	waitErr  error
}

// StartStreaming launches a player reading audio from stdin.
func (s *Sink) StartStreaming(ctx context.Context, hint ttypes.FormatHint) (*Handle, error) {
	p, ok := s.players.ForStream(hint)
	if !ok {
		e := ttypes.DependencyError("audio player")
		e.Message = fmt.Sprintf("no installed player can decode %s from stdin", hint)
		e.Hint = ttypes.InstallHint("ffplay")
		return nil, e
	}
	return s.start(ctx, p.Name, p.StreamCommand(hint), true)
}

// PlayFile plays path and blocks until the player exits, ctx ends, or the
// play timeout elapses.
func (s *Sink) PlayFile(ctx context.Context, path string) error {
	p, ok := s.players.ForFile(ttypes.ContainerFromPath(path))
	if !ok {
		e := ttypes.DependencyError("audio player")
		e.Message = fmt.Sprintf("no installed player can play %s", path)
		e.Hint = ttypes.InstallHint("ffplay")
		return e
	}

	h, err := s.start(ctx, p.Name, p.FileCommand(path), false)
	if err != nil {
		return err
	}

	timer := time.NewTimer(s.playTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		log.Warn("playback timed out", "player", h.player, "pid", h.PID(), "timeout", s.playTimeout)
		h.Terminate()
		return ttypes.AudioPlaybackError("play", fmt.Sprintf("%s did not finish within %v", h.player, s.playTimeout), nil)
	case <-ctx.Done():
		h.Terminate()
		return ctx.Err()
	}

	s.release(h)
	if h.exitCode != 0 {
		return h.exitError("play")
	}
	return nil
}

// Active returns the current handle, if any.
func (s *Sink) Active() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Sink) start(ctx context.Context, name string, argv []string, withStdin bool) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.active; prev != nil {
		log.Debug("superseding active output process", "player", prev.player, "pid", prev.PID())
		prev.terminate()
		s.active = nil
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.WaitDelay = s.terminateTimeout

	h := &Handle{
		sink:   s,
		player: name,
		cmd:    cmd,
		stderr: &tailBuffer{max: stderrTail},
		done:   make(chan struct{}),
	}
	cmd.Stderr = h.stderr

	if withStdin {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return nil, ttypes.AudioPlaybackError("start", "cannot open player stdin", err)
		}
		h.stdin = stdin
	}

	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, ttypes.DependencyError(name)
		}
		return nil, ttypes.AudioPlaybackError("start", "cannot start "+name, err)
	}
	log.Debug("started output process", "player", name, "pid", cmd.Process.Pid, "stdin", withStdin)

	go func() {
		h.waitErr = cmd.Wait()
		h.exitCode = -1
		if cmd.ProcessState != nil {
			h.exitCode = cmd.ProcessState.ExitCode()
		}
		close(h.done)
	}()

	go func() {
		select {
		case <-ctx.Done():
			log.Debug("context ended, terminating output process", "player", name, "pid", cmd.Process.Pid)
			h.Terminate()
		case <-h.done:
		}
	}()

	s.active = h
	return h, nil
}

func (s *Sink) release(h *Handle) {
	s.mu.Lock()
	if s.active == h {
		s.active = nil
	}
	s.mu.Unlock()
}

// PID returns the output process id.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Done is closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// HasExited reports whether the process has been reaped and its exit code.
func (h *Handle) HasExited() (bool, int) {
	select {
	case <-h.done:
		return true, h.exitCode
	default:
		return false, 0
	}
}

// Write feeds a chunk to the player. Once the process is gone every write
// returns an error matching ttypes.ErrBrokenPipe.
func (h *Handle) Write(chunk []byte) error {
	if h.stdin == nil {
		return fmt.Errorf("%w: %s was started without stdin", ttypes.ErrBrokenPipe, h.player)
	}
	if exited, code := h.HasExited(); exited {
		return fmt.Errorf("%w: %s exited with code %d", ttypes.ErrBrokenPipe, h.player, code)
	}
	if _, err := h.stdin.Write(chunk); err != nil {
		return fmt.Errorf("%w: %v", ttypes.ErrBrokenPipe, err)
	}
	return nil
}

// Finish closes stdin and waits for the player to drain. A player that does
// not exit within the finish timeout is terminated. The process is always
// reaped before Finish returns.
func (h *Handle) Finish() int {
	h.closeStdin()

	timer := time.NewTimer(h.sink.finishTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
	case <-timer.C:
		log.Warn("output process still running after stdin closed", "player", h.player, "pid", h.PID(), "timeout", h.sink.finishTimeout)
		h.terminate()
	}

	h.sink.release(h)
	if h.exitCode != 0 {
		log.Debug("output process exited", "player", h.player, "code", h.exitCode, "stderr", h.stderr.String())
	}
	return h.exitCode
}

// Terminate stops the player immediately: SIGTERM, then SIGKILL after the
// terminate timeout. The process is always reaped before Terminate returns.
func (h *Handle) Terminate() {
	h.terminate()
	h.sink.release(h)
}

func (h *Handle) terminate() {
	h.closeStdin()
	if exited, _ := h.HasExited(); exited {
		return
	}

	if err := terminate(h.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Debug("failed to signal output process", "pid", h.PID(), "error", err)
	}

	timer := time.NewTimer(h.sink.terminateTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
		return
	case <-timer.C:
	}

	log.Warn("output process ignored SIGTERM, killing", "player", h.player, "pid", h.PID())
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		log.Warn("failed to kill output process", "pid", h.PID(), "error", err)
	}
	<-h.done
}

func (h *Handle) closeStdin() {
	if h.stdin == nil {
		return
	}
	h.closeStdinOnce.Do(func() {
		// the pipe may already be closed by Wait
		_ = h.stdin.Close()
	})
}

// Stderr returns the tail of the player's stderr.
func (h *Handle) Stderr() string {
	return h.stderr.String()
}

func (h *Handle) exitError(op string) error {
	msg := fmt.Sprintf("%s exited with code %d", h.player, h.exitCode)
	var cause error
	if tail := strings.TrimSpace(h.stderr.String()); tail != "" {
		cause = errors.New(tail)
	}
	return ttypes.AudioPlaybackError(op, msg, cause)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
