package tts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/rs/xid"

	"github.com/dgnsrekt/speak/internal/audio"
	"github.com/dgnsrekt/speak/internal/ttypes"
)

// State is a step of the per-request streaming state machine.
type State int

const (
	StateIdle State = iota
	StateProbeEnvironment
	StateDirectStream
	StateTempFileFallback
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbeEnvironment:
		return "probe-environment"
	case StateDirectStream:
		return "direct-stream"
	case StateTempFileFallback:
		return "temp-file-fallback"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// DefaultExitGrace is how long a failed write waits for the player to be
// reaped before deciding how it exited.
const DefaultExitGrace = 500 * time.Millisecond

// Synthesizer plays provider audio, streaming when possible and falling back
// to a temp file when the stream cannot be completed.
type Synthesizer struct {
	provider  ttypes.Provider
	out       Output
	probe     func() bool
	tempDir   string
	converter Converter
	exitGrace time.Duration
	onState   func(from, to State)
}

// SynthOption configures a Synthesizer.
type SynthOption func(*Synthesizer)

// WithProbe replaces the audio environment probe.
func WithProbe(probe func() bool) SynthOption {
	return func(s *Synthesizer) { s.probe = probe }
}

// WithTempDir sets where fallback and conversion temp files go.
func WithTempDir(dir string) SynthOption {
	return func(s *Synthesizer) { s.tempDir = dir }
}

// WithConverter replaces the ffmpeg converter used by Save.
func WithConverter(c Converter) SynthOption {
	return func(s *Synthesizer) { s.converter = c }
}

// WithExitGrace sets how long to wait for a player after a failed write.
func WithExitGrace(d time.Duration) SynthOption {
	return func(s *Synthesizer) { s.exitGrace = d }
}

// WithStateHook is called on every state transition.
func WithStateHook(fn func(from, to State)) SynthOption {
	return func(s *Synthesizer) { s.onState = fn }
}

// NewSynthesizer creates a synthesizer for one provider and output.
func NewSynthesizer(provider ttypes.Provider, out Output, opts ...SynthOption) *Synthesizer {
	s := &Synthesizer{
		provider:  provider,
		out:       out,
		probe:     audio.ProbeEnvironment,
		converter: FFmpegConverter{},
		exitGrace: DefaultExitGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// streamStats are collected for diagnostics only.
type streamStats struct {
	chunks     int
	bytes      int
	firstChunk time.Duration
	elapsed    time.Duration
}

// run holds the state of one request.
type run struct {
	s      *Synthesizer
	req    *ttypes.SynthesisRequest
	info   ttypes.ProviderInfo
	logger *log.Logger
}

// Speak plays req. Save requests are delegated to Save.
func (s *Synthesizer) Speak(ctx context.Context, req *ttypes.SynthesisRequest) error {
	if req.Mode() == ttypes.ModeSave {
		return s.Save(ctx, req)
	}

	info := s.provider.GetInfo()
	r := &run{
		s:      s,
		req:    req,
		info:   info,
		logger: log.With("req", xid.New().String(), "provider", info.Name),
	}
	r.logger.Debug("speak request", "chars", len(req.Text()), "voice", req.Voice())

	state := StateIdle
	next := StateProbeEnvironment
	var err error
	for {
		r.transition(state, next)
		state = next

		switch state {
		case StateProbeEnvironment:
			next = r.probeEnvironment()
		case StateDirectStream:
			next, err = r.directStream(ctx)
		case StateTempFileFallback:
			next, err = r.tempFileFallback(ctx)
		case StateDone:
			return nil
		case StateFailed:
			r.logger.Debug("request failed", "error", err)
			return err
		default:
			return fmt.Errorf("synthesizer reached unknown state %v", state)
		}
	}
}

func (r *run) transition(from, to State) {
	if from != StateIdle || to != StateProbeEnvironment {
		r.logger.Debug("state transition", "from", from, "to", to)
	}
	if r.s.onState != nil {
		r.s.onState(from, to)
	}
}

func (r *run) probeEnvironment() State {
	if !r.info.Streams {
		return StateTempFileFallback
	}
	if !r.s.probe() {
		r.logger.Info("no usable audio environment for streaming, using temp file")
		return StateTempFileFallback
	}
	return StateDirectStream
}

func (r *run) streamFormat() ttypes.FormatHint {
	if f, ok := r.s.provider.(ttypes.StreamFormatter); ok {
		return f.StreamFormatFor(r.req)
	}
	return r.info.StreamFormat
}

// sinkBrokenError stops the provider when the player died mid-stream.
type sinkBrokenError struct {
	code int
	err  error
}

func (e *sinkBrokenError) Error() string {
	return fmt.Sprintf("output process exited with code %d: %v", e.code, e.err)
}

func (e *sinkBrokenError) Unwrap() error { return e.err }

func (r *run) directStream(ctx context.Context) (State, error) {
	hint := r.streamFormat()
	stream, err := r.s.out.StartStreaming(ctx, hint)
	if err != nil {
		if errors.Is(err, ErrDependency) || ctx.Err() != nil {
			return StateFailed, err
		}
		r.logger.Warn("cannot start streaming player, using temp file", "error", err)
		return StateTempFileFallback, nil
	}

	var (
		stats    streamStats
		complete bool
		start    = time.Now()
	)
	emit := func(chunk ttypes.AudioChunk) error {
		if complete {
			return errPlaybackComplete
		}
		if stats.chunks == 0 {
			stats.firstChunk = time.Since(start)
		}
		if err := stream.Write(chunk.Data); err != nil {
			exited, code := r.awaitExit(stream)
			if exited && code == 0 {
				r.logger.Debug("output process finished before the stream ended, treating as complete", "bytes", stats.bytes)
				complete = true
				return errPlaybackComplete
			}
			return &sinkBrokenError{code: code, err: err}
		}
		stats.chunks++
		stats.bytes += len(chunk.Data)
		return nil
	}

	perr := r.s.provider.StreamingSynthesize(ctx, r.req, emit)
	stats.elapsed = time.Since(start)

	var broken *sinkBrokenError
	switch {
	case errors.As(perr, &broken):
		stream.Finish()
		r.logger.Warn("output process exited during streaming, using temp file",
			"code", broken.code, "bytes", stats.bytes, "chunks", stats.chunks)
		return StateTempFileFallback, nil

	case complete:
		stream.Finish()
		if perr != nil && !errors.Is(perr, errPlaybackComplete) {
			r.logger.Debug("provider error after playback completed", "error", perr)
		}
		return StateDone, nil

	case perr != nil:
		stream.Terminate()
		if ctx.Err() != nil {
			return StateFailed, ctx.Err()
		}
		if errors.Is(perr, ErrNetwork) && stats.bytes > 0 {
			r.logger.Warn("stream interrupted, retrying through temp file", "error", perr, "bytes", stats.bytes)
			return StateTempFileFallback, nil
		}
		return StateFailed, perr
	}

	code := stream.Finish()
	if code != 0 {
		err := ttypes.AudioPlaybackError("stream", fmt.Sprintf("player exited with code %d after full delivery", code), nil)
		r.logger.Warn("streaming playback failed, using temp file", "error", err)
		return StateTempFileFallback, nil
	}

	r.logger.Debug("stream complete",
		"bytes", stats.bytes,
		"chunks", stats.chunks,
		"first_chunk", stats.firstChunk,
		"elapsed", stats.elapsed,
		"format", hint)
	return StateDone, nil
}

// errPlaybackComplete stops the provider once the player has exited cleanly.
var errPlaybackComplete = errors.New("playback already complete")

// awaitExit gives a player whose stdin broke a moment to be reaped.
func (r *run) awaitExit(stream Stream) (bool, int) {
	if exited, code := stream.HasExited(); exited {
		return true, code
	}
	timer := time.NewTimer(r.s.exitGrace)
	defer timer.Stop()
	select {
	case <-stream.Done():
		return stream.HasExited()
	case <-timer.C:
		return false, -1
	}
}

func (r *run) tempFileFallback(ctx context.Context) (State, error) {
	f, err := os.CreateTemp(r.s.tempDir, "speak-*."+string(r.info.NativeFormat))
	if err != nil {
		return StateFailed, fmt.Errorf("creating temp file: %w", err)
	}
	path := f.Name()
	f.Close()
	defer removeTemp(r.logger, path)

	if err := r.s.provider.SynthesizeToFile(ctx, r.req, path); err != nil {
		return StateFailed, err
	}
	if err := r.s.out.PlayFile(ctx, path); err != nil {
		return StateFailed, err
	}
	return StateDone, nil
}

func removeTemp(logger *log.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("failed to remove temp file", "path", path, "error", err)
	}
}
