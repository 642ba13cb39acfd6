package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/speak/internal/audio"
	"github.com/dgnsrekt/speak/internal/ttypes"
)

// fakeProvider emits chunks, then returns streamErr. When errAfter is set the
// error is returned after that many chunks instead.
type fakeProvider struct {
	info      ttypes.ProviderInfo
	chunks    [][]byte
	streamErr error
	errAfter  int
	fileData  []byte
	fileErr   error

	mu         sync.Mutex
	emitted    int
	streamed   int
	filePaths  []string
	emitErrors []error
}

func newFakeProvider(n int) *fakeProvider {
	p := &fakeProvider{
		info: ttypes.ProviderInfo{
			Name:         "fake",
			NativeFormat: ttypes.ContainerWAV,
			StreamFormat: ttypes.FormatHint{Container: ttypes.ContainerPCM, SampleRate: 22050, Channels: 1},
			Streams:      true,
		},
		fileData: []byte("RIFF-fake-clip"),
	}
	for i := 0; i < n; i++ {
		p.chunks = append(p.chunks, []byte(fmt.Sprintf("chunk-%d", i)))
	}
	return p
}

func (p *fakeProvider) StreamingSynthesize(ctx context.Context, _ *ttypes.SynthesisRequest, emit ttypes.EmitFunc) error {
	p.mu.Lock()
	p.streamed++
	p.mu.Unlock()
	for i, c := range p.chunks {
		if p.errAfter > 0 && i == p.errAfter {
			return p.streamErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := emit(ttypes.AudioChunk{Data: c, Index: i}); err != nil {
			p.emitErrors = append(p.emitErrors, err)
			return err
		}
		p.emitted++
	}
	if p.errAfter > 0 {
		return nil
	}
	return p.streamErr
}

func (p *fakeProvider) SynthesizeToFile(_ context.Context, _ *ttypes.SynthesisRequest, path string) error {
	p.mu.Lock()
	p.filePaths = append(p.filePaths, path)
	p.mu.Unlock()
	if p.fileErr != nil {
		return p.fileErr
	}
	return os.WriteFile(path, p.fileData, 0o644)
}

func (p *fakeProvider) GetInfo() ttypes.ProviderInfo { return p.info }

// fakeStream fails every write from failAt on, reporting exitCode.
type fakeStream struct {
	failAt     int
	exitCode   int
	finishCode int

	mu         sync.Mutex
	writes     [][]byte
	exited     bool
	finished   bool
	terminated bool
	done       chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{failAt: -1, done: make(chan struct{})}
}

func (s *fakeStream) Write(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAt >= 0 && len(s.writes) >= s.failAt {
		if !s.exited {
			s.exited = true
			close(s.done)
		}
		return fmt.Errorf("write to player: %w", ErrBrokenPipe)
	}
	s.writes = append(s.writes, chunk)
	return nil
}

func (s *fakeStream) HasExited() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exited {
		return false, -1
	}
	if s.finished && s.failAt < 0 {
		return true, s.finishCode
	}
	return true, s.exitCode
}

func (s *fakeStream) Done() <-chan struct{} { return s.done }

func (s *fakeStream) Finish() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	if !s.exited {
		s.exited = true
		close(s.done)
		return s.finishCode
	}
	return s.exitCode
}

func (s *fakeStream) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = true
	if !s.exited {
		s.exited = true
		close(s.done)
	}
}

type fakeOutput struct {
	stream   *fakeStream
	startErr error
	playErr  error

	starts int
	played [][]byte
}

func (o *fakeOutput) StartStreaming(context.Context, ttypes.FormatHint) (Stream, error) {
	o.starts++
	if o.startErr != nil {
		return nil, o.startErr
	}
	return o.stream, nil
}

func (o *fakeOutput) PlayFile(_ context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("fake player cannot read %s: %w", path, err)
	}
	o.played = append(o.played, data)
	return o.playErr
}

func mustSpeakRequest(t *testing.T) *ttypes.SynthesisRequest {
	t.Helper()
	req, err := ttypes.NewStreamRequest("hello world", "", nil)
	if err != nil {
		t.Fatalf("NewStreamRequest failed: %v", err)
	}
	return req
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected temp files to be removed, found %d entries (first %s)", len(entries), entries[0].Name())
	}
}

func newTestSynthesizer(t *testing.T, p ttypes.Provider, out Output, probe bool) (*Synthesizer, *[]State) {
	t.Helper()
	var states []State
	s := NewSynthesizer(p, out,
		WithProbe(func() bool { return probe }),
		WithTempDir(t.TempDir()),
		WithExitGrace(50*time.Millisecond),
		WithStateHook(func(_, to State) { states = append(states, to) }),
	)
	return s, &states
}

func lastState(states []State) State {
	if len(states) == 0 {
		return StateIdle
	}
	return states[len(states)-1]
}

func visited(states []State, want State) bool {
	for _, s := range states {
		if s == want {
			return true
		}
	}
	return false
}

func TestSpeakDirectStream(t *testing.T) {
	p := newFakeProvider(4)
	out := &fakeOutput{stream: newFakeStream()}
	s, states := newTestSynthesizer(t, p, out, true)

	if err := s.Speak(context.Background(), mustSpeakRequest(t)); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	if len(out.stream.writes) != 4 {
		t.Errorf("expected 4 writes, got %d", len(out.stream.writes))
	}
	for i, w := range out.stream.writes {
		if want := fmt.Sprintf("chunk-%d", i); string(w) != want {
			t.Errorf("write %d = %q, want %q (chunks out of order)", i, w, want)
		}
	}
	if !out.stream.finished {
		t.Error("expected stream to be finished")
	}
	if len(p.filePaths) != 0 {
		t.Errorf("unexpected fallback synthesis: %v", p.filePaths)
	}
	want := []State{StateProbeEnvironment, StateDirectStream, StateDone}
	if fmt.Sprint(*states) != fmt.Sprint(want) {
		t.Errorf("states = %v, want %v", *states, want)
	}
}

func TestSpeakFallsBack(t *testing.T) {
	tests := []struct {
		name      string
		probe     bool
		streams   bool
		stream    func() *fakeStream
		startErr  error
		streamErr error
		errAfter  int
	}{
		{
			name:    "audio environment unusable",
			probe:   false,
			streams: true,
		},
		{
			name:    "provider cannot stream",
			probe:   true,
			streams: false,
		},
		{
			name:    "player exits non-zero mid-stream",
			probe:   true,
			streams: true,
			stream: func() *fakeStream {
				s := newFakeStream()
				s.failAt = 2
				s.exitCode = 1
				return s
			},
		},
		{
			name:    "player exits non-zero after full delivery",
			probe:   true,
			streams: true,
			stream: func() *fakeStream {
				s := newFakeStream()
				s.finishCode = 3
				return s
			},
		},
		{
			name:      "network drops after bytes were written",
			probe:     true,
			streams:   true,
			streamErr: ttypes.NetworkError("fake", "connection reset", nil),
			errAfter:  2,
		},
		{
			name:     "player cannot start",
			probe:    true,
			streams:  true,
			startErr: errors.New("exec format error"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider(4)
			p.info.Streams = tt.streams
			p.streamErr = tt.streamErr
			p.errAfter = tt.errAfter

			out := &fakeOutput{stream: newFakeStream(), startErr: tt.startErr}
			if tt.stream != nil {
				out.stream = tt.stream()
			}
			s, states := newTestSynthesizer(t, p, out, tt.probe)

			if err := s.Speak(context.Background(), mustSpeakRequest(t)); err != nil {
				t.Fatalf("Speak failed: %v", err)
			}
			if !visited(*states, StateTempFileFallback) {
				t.Errorf("expected fallback, states = %v", *states)
			}
			if lastState(*states) != StateDone {
				t.Errorf("final state = %v, want done", lastState(*states))
			}
			if len(out.played) != 1 || string(out.played[0]) != string(p.fileData) {
				t.Errorf("expected the fallback clip to be played once, got %d plays", len(out.played))
			}
			assertEmptyDir(t, s.tempDir)
		})
	}
}

func TestSpeakPlayerFinishedEarlyIsComplete(t *testing.T) {
	p := newFakeProvider(5)
	stream := newFakeStream()
	stream.failAt = 2
	stream.exitCode = 0
	out := &fakeOutput{stream: stream}
	s, states := newTestSynthesizer(t, p, out, true)

	if err := s.Speak(context.Background(), mustSpeakRequest(t)); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if visited(*states, StateTempFileFallback) {
		t.Errorf("clean early exit must not fall back, states = %v", *states)
	}
	if p.emitted != 2 {
		t.Errorf("provider should stop once the player is done, emitted %d of 5", p.emitted)
	}
	if len(p.emitErrors) != 1 || !errors.Is(p.emitErrors[0], errPlaybackComplete) {
		t.Errorf("emit errors = %v, want one errPlaybackComplete", p.emitErrors)
	}
	if p.streamed != 1 {
		t.Errorf("provider streamed %d times, want 1", p.streamed)
	}
	if len(stream.writes) != 2 {
		t.Errorf("expected 2 delivered writes, got %d", len(stream.writes))
	}
}

func TestSpeakFails(t *testing.T) {
	tests := []struct {
		name      string
		streamErr error
		errAfter  int
		startErr  error
		fileErr   error
		probe     bool
		want      error
	}{
		{
			name:      "provider rejects request",
			streamErr: ttypes.ProviderError("fake", "bad voice", nil),
			probe:     true,
			want:      ErrProvider,
		},
		{
			name:      "network failure before any byte",
			streamErr: ttypes.NetworkError("fake", "no route to host", nil),
			probe:     true,
			want:      ErrNetwork,
		},
		{
			name:     "no player installed",
			startErr: ttypes.DependencyError("audio player"),
			probe:    true,
			want:     ErrDependency,
		},
		{
			name:    "fallback synthesis fails",
			fileErr: ttypes.ProviderError("fake", "quota exceeded", nil),
			probe:   false,
			want:    ErrProvider,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider(3)
			p.streamErr = tt.streamErr
			p.errAfter = tt.errAfter
			p.fileErr = tt.fileErr
			out := &fakeOutput{stream: newFakeStream(), startErr: tt.startErr}
			s, states := newTestSynthesizer(t, p, out, tt.probe)

			if tt.streamErr != nil {
				p.chunks = nil
			}

			err := s.Speak(context.Background(), mustSpeakRequest(t))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Speak error = %v, want %v", err, tt.want)
			}
			if lastState(*states) != StateFailed {
				t.Errorf("final state = %v, want failed", lastState(*states))
			}
			if tt.probe && tt.startErr == nil && !out.stream.terminated {
				t.Error("expected stream to be terminated on failure")
			}
			if tt.probe && visited(*states, StateTempFileFallback) {
				t.Errorf("unexpected fallback, states = %v", *states)
			}
			assertEmptyDir(t, s.tempDir)
		})
	}
}

func TestSpeakCanceled(t *testing.T) {
	p := newFakeProvider(3)
	out := &fakeOutput{stream: newFakeStream()}
	s, states := newTestSynthesizer(t, p, out, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Speak(ctx, mustSpeakRequest(t))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Speak error = %v, want context.Canceled", err)
	}
	if visited(*states, StateTempFileFallback) {
		t.Errorf("canceled request must not fall back, states = %v", *states)
	}
	if !out.stream.terminated {
		t.Error("expected stream to be terminated")
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateProbeEnvironment, "probe-environment"},
		{StateDirectStream, "direct-stream"},
		{StateTempFileFallback, "temp-file-fallback"},
		{StateDone, "done"},
		{StateFailed, "failed"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

// TestSpeakWithRealSink runs the state machine against real player processes.
// The player script distinguishes stream mode ($0 is "-") from file mode.
func TestSpeakWithRealSink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping shell-based player test on Windows")
	}

	tests := []struct {
		name         string
		script       string
		wantFallback bool
	}{
		{
			name:   "player consumes stream",
			script: `if [ "$0" = "-" ]; then cat >/dev/null; else test -s "$0"; fi`,
		},
		{
			name:         "player crashes while streaming",
			script:       `if [ "$0" = "-" ]; then exit 2; else test -s "$0"; fi`,
			wantFallback: true,
		},
		{
			name:   "player stops reading and exits cleanly",
			script: `if [ "$0" = "-" ]; then exit 0; else exit 9; fi`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			player, err := audio.ParsePlayerCommand(fmt.Sprintf("sh -c '%s' {file}", tt.script))
			if err != nil {
				t.Skipf("sh not available: %v", err)
			}
			sink := audio.NewSink(audio.Players{player},
				audio.WithFinishTimeout(2*time.Second),
				audio.WithTerminateTimeout(500*time.Millisecond))

			p := newFakeProvider(64)
			for i := range p.chunks {
				p.chunks[i] = make([]byte, 16<<10)
			}
			dir := t.TempDir()
			var states []State
			s := NewSynthesizer(p, NewSinkOutput(sink),
				WithProbe(func() bool { return true }),
				WithTempDir(dir),
				WithStateHook(func(_, to State) { states = append(states, to) }),
			)

			if err := s.Speak(context.Background(), mustSpeakRequest(t)); err != nil {
				t.Fatalf("Speak failed: %v (states %v)", err, states)
			}
			if got := visited(states, StateTempFileFallback); got != tt.wantFallback {
				t.Errorf("fallback = %v, want %v (states %v)", got, tt.wantFallback, states)
			}
			if h := sink.Active(); h != nil {
				t.Errorf("player %d still active after Speak", h.PID())
			}
			matches, _ := filepath.Glob(filepath.Join(dir, "speak-*"))
			if len(matches) != 0 {
				t.Errorf("temp files left behind: %v", matches)
			}
		})
	}
}
