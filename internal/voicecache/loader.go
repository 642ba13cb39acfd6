package voicecache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/speak/internal/tts/engines"
)

// Model is a voice held in server memory.
type Model interface {
	// Synthesize returns a complete WAV clip.
	Synthesize(ctx context.Context, text string, options map[string]string) ([]byte, error)
	MemoryBytes() int64
	Close() error
}

// Loader turns a canonical voice path into a Model.
type Loader interface {
	Load(ctx context.Context, path string) (Model, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, path string) (Model, error)

func (f LoaderFunc) Load(ctx context.Context, path string) (Model, error) { return f(ctx, path) }

// PiperLoader loads piper .onnx voices. Loading starts a resident piper
// process with the model; synthesis reuses it, so the model is read from
// disk once per handle. A speed option other than the default gets its own
// process, started on first use.
type PiperLoader struct {
	Binary string
}

func (l PiperLoader) Load(_ context.Context, path string) (Model, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("voice model not accessible: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("voice model %s is a directory", path)
	}
	if _, err := engines.ReadModelConfig(path); err != nil {
		return nil, err
	}

	m := &piperModel{
		path:   path,
		binary: l.Binary,
		size:   info.Size(),
		procs:  make(map[string]*engines.ResidentPiper),
	}
	if _, err := m.process(""); err != nil {
		return nil, err
	}
	return m, nil
}

type piperModel struct {
	path   string
	binary string
	size   int64

	mu     sync.Mutex
	procs  map[string]*engines.ResidentPiper // by length scale
	closed bool
}

// process returns the running piper for lengthScale, restarting one that
// exited.
func (m *piperModel) process(lengthScale string) (*engines.ResidentPiper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("voice was unloaded")
	}
	if p := m.procs[lengthScale]; p != nil {
		if !p.Exited() {
			return p, nil
		}
		log.Warn("resident piper exited, restarting", "model", m.path, "length_scale", lengthScale)
		p.Close() //nolint:errcheck
	}
	p, err := engines.StartResidentPiper(engines.ResidentPiperConfig{
		Binary:      m.binary,
		Model:       m.path,
		LengthScale: lengthScale,
	})
	if err != nil {
		return nil, err
	}
	m.procs[lengthScale] = p
	return p, nil
}

func (m *piperModel) Synthesize(ctx context.Context, text string, options map[string]string) ([]byte, error) {
	var lengthScale string
	if raw := options[engines.ParamSpeed]; raw != "" {
		speed, err := engines.ParseSpeed(raw)
		if err != nil {
			return nil, err
		}
		if speed != 1.0 {
			lengthScale = speed.PiperLengthScale()
		}
	}
	p, err := m.process(lengthScale)
	if err != nil {
		return nil, err
	}
	return p.Synthesize(ctx, text, options[engines.ParamSpeaker])
}

// MemoryBytes estimates the resident size from the model file.
func (m *piperModel) MemoryBytes() int64 {
	return m.size
}

func (m *piperModel) Close() error {
	m.mu.Lock()
	procs := m.procs
	m.procs = nil
	m.closed = true
	m.mu.Unlock()

	for _, p := range procs {
		p.Close() //nolint:errcheck
	}
	return nil
}
