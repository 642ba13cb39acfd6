package engines

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"

	"github.com/dgnsrekt/speak/internal/ttypes"
)

// DefaultPiperTimeout bounds a single piper invocation.
const DefaultPiperTimeout = 2 * time.Minute

// PiperConfig holds configuration for the Piper engine.
type PiperConfig struct {
	// Binary is the piper executable; defaults to "piper" on PATH.
	Binary string

	// ModelPath is the default .onnx voice. A request voice overrides it.
	ModelPath string

	Timeout time.Duration
}

// PiperEngine runs one fresh piper process per request with stdin
// pre-configured, streaming raw PCM from stdout.
type PiperEngine struct {
	binary  string
	model   string
	config  ModelConfig
	timeout time.Duration
}

// NewPiperEngine validates the default model and reads its sidecar config.
func NewPiperEngine(cfg PiperConfig) (*PiperEngine, error) {
	if cfg.Binary == "" {
		cfg.Binary = "piper"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultPiperTimeout
	}
	if cfg.ModelPath == "" {
		return nil, ttypes.InvalidInputError("piper", "no piper model configured").
			WithHint("set piper.model in speak.yml or pass --voice /path/to/voice.onnx")
	}

	model, modelCfg, err := loadPiperModel(cfg.ModelPath)
	if err != nil {
		return nil, err
	}

	return &PiperEngine{
		binary:  cfg.Binary,
		model:   model,
		config:  modelCfg,
		timeout: cfg.Timeout,
	}, nil
}

func loadPiperModel(path string) (string, ModelConfig, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", ModelConfig{}, ttypes.InvalidInputError("piper", fmt.Sprintf("cannot expand model path %q: %v", path, err))
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", ModelConfig{}, ttypes.InvalidInputError("piper", fmt.Sprintf("cannot resolve model path %q: %v", path, err))
	}
	if _, err := os.Stat(abs); err != nil {
		return "", ModelConfig{}, ttypes.InvalidInputError("piper", fmt.Sprintf("model file not accessible: %v", err)).
			WithHint("download voices from https://huggingface.co/rhasspy/piper-voices")
	}
	modelCfg, err := ReadModelConfig(abs)
	if err != nil {
		return "", ModelConfig{}, ttypes.ProviderError("piper", "invalid model config", err)
	}
	return abs, modelCfg, nil
}

// ModelPath returns the default model path.
func (e *PiperEngine) ModelPath() string { return e.model }

// SampleRate returns the default model's sample rate.
func (e *PiperEngine) SampleRate() int { return e.config.SampleRate }

func (e *PiperEngine) spec(model, text string, params map[string]string) (procSpec, error) {
	args := []string{"--model", model, "--output-raw"}

	if raw := params[ParamSpeed]; raw != "" {
		speed, err := ParseSpeed(raw)
		if err != nil {
			return procSpec{}, err
		}
		if speed != 1.0 {
			args = append(args, "--length-scale", speed.PiperLengthScale())
		}
	}
	if speaker := params[ParamSpeaker]; speaker != "" {
		args = append(args, "--speaker", speaker)
	}

	return procSpec{binary: e.binary, args: args, stdin: text, timeout: e.timeout}, nil
}

// resolve picks the request's model, or the default one.
func (e *PiperEngine) resolve(req *ttypes.SynthesisRequest) (string, ModelConfig, error) {
	if req.Voice() == "" || req.Voice() == e.model {
		return e.model, e.config, nil
	}
	return loadPiperModel(req.Voice())
}

// StreamingSynthesize streams raw PCM chunks as piper produces them.
func (e *PiperEngine) StreamingSynthesize(ctx context.Context, req *ttypes.SynthesisRequest, emit ttypes.EmitFunc) error {
	model, _, err := e.resolve(req)
	if err != nil {
		return err
	}
	spec, err := e.spec(model, req.Text(), req.Params())
	if err != nil {
		return err
	}

	log.Debug("piper streaming synthesis", "model", filepath.Base(model), "chars", len(req.Text()))
	return e.classify(streamProcess(ctx, spec, emit))
}

// SynthesizePCM runs piper on model and returns the raw PCM.
func (e *PiperEngine) SynthesizePCM(ctx context.Context, model, text string, params map[string]string) ([]byte, error) {
	spec, err := e.spec(model, text, params)
	if err != nil {
		return nil, err
	}
	pcm, err := runProcess(ctx, spec)
	if err != nil {
		return nil, e.classify(err)
	}
	if len(pcm) == 0 {
		return nil, ttypes.ProviderError("piper", "piper produced no audio", nil)
	}
	return pcm, nil
}

// SynthesizeToFile writes a WAV clip to path.
func (e *PiperEngine) SynthesizeToFile(ctx context.Context, req *ttypes.SynthesisRequest, path string) error {
	model, modelCfg, err := e.resolve(req)
	if err != nil {
		return err
	}
	pcm, err := e.SynthesizePCM(ctx, model, req.Text(), req.Params())
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := EncodeWAV(f, pcm, modelCfg.SampleRate, 1); err != nil {
		f.Close()
		return ttypes.ProviderError("piper", "cannot write wav", err)
	}
	return f.Close()
}

// GetInfo returns engine capabilities.
func (e *PiperEngine) GetInfo() ttypes.ProviderInfo {
	return ttypes.ProviderInfo{
		Name:         ttypes.ProviderPiper,
		NativeFormat: ttypes.ContainerWAV,
		StreamFormat: ttypes.FormatHint{
			Container:  ttypes.ContainerPCM,
			SampleRate: e.config.SampleRate,
			Channels:   1,
		},
		Streams: true,
		Online:  false,
		Voices:  []string{e.model},
	}
}

// StreamFormatFor reports the PCM layout for the request's voice.
func (e *PiperEngine) StreamFormatFor(req *ttypes.SynthesisRequest) ttypes.FormatHint {
	rate := e.config.SampleRate
	if _, cfg, err := e.resolve(req); err == nil {
		rate = cfg.SampleRate
	}
	return ttypes.FormatHint{Container: ttypes.ContainerPCM, SampleRate: rate, Channels: 1}
}

// classify maps subprocess failures to provider errors; emit and context
// errors pass through.
func (e *PiperEngine) classify(err error) error {
	var pe *procError
	if errors.As(err, &pe) {
		return ttypes.ProviderError("piper", "synthesis failed", pe)
	}
	return err
}

var _ ttypes.Provider = (*PiperEngine)(nil)
