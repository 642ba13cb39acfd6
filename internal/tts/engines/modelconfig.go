package engines

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSampleRate is used when a piper model has no sidecar config.
const DefaultSampleRate = 22050

// ModelConfig is the subset of a piper .onnx.json sidecar we use.
type ModelConfig struct {
	SampleRate  int
	NumSpeakers int
	Language    string
}

type sidecar struct {
	Audio struct {
		SampleRate int `json:"sample_rate"`
	} `json:"audio"`
	NumSpeakers int `json:"num_speakers"`
	Language    struct {
		Code string `json:"code"`
	} `json:"language"`
}

// SidecarPath returns the config path for a piper model: model.onnx.json,
// falling back to model.json.
func SidecarPath(model string) string {
	primary := model + ".json"
	if _, err := os.Stat(primary); err == nil {
		return primary
	}
	alt := strings.TrimSuffix(model, filepath.Ext(model)) + ".json"
	if _, err := os.Stat(alt); err == nil {
		return alt
	}
	return primary
}

// ReadModelConfig reads the sidecar next to model. A missing sidecar yields
// defaults; a malformed one is an error.
func ReadModelConfig(model string) (ModelConfig, error) {
	cfg := ModelConfig{SampleRate: DefaultSampleRate, NumSpeakers: 1}

	data, err := os.ReadFile(SidecarPath(model))
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading model config: %w", err)
	}

	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return cfg, fmt.Errorf("parsing model config %s: %w", SidecarPath(model), err)
	}
	if sc.Audio.SampleRate > 0 {
		cfg.SampleRate = sc.Audio.SampleRate
	}
	if sc.NumSpeakers > 0 {
		cfg.NumSpeakers = sc.NumSpeakers
	}
	cfg.Language = sc.Language.Code
	return cfg, nil
}
