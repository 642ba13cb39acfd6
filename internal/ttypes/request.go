package ttypes

import (
	"maps"
	"strings"
)

// TargetMode selects what happens to synthesized audio.
type TargetMode int

const (
	// ModeStream plays audio as it arrives.
	ModeStream TargetMode = iota

	// ModeSave writes audio to a path.
	ModeSave
)

func (m TargetMode) String() string {
	if m == ModeSave {
		return "save"
	}
	return "stream"
}

// SynthesisRequest is immutable once constructed.
type SynthesisRequest struct {
	text   string
	voice  string
	params map[string]string
	mode   TargetMode
	path   string
}

// NewStreamRequest builds a request whose audio is played immediately.
func NewStreamRequest(text, voice string, params map[string]string) (*SynthesisRequest, error) {
	return newRequest(text, voice, params, ModeStream, "")
}

// NewSaveRequest builds a request whose audio is written to path.
func NewSaveRequest(text, voice string, params map[string]string, path string) (*SynthesisRequest, error) {
	if strings.TrimSpace(path) == "" {
		return nil, InvalidInputError("request", "output path is empty")
	}
	return newRequest(text, voice, params, ModeSave, path)
}

func newRequest(text, voice string, params map[string]string, mode TargetMode, path string) (*SynthesisRequest, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, InvalidInputError("request", "text is empty").
			WithHint("pass text as an argument, on stdin, or with --clipboard")
	}
	return &SynthesisRequest{
		text:   text,
		voice:  strings.TrimSpace(voice),
		params: maps.Clone(params),
		mode:   mode,
		path:   path,
	}, nil
}

func (r *SynthesisRequest) Text() string     { return r.text }
func (r *SynthesisRequest) Voice() string    { return r.voice }
func (r *SynthesisRequest) Mode() TargetMode { return r.mode }

// Path is the save destination; empty for stream requests.
func (r *SynthesisRequest) Path() string { return r.path }

// Param returns a provider parameter.
func (r *SynthesisRequest) Param(key string) (string, bool) {
	v, ok := r.params[key]
	return v, ok
}

// Params returns a copy of all provider parameters.
func (r *SynthesisRequest) Params() map[string]string {
	return maps.Clone(r.params)
}
