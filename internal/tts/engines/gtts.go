package engines

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/speak/internal/ttypes"
)

// GTTSConfig holds configuration for the gTTS engine.
type GTTSConfig struct {
	// Binary defaults to "gtts-cli".
	Binary string

	// Language code (e.g., "en", "es", "fr"); defaults to "en".
	Language string

	// Timeout for one gtts-cli run; network bound, so generous.
	Timeout time.Duration

	// RequestsPerMinute limits calls to avoid being blocked by Google (default 50).
	RequestsPerMinute int
}

// GTTSEngine synthesizes MP3 through gtts-cli, which needs network access.
type GTTSEngine struct {
	binary      string
	language    string
	timeout     time.Duration
	rateLimiter *rate.Limiter
}

// NewGTTSEngine creates a gTTS engine.
func NewGTTSEngine(cfg GTTSConfig) *GTTSEngine {
	if cfg.Binary == "" {
		cfg.Binary = "gtts-cli"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 50
	}
	return &GTTSEngine{
		binary:      cfg.Binary,
		language:    cfg.Language,
		timeout:     cfg.Timeout,
		rateLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
	}
}

func (e *GTTSEngine) spec(req *ttypes.SynthesisRequest, output string) (procSpec, error) {
	speed, err := speedParam(req)
	if err != nil {
		return procSpec{}, err
	}
	lang := e.language
	if l, ok := req.Param(ParamLang); ok && l != "" {
		lang = l
	} else if v := req.Voice(); v != "" {
		lang = v
	}

	// text on stdin ("-") avoids argv length limits
	args := []string{"-", "-l", lang}
	if speed.GTTSSlow() {
		args = append(args, "--slow")
	}
	args = append(args, "-o", output)
	return procSpec{binary: e.binary, args: args, stdin: req.Text(), timeout: e.timeout}, nil
}

func (e *GTTSEngine) wait(ctx context.Context) error {
	if err := e.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait canceled: %w", err)
	}
	return nil
}

// StreamingSynthesize streams MP3 bytes as gtts-cli writes them.
func (e *GTTSEngine) StreamingSynthesize(ctx context.Context, req *ttypes.SynthesisRequest, emit ttypes.EmitFunc) error {
	spec, err := e.spec(req, "-")
	if err != nil {
		return err
	}
	if err := e.wait(ctx); err != nil {
		return err
	}
	log.Debug("gtts streaming synthesis", "chars", len(req.Text()))
	return e.classify(streamProcess(ctx, spec, emit))
}

// SynthesizeToFile writes an MP3 clip to path.
func (e *GTTSEngine) SynthesizeToFile(ctx context.Context, req *ttypes.SynthesisRequest, path string) error {
	spec, err := e.spec(req, path)
	if err != nil {
		return err
	}
	if err := e.wait(ctx); err != nil {
		return err
	}
	_, err = runProcess(ctx, spec)
	return e.classify(err)
}

// GetInfo returns engine capabilities.
func (e *GTTSEngine) GetInfo() ttypes.ProviderInfo {
	return ttypes.ProviderInfo{
		Name:         ttypes.ProviderGTTS,
		NativeFormat: ttypes.ContainerMP3,
		StreamFormat: ttypes.FormatHint{Container: ttypes.ContainerMP3},
		Streams:      true,
		Online:       true,
		Voices:       []string{e.language},
	}
}

var networkMarkers = []string{
	"connection", "failed to connect", "timed out", "temporary failure",
	"name resolution", "network is unreachable", "max retries",
}

// classify separates network trouble from backend rejections.
func (e *GTTSEngine) classify(err error) error {
	var pe *procError
	if !errors.As(err, &pe) {
		return err
	}
	if pe.timedOut {
		return ttypes.NetworkError("gtts", "request timed out", pe)
	}
	lower := strings.ToLower(pe.stderr)
	for _, m := range networkMarkers {
		if strings.Contains(lower, m) {
			return ttypes.NetworkError("gtts", "cannot reach Google Translate", pe)
		}
	}
	return ttypes.ProviderError("gtts", "synthesis failed", pe)
}

var _ ttypes.Provider = (*GTTSEngine)(nil)
