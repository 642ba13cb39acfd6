package voicecache

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/speak/internal/tts/engines"
	"github.com/dgnsrekt/speak/internal/ttypes"
)

const clipChunkSize = 32 << 10

// CachedProvider synthesizes piper voices through the voice cache server.
// The voice is loaded on first use and stays resident for later requests.
type CachedProvider struct {
	client *Client

	// model is used when a request names no voice.
	model string
}

// NewCachedProvider creates a provider that uses client. defaultModel may be
// empty when every request names its voice.
func NewCachedProvider(client *Client, defaultModel string) *CachedProvider {
	return &CachedProvider{client: client, model: defaultModel}
}

func (p *CachedProvider) voice(req *ttypes.SynthesisRequest) (string, error) {
	voice := req.Voice()
	if voice == "" {
		voice = p.model
	}
	if voice == "" {
		return "", ttypes.InvalidInputError("cached", "no voice model given").
			WithHint("set piper.model in speak.yml or pass --voice /path/to/voice.onnx")
	}
	return voice, nil
}

func (p *CachedProvider) clip(ctx context.Context, req *ttypes.SynthesisRequest) (*Clip, error) {
	voice, err := p.voice(req)
	if err != nil {
		return nil, err
	}
	if err := p.client.LoadVoice(ctx, voice); err != nil {
		return nil, err
	}
	clip, err := p.client.Synthesize(ctx, voice, req.Text(), req.Params())
	if err != nil {
		return nil, err
	}

	logger := log.With("voice", voice, "bytes", len(clip.Data), "cached", clip.Cached)
	if info, err := engines.ReadWAVInfo(clip.Data); err == nil {
		logger.Debug("received clip", "duration", info.Duration, "rate", info.SampleRate)
	} else {
		logger.Debug("received clip", "format", clip.Format)
	}
	return clip, nil
}

// StreamingSynthesize emits the complete clip in chunks once the server
// answers.
func (p *CachedProvider) StreamingSynthesize(ctx context.Context, req *ttypes.SynthesisRequest, emit ttypes.EmitFunc) error {
	clip, err := p.clip(ctx, req)
	if err != nil {
		return err
	}
	for index, off := 0, 0; off < len(clip.Data); index++ {
		end := min(off+clipChunkSize, len(clip.Data))
		if err := emit(ttypes.AudioChunk{Data: clip.Data[off:end], Index: index}); err != nil {
			return err
		}
		off = end
	}
	return nil
}

// SynthesizeToFile writes the WAV clip to path.
func (p *CachedProvider) SynthesizeToFile(ctx context.Context, req *ttypes.SynthesisRequest, path string) error {
	clip, err := p.clip(ctx, req)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, clip.Data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// GetInfo returns provider capabilities.
func (p *CachedProvider) GetInfo() ttypes.ProviderInfo {
	return ttypes.ProviderInfo{
		Name:         ttypes.ProviderCached,
		NativeFormat: ttypes.ContainerWAV,
		StreamFormat: ttypes.FormatHint{Container: ttypes.ContainerWAV},
		Streams:      true,
	}
}

var _ ttypes.Provider = (*CachedProvider)(nil)
