// Package ttypes contains shared types and interfaces for the speech pipeline.
// This package is used to break import cycles between tts, engines, audio, and voicecache packages.
package ttypes

import (
	"context"
	"fmt"
	"strings"
)

// ProviderName identifies a synthesis backend.
type ProviderName string

const (
	// ProviderPiper runs the piper binary locally.
	ProviderPiper ProviderName = "piper"

	// ProviderGTTS shells out to gtts-cli (Google Translate TTS).
	ProviderGTTS ProviderName = "gtts"

	// ProviderOpenAI calls the OpenAI speech endpoint.
	ProviderOpenAI ProviderName = "openai"

	// ProviderCached routes piper synthesis through the voice cache server.
	ProviderCached ProviderName = "cached"
)

// KnownProviders lists every provider the registry can hold, in display order.
var KnownProviders = []ProviderName{ProviderPiper, ProviderCached, ProviderGTTS, ProviderOpenAI}

// ParseProviderName validates a provider name from config or flags.
func ParseProviderName(s string) (ProviderName, error) {
	name := ProviderName(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range KnownProviders {
		if name == known {
			return name, nil
		}
	}
	return "", InvalidInputError("provider", fmt.Sprintf("unknown provider %q", s)).
		WithHint("supported providers: piper, cached, gtts, openai")
}

// Container names an audio container or raw encoding.
type Container string

const (
	ContainerMP3 Container = "mp3"
	ContainerWAV Container = "wav"
	ContainerOGG Container = "ogg"

	// ContainerPCM is headerless signed 16-bit little-endian audio.
	ContainerPCM Container = "pcm"
)

// FormatHint tells an audio player how to interpret the bytes it is fed.
// SampleRate and Channels only matter for ContainerPCM.
type FormatHint struct {
	Container  Container
	SampleRate int
	Channels   int
}

// String renders the hint for logs.
func (f FormatHint) String() string {
	if f.Container == ContainerPCM {
		return fmt.Sprintf("pcm/%dHz/%dch", f.SampleRate, f.ChannelsOrMono())
	}
	return string(f.Container)
}

// ChannelsOrMono returns the channel count, defaulting to mono.
func (f FormatHint) ChannelsOrMono() int {
	if f.Channels <= 0 {
		return 1
	}
	return f.Channels
}

// ContainerFromPath derives a container from a file extension.
// Unknown or missing extensions return an empty container.
func ContainerFromPath(path string) Container {
	i := strings.LastIndexByte(path, '.')
	if i < 0 || i == len(path)-1 {
		return ""
	}
	if strings.ContainsAny(path[i+1:], `/\`) {
		return ""
	}
	return Container(strings.ToLower(path[i+1:]))
}

// AudioChunk is one piece of a provider stream. Chunks are delivered in
// arrival order and are not retained once handed to the sink.
type AudioChunk struct {
	Data  []byte
	Index int
}

// ProviderInfo describes provider capabilities.
type ProviderInfo struct {
	Name ProviderName

	// NativeFormat is the container SynthesizeToFile produces.
	NativeFormat Container

	// StreamFormat describes the bytes StreamingSynthesize emits.
	StreamFormat FormatHint

	// Streams reports whether audio arrives incrementally.
	Streams bool

	// Online reports whether the provider needs network access.
	Online bool

	// Voices lists voice identifiers the provider advertises, if any.
	Voices []string
}

// EmitFunc receives chunks from a provider stream. Returning an error stops
// the stream; providers return that error (optionally wrapped) to the caller.
type EmitFunc func(AudioChunk) error

// Provider is the contract every synthesis backend implements.
type Provider interface {
	// StreamingSynthesize delivers audio for req to emit in arrival order.
	StreamingSynthesize(ctx context.Context, req *SynthesisRequest, emit EmitFunc) error

	// SynthesizeToFile writes the complete clip in NativeFormat to path.
	SynthesizeToFile(ctx context.Context, req *SynthesisRequest, path string) error

	// GetInfo returns provider capabilities.
	GetInfo() ProviderInfo
}

// StreamFormatter is implemented by providers whose stream format depends on
// the request, such as piper voices with different sample rates.
type StreamFormatter interface {
	StreamFormatFor(req *SynthesisRequest) FormatHint
}
