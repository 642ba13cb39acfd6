package main

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/speak/internal/audio"
	"github.com/dgnsrekt/speak/internal/preview"
	"github.com/dgnsrekt/speak/internal/tts"
	"github.com/dgnsrekt/speak/internal/tts/engines"
	"github.com/dgnsrekt/speak/internal/ttypes"
	"github.com/dgnsrekt/speak/internal/voicecache"
)

// app holds the handles one invocation shares: the providers, the audio
// sink and the voice cache client. It is built once in a command and passed
// down.
type app struct {
	cfg      settings
	client   *voicecache.Client
	registry *engines.Registry

	mu   sync.Mutex
	sink *audio.Sink
}

func newApp(cfg settings) *app {
	a := &app{
		cfg: cfg,
		client: voicecache.NewClient(voicecache.ClientConfig{
			Addr:           cfg.cacheAddr(),
			StartupTimeout: cfg.Cache.StartupTimeout,
			RequestTimeout: cfg.Cache.RequestTimeout,
		}),
		registry: engines.NewRegistry(),
	}

	a.registry.Register(ttypes.ProviderPiper, func() (ttypes.Provider, error) {
		return engines.NewPiperEngine(engines.PiperConfig{
			Binary:    cfg.Piper.Binary,
			ModelPath: cfg.Piper.Model,
		})
	})
	a.registry.Register(ttypes.ProviderCached, func() (ttypes.Provider, error) {
		return voicecache.NewCachedProvider(a.client, cfg.Piper.Model), nil
	})
	a.registry.Register(ttypes.ProviderGTTS, func() (ttypes.Provider, error) {
		return engines.NewGTTSEngine(engines.GTTSConfig{Language: cfg.GTTS.Language}), nil
	})
	a.registry.Register(ttypes.ProviderOpenAI, func() (ttypes.Provider, error) {
		return engines.NewOpenAIEngine(engines.OpenAIConfig{
			APIKey: cfg.OpenAI.APIKey,
			Model:  cfg.OpenAI.Model,
		}), nil
	})
	return a
}

// audioSink resolves players on first use so commands that never play audio
// do not require one.
func (a *app) audioSink() (*audio.Sink, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sink != nil {
		return a.sink, nil
	}
	players, err := audio.ResolvePlayers(a.cfg.Player)
	if err != nil {
		return nil, err
	}
	a.sink = audio.NewSink(players)
	return a.sink, nil
}

func (a *app) synthesizer(name ttypes.ProviderName, out tts.Output) (*tts.Synthesizer, error) {
	p, err := a.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return tts.NewSynthesizer(p, out, tts.WithStateHook(func(from, to tts.State) {
		log.Debug("synthesis state", "provider", name, "from", from, "to", to)
	})), nil
}

// speak plays req through the named provider.
func (a *app) speak(ctx context.Context, name ttypes.ProviderName, req *ttypes.SynthesisRequest) error {
	sink, err := a.audioSink()
	if err != nil {
		return err
	}
	s, err := a.synthesizer(name, tts.NewSinkOutput(sink))
	if err != nil {
		return err
	}
	return s.Speak(ctx, req)
}

// save writes req's audio to its path; no player is needed.
func (a *app) save(ctx context.Context, name ttypes.ProviderName, req *ttypes.SynthesisRequest) error {
	s, err := a.synthesizer(name, nil)
	if err != nil {
		return err
	}
	return s.Save(ctx, req)
}

// playPreview is the preview.PlayFunc behind the voice browser.
func (a *app) playPreview(ctx context.Context, item preview.Item) error {
	name, err := ttypes.ParseProviderName(item.Provider)
	if err != nil {
		return err
	}
	req, err := ttypes.NewStreamRequest(item.Text, item.Voice, nil)
	if err != nil {
		return err
	}
	return a.speak(ctx, name, req)
}

// stopOutput terminates whatever the sink is playing.
func (a *app) stopOutput() {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink == nil {
		return
	}
	if h := sink.Active(); h != nil {
		h.Terminate()
	}
}
