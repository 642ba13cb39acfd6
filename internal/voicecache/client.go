package voicecache

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/speak/internal/cacheproto"
	"github.com/dgnsrekt/speak/internal/ttypes"
)

const (
	DefaultProbeTimeout   = time.Second
	DefaultPollInterval   = 250 * time.Millisecond
	DefaultStartupTimeout = 30 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// ClientConfig configures a Client. Zero values take the defaults above.
type ClientConfig struct {
	Addr           string
	ProbeTimeout   time.Duration
	PollInterval   time.Duration
	StartupTimeout time.Duration
	RequestTimeout time.Duration

	// Spawn starts a server when none answers. Defaults to SpawnSelf.
	Spawn SpawnFunc
}

// Client talks to the voice cache server. Each command uses a fresh
// connection; a Client holds no connection state and may be shared.
type Client struct {
	cfg    ClientConfig
	dialer net.Dialer
}

// Clip is synthesized audio returned by the server.
type Clip struct {
	Data   []byte
	Format ttypes.Container
	Cached bool
}

// NewClient creates a client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = DefaultStartupTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Spawn == nil {
		cfg.Spawn = SpawnSelf
	}
	return &Client{cfg: cfg}
}

// Addr is the server address the client uses.
func (c *Client) Addr() string { return c.cfg.Addr }

// Ping reports whether something accepts connections at the server address.
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ProbeTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// EnsureServerRunning starts a server when none answers and waits for it to
// accept connections.
func (c *Client) EnsureServerRunning(ctx context.Context) error {
	if c.Ping(ctx) {
		return nil
	}

	log.Info("starting voice cache server", "addr", c.cfg.Addr)
	if err := c.cfg.Spawn(c.cfg.Addr); err != nil {
		return ttypes.CacheUnavailableError("start", "could not start the voice cache server", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.StartupTimeout)
	defer cancel()
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ttypes.CacheUnavailableError("start",
				fmt.Sprintf("voice cache server did not answer on %s within %s", c.cfg.Addr, c.cfg.StartupTimeout),
				ctx.Err()).
				WithHint("run `speak voice serve --debug` in a terminal to see why it fails")
		case <-ticker.C:
			if c.Ping(ctx) {
				log.Debug("voice cache server is up", "addr", c.cfg.Addr, "took", time.Since(start))
				return nil
			}
		}
	}
}

// Send delivers one command on a fresh connection and reads the response.
// Server-reported failures come back as a response, not an error.
func (c *Client) Send(ctx context.Context, cmd cacheproto.Command) (*cacheproto.Response, error) {
	if err := cmd.Validate(); err != nil {
		return nil, ttypes.InvalidInputError("voice cache", err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return nil, ttypes.CacheUnavailableError(string(cmd.Action), "cannot reach the voice cache server at "+c.cfg.Addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := cacheproto.WriteMessage(conn, cmd); err != nil {
		return nil, c.transportError(ctx, cmd, err)
	}
	var resp cacheproto.Response
	if err := cacheproto.ReadMessage(conn, cacheproto.MaxResponseSize, &resp); err != nil {
		if errors.Is(err, cacheproto.ErrMessageTooLarge) {
			return nil, fmt.Errorf("%s: %w", cmd.Action, err)
		}
		return nil, c.transportError(ctx, cmd, err)
	}
	return &resp, nil
}

func (c *Client) transportError(ctx context.Context, cmd cacheproto.Command, err error) error {
	var nerr net.Error
	if ctx.Err() != nil || errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return ttypes.NetworkError(string(cmd.Action),
			fmt.Sprintf("voice cache server did not answer within %s", c.cfg.RequestTimeout), err)
	}
	return ttypes.NetworkError(string(cmd.Action), "voice cache connection failed", err)
}

// call ensures a server is running, sends cmd and turns a server-reported
// failure into a ProviderError.
func (c *Client) call(ctx context.Context, cmd cacheproto.Command) (*cacheproto.Response, error) {
	if err := c.EnsureServerRunning(ctx); err != nil {
		return nil, err
	}
	resp, err := c.Send(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return resp, ttypes.ProviderError(string(cmd.Action), err.Error(), nil)
	}
	return resp, nil
}

// ListVoices returns the loaded voices, starting a server if needed. An
// unreachable server yields an empty list.
func (c *Client) ListVoices(ctx context.Context) []cacheproto.VoiceInfo {
	resp, err := c.call(ctx, cacheproto.Command{Action: cacheproto.ActionListVoices})
	if err != nil {
		log.Debug("cannot list cached voices", "error", err)
		return []cacheproto.VoiceInfo{}
	}
	if resp.Voices == nil {
		return []cacheproto.VoiceInfo{}
	}
	return resp.Voices
}

// IsVoiceLoaded reports whether the server holds the voice at path.
func (c *Client) IsVoiceLoaded(ctx context.Context, path string) bool {
	for _, v := range c.ListVoices(ctx) {
		if SamePath(v.Path, path) {
			return true
		}
	}
	return false
}

// LoadVoice loads a voice into the server unless it is already loaded.
func (c *Client) LoadVoice(ctx context.Context, path string) error {
	resolved, err := ResolvePath(path)
	if err != nil {
		return ttypes.InvalidInputError("load_voice", err.Error())
	}
	if c.IsVoiceLoaded(ctx, resolved) {
		log.Debug("voice already loaded", "path", resolved)
		return nil
	}
	_, err = c.call(ctx, cacheproto.Command{Action: cacheproto.ActionLoadVoice, VoicePath: resolved})
	return err
}

// UnloadVoice drops a voice. Without a running server there is nothing to
// unload and no server is started.
func (c *Client) UnloadVoice(ctx context.Context, path string) error {
	resolved, err := ResolvePath(path)
	if err != nil {
		return ttypes.InvalidInputError("unload_voice", err.Error())
	}
	if !c.Ping(ctx) {
		return nil
	}
	_, err = c.call(ctx, cacheproto.Command{Action: cacheproto.ActionUnloadVoice, VoicePath: resolved})
	return err
}

// UnloadAll drops every voice and returns how many were held.
func (c *Client) UnloadAll(ctx context.Context) (int, error) {
	if !c.Ping(ctx) {
		return 0, nil
	}
	resp, err := c.call(ctx, cacheproto.Command{Action: cacheproto.ActionUnloadAll})
	if err != nil {
		return 0, err
	}
	if resp.UnloadedCount == nil {
		return 0, nil
	}
	return *resp.UnloadedCount, nil
}

// Synthesize renders text with a loaded voice.
func (c *Client) Synthesize(ctx context.Context, path, text string, options map[string]string) (*Clip, error) {
	resolved, err := ResolvePath(path)
	if err != nil {
		return nil, ttypes.InvalidInputError("synthesize", err.Error())
	}
	resp, err := c.call(ctx, cacheproto.Command{
		Action:    cacheproto.ActionSynthesize,
		VoicePath: resolved,
		Text:      text,
		Options:   options,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.AudioData) == 0 {
		return nil, ttypes.ProviderError("synthesize", "voice cache server returned no audio", nil)
	}
	format := ttypes.Container(resp.Format)
	if format == "" {
		format = ttypes.ContainerWAV
	}
	return &Clip{Data: resp.AudioData, Format: format, Cached: resp.Cached}, nil
}

// Shutdown stops a running server. It is a no-op when none answers.
func (c *Client) Shutdown(ctx context.Context) error {
	if !c.Ping(ctx) {
		log.Debug("no voice cache server to shut down", "addr", c.cfg.Addr)
		return nil
	}
	resp, err := c.Send(ctx, cacheproto.Command{Action: cacheproto.ActionShutdown})
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return ttypes.ProviderError("shutdown", err.Error(), nil)
	}
	return nil
}
