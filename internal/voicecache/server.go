package voicecache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/speak/internal/cache"
	"github.com/dgnsrekt/speak/internal/cacheproto"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 12345

	// DefaultIOTimeout bounds reading a command and writing a response.
	DefaultIOTimeout = 10 * time.Second

	DefaultSynthesizeTimeout = 2 * time.Minute
)

// DefaultAddr is the address server and client agree on without config.
func DefaultAddr() string {
	return net.JoinHostPort(DefaultHost, strconv.Itoa(DefaultPort))
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Loader Loader

	// Clips memoizes synthesized audio; nil disables clip caching.
	Clips *cache.ClipCache

	// IdleTimeout stops a server that has seen no connection for this long.
	// Zero keeps it running until shutdown.
	IdleTimeout time.Duration

	IOTimeout         time.Duration
	SynthesizeTimeout time.Duration

	// Watch unloads voices whose model file is removed or renamed.
	Watch bool
}

// Server holds loaded voices and answers cache protocol commands.
type Server struct {
	cfg     ServerConfig
	table   *table
	watcher *modelWatcher
	now     func() time.Time

	shutdown     chan struct{}
	shutdownOnce sync.Once

	conns    sync.WaitGroup
	active   atomic.Int64
	lastSeen atomic.Int64
}

// NewServer creates a server. Voices are loaded with PiperLoader unless
// cfg.Loader is set.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Loader == nil {
		cfg.Loader = PiperLoader{}
	}
	if cfg.IOTimeout <= 0 {
		cfg.IOTimeout = DefaultIOTimeout
	}
	if cfg.SynthesizeTimeout <= 0 {
		cfg.SynthesizeTimeout = DefaultSynthesizeTimeout
	}

	s := &Server{
		cfg:      cfg,
		table:    newTable(),
		now:      time.Now,
		shutdown: make(chan struct{}),
	}
	if cfg.Watch {
		w, err := newModelWatcher(func(path string) { s.forget(path) })
		if err != nil {
			return nil, fmt.Errorf("creating model watcher: %w", err)
		}
		s.watcher = w
	}
	s.touch()
	return s, nil
}

// ListenAndServe listens on addr and serves until shutdown or ctx ends.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln, one goroutine per connection. It returns
// after a shutdown command, idle timeout or ctx cancellation, once in-flight
// commands have been answered.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log.Info("voice cache server listening", "addr", ln.Addr().String(), "pid", os.Getpid())

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-ctx.Done():
		case <-s.shutdown:
			stop()
		}
		_ = ln.Close()
		return nil
	})
	g.Go(func() error {
		defer stop()
		return s.acceptLoop(ctx, ln)
	})
	if s.watcher != nil {
		g.Go(func() error { return s.watcher.run(ctx) })
	}
	if s.cfg.IdleTimeout > 0 {
		g.Go(func() error {
			s.idleLoop(ctx)
			return nil
		})
	}

	err := g.Wait()
	s.conns.Wait()
	released := s.table.removeAll()
	log.Info("voice cache server stopped", "released", released)
	return err
}

// Shutdown stops accepting connections. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		log.Info("voice cache server shutting down")
		close(s.shutdown)
	})
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		s.conns.Add(1)
		s.active.Add(1)
		s.touch()
		go func() {
			defer s.conns.Done()
			defer func() {
				s.touch()
				s.active.Add(-1)
			}()
			// in-flight commands finish even when the server is stopping
			s.handle(context.WithoutCancel(ctx), conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	var (
		cmd  cacheproto.Command
		resp *cacheproto.Response
	)
	_ = conn.SetReadDeadline(s.now().Add(s.cfg.IOTimeout))
	if err := cacheproto.ReadMessage(conn, cacheproto.MaxCommandSize, &cmd); err != nil {
		log.Debug("unreadable command", "remote", conn.RemoteAddr().String(), "error", err)
		resp = cacheproto.Failure("invalid command: %v", err)
	} else if err := cmd.Validate(); err != nil {
		resp = cacheproto.Failure("invalid command: %v", err)
	} else {
		resp = s.dispatch(ctx, cmd)
	}

	_ = conn.SetWriteDeadline(s.now().Add(s.cfg.IOTimeout))
	if err := cacheproto.WriteMessage(conn, resp); err != nil {
		log.Debug("client went away before the response", "action", cmd.Action, "error", err)
	}

	if cmd.Action == cacheproto.ActionShutdown && resp.OK() {
		s.Shutdown()
	}
}

func (s *Server) dispatch(ctx context.Context, cmd cacheproto.Command) *cacheproto.Response {
	switch cmd.Action {
	case cacheproto.ActionLoadVoice:
		return s.loadVoice(ctx, cmd.VoicePath)
	case cacheproto.ActionUnloadVoice:
		return s.unloadVoice(cmd.VoicePath)
	case cacheproto.ActionUnloadAll:
		n := s.table.removeAll()
		if s.watcher != nil {
			s.watcher.removeAll()
		}
		log.Info("unloaded all voices", "count", n)
		resp := cacheproto.Success()
		resp.UnloadedCount = &n
		return resp
	case cacheproto.ActionListVoices:
		return s.listVoices()
	case cacheproto.ActionSynthesize:
		return s.synthesize(ctx, cmd)
	case cacheproto.ActionShutdown:
		return cacheproto.Success()
	default:
		return cacheproto.Failure("unknown action %q", cmd.Action)
	}
}

// loadVoice always loads a fresh handle, replacing any existing one.
func (s *Server) loadVoice(ctx context.Context, raw string) *cacheproto.Response {
	path, err := ResolvePath(raw)
	if err != nil {
		return cacheproto.Failure("invalid voice path: %v", err)
	}

	start := s.now()
	model, err := s.cfg.Loader.Load(ctx, path)
	if err != nil {
		log.Warn("failed to load voice", "path", path, "error", err)
		return cacheproto.Failure("failed to load voice %s: %v", path, err)
	}

	h := &VoiceHandle{
		Path:        path,
		LoadedAt:    s.now(),
		MemoryBytes: model.MemoryBytes(),
		model:       model,
	}
	if info, err := os.Stat(path); err == nil {
		h.ModelModTime = info.ModTime()
	}
	replaced := s.table.put(h)
	if s.watcher != nil {
		s.watcher.add(path)
	}
	log.Info("voice loaded", "path", path, "bytes", h.MemoryBytes, "replaced", replaced, "took", s.now().Sub(start))
	return cacheproto.Success()
}

func (s *Server) unloadVoice(raw string) *cacheproto.Response {
	path, err := ResolvePath(raw)
	if err != nil {
		return cacheproto.Failure("invalid voice path: %v", err)
	}
	if s.forget(path) {
		log.Info("voice unloaded", "path", path)
	}
	return cacheproto.Success()
}

// forget drops a handle and its watch. Cached clips are kept.
func (s *Server) forget(path string) bool {
	removed := s.table.remove(path)
	if s.watcher != nil {
		s.watcher.remove(path)
	}
	return removed
}

func (s *Server) listVoices() *cacheproto.Response {
	handles := s.table.list()
	resp := cacheproto.Success()
	resp.Voices = make([]cacheproto.VoiceInfo, 0, len(handles))
	for _, h := range handles {
		v := cacheproto.VoiceInfo{Path: h.Path, LoadedAt: h.LoadedAt}
		if h.MemoryBytes > 0 {
			mb := math.Round(float64(h.MemoryBytes)/(1<<20)*100) / 100
			v.MemoryMB = &mb
		}
		resp.Voices = append(resp.Voices, v)
	}
	return resp
}

// synthesize looks the voice up under the table lock and runs inference
// outside it.
func (s *Server) synthesize(ctx context.Context, cmd cacheproto.Command) *cacheproto.Response {
	path, err := ResolvePath(cmd.VoicePath)
	if err != nil {
		return cacheproto.Failure("invalid voice path: %v", err)
	}
	h, ok := s.table.get(path)
	if !ok {
		return cacheproto.Failure("voice %s is not loaded; load it first", path)
	}

	key := cache.ClipKey{
		Text:         cmd.Text,
		VoicePath:    path,
		ModelModTime: h.ModelModTime,
		Options:      cmd.Options,
	}.String()

	if s.cfg.Clips != nil {
		if clip, level, ok := s.cfg.Clips.Get(key); ok {
			log.Debug("clip cache hit", "path", path, "level", level, "bytes", len(clip))
			resp := cacheproto.Success()
			resp.AudioData, resp.Format, resp.Cached = clip, "wav", true
			return resp
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SynthesizeTimeout)
	defer cancel()

	start := s.now()
	clip, err := h.model.Synthesize(ctx, cmd.Text, cmd.Options)
	if err != nil {
		log.Warn("synthesis failed", "path", path, "error", err)
		return cacheproto.Failure("synthesis failed: %v", err)
	}
	log.Debug("synthesized clip", "path", path, "chars", len(cmd.Text), "bytes", len(clip), "took", s.now().Sub(start))

	if s.cfg.Clips != nil {
		if err := s.cfg.Clips.Put(key, clip); err != nil {
			log.Debug("clip not cached", "error", err)
		}
	}

	resp := cacheproto.Success()
	resp.AudioData, resp.Format = clip, "wav"
	return resp
}

func (s *Server) touch() {
	s.lastSeen.Store(s.now().UnixNano())
}

func (s *Server) idleLoop(ctx context.Context) {
	interval := min(s.cfg.IdleTimeout/4, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.active.Load() > 0 {
				continue
			}
			idle := s.now().Sub(time.Unix(0, s.lastSeen.Load()))
			if idle >= s.cfg.IdleTimeout {
				log.Info("voice cache server idle, exiting", "idle", idle.Round(time.Second))
				s.Shutdown()
				return
			}
		}
	}
}
