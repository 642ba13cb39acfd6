package voicecache

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/speak/internal/ttypes"
)

// inProcessSpawn starts a server on the requested address instead of
// re-executing the binary.
func inProcessSpawn(t *testing.T, loader Loader, spawned *atomic.Int32) SpawnFunc {
	return func(addr string) error {
		spawned.Add(1)
		srv, err := NewServer(ServerConfig{Loader: loader})
		if err != nil {
			return err
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		runServer(t, srv, ln)
		return nil
	}
}

func TestClientAutoStartsServer(t *testing.T) {
	var spawned atomic.Int32
	loader := &fakeLoader{}
	c := NewClient(ClientConfig{
		Addr:         freeAddr(t),
		PollInterval: 20 * time.Millisecond,
		Spawn:        inProcessSpawn(t, loader, &spawned),
	})
	ctx := context.Background()

	voices := c.ListVoices(ctx)
	if voices == nil || len(voices) != 0 {
		t.Fatalf("ListVoices = %#v, want empty list", voices)
	}
	if spawned.Load() != 1 {
		t.Fatalf("spawned %d servers, want 1", spawned.Load())
	}

	for range 2 {
		if err := c.LoadVoice(ctx, "/voices/a.onnx"); err != nil {
			t.Fatalf("LoadVoice failed: %v", err)
		}
	}
	if loader.loads() != 1 {
		t.Errorf("server loaded the voice %d times, want 1", loader.loads())
	}
	if !c.IsVoiceLoaded(ctx, "/voices/../voices/a.onnx") {
		t.Error("IsVoiceLoaded should compare resolved paths")
	}

	clip, err := c.Synthesize(ctx, "/voices/a.onnx", "hello", nil)
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if clip.Format != ttypes.ContainerWAV || len(clip.Data) == 0 {
		t.Errorf("clip = %s, %d bytes", clip.Format, len(clip.Data))
	}

	if _, err := c.Synthesize(ctx, "/voices/b.onnx", "hello", nil); !errors.Is(err, ttypes.ErrProvider) {
		t.Errorf("Synthesize on unloaded voice = %v, want ErrProvider", err)
	}

	n, err := c.UnloadAll(ctx)
	if err != nil || n != 1 {
		t.Errorf("UnloadAll = %d, %v, want 1", n, err)
	}

	if err := c.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !waitFor(t, 3*time.Second, func() bool { return !c.Ping(ctx) }) {
		t.Error("server still answering after shutdown")
	}
	if spawned.Load() != 1 {
		t.Errorf("spawned %d servers, want 1", spawned.Load())
	}
}

func TestClientServerUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		spawn SpawnFunc
	}{
		{
			name:  "spawn fails",
			spawn: func(string) error { return errors.New("exec format error") },
		},
		{
			name:  "server never answers",
			spawn: func(string) error { return nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(ClientConfig{
				Addr:           freeAddr(t),
				PollInterval:   20 * time.Millisecond,
				StartupTimeout: 200 * time.Millisecond,
				Spawn:          tt.spawn,
			})
			ctx := context.Background()

			if voices := c.ListVoices(ctx); len(voices) != 0 {
				t.Errorf("ListVoices = %v, want empty", voices)
			}
			err := c.LoadVoice(ctx, "/voices/a.onnx")
			if !errors.Is(err, ttypes.ErrCacheUnavailable) {
				t.Errorf("LoadVoice error = %v, want ErrCacheUnavailable", err)
			}
		})
	}
}

func TestClientCommandsWithoutServer(t *testing.T) {
	var spawned atomic.Int32
	c := NewClient(ClientConfig{
		Addr: freeAddr(t),
		Spawn: func(string) error {
			spawned.Add(1)
			return errors.New("should not spawn")
		},
	})
	ctx := context.Background()

	if err := c.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown = %v", err)
	}
	if err := c.UnloadVoice(ctx, "/voices/a.onnx"); err != nil {
		t.Errorf("UnloadVoice = %v", err)
	}
	if n, err := c.UnloadAll(ctx); n != 0 || err != nil {
		t.Errorf("UnloadAll = %d, %v", n, err)
	}
	if spawned.Load() != 0 {
		t.Errorf("spawned %d servers, want 0", spawned.Load())
	}
}

func TestClientRequestTimeout(t *testing.T) {
	// accepts and never answers
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()

	c := NewClient(ClientConfig{Addr: ln.Addr().String(), RequestTimeout: 200 * time.Millisecond})
	start := time.Now()
	err = c.LoadVoice(context.Background(), "/voices/a.onnx")
	if !errors.Is(err, ttypes.ErrNetwork) {
		t.Fatalf("LoadVoice error = %v, want ErrNetwork", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}
