package voicecache

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgnsrekt/speak/internal/cacheproto"
	"github.com/dgnsrekt/speak/internal/tts/engines"
)

type fakeModel struct {
	path   string
	mem    int64
	clip   []byte
	synths atomic.Int32
	closed atomic.Bool
}

func (m *fakeModel) Synthesize(ctx context.Context, text string, _ map[string]string) ([]byte, error) {
	if m.closed.Load() {
		return nil, errors.New("model closed")
	}
	m.synths.Add(1)
	return m.clip, ctx.Err()
}

func (m *fakeModel) MemoryBytes() int64 { return m.mem }

func (m *fakeModel) Close() error {
	m.closed.Store(true)
	return nil
}

// fakeLoader records every model it hands out.
type fakeLoader struct {
	mu     sync.Mutex
	models []*fakeModel
	err    error
}

func (l *fakeLoader) Load(_ context.Context, path string) (Model, error) {
	if l.err != nil {
		return nil, l.err
	}
	pcm := make([]byte, 2205*2)
	clip, err := engines.WAVBytes(pcm, 22050, 1)
	if err != nil {
		return nil, err
	}
	m := &fakeModel{path: path, mem: 3 << 20, clip: clip}
	l.mu.Lock()
	l.models = append(l.models, m)
	l.mu.Unlock()
	return m, nil
}

func (l *fakeLoader) loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.models)
}

func (l *fakeLoader) closed() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.models {
		if m.closed.Load() {
			n++
		}
	}
	return n
}

// runServer serves on ln until the test ends and returns Serve's result
// channel.
func runServer(t *testing.T, srv *Server, ln net.Listener) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		done <- srv.Serve(ctx, ln)
		close(stopped)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return done
}

func startServer(t *testing.T, cfg ServerConfig) (string, *Server, <-chan error) {
	t.Helper()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	done := runServer(t, srv, ln)
	return ln.Addr().String(), srv, done
}

func exchange(addr string, cmd cacheproto.Command) (*cacheproto.Response, error) {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if err := cacheproto.WriteMessage(conn, cmd); err != nil {
		return nil, err
	}
	var resp cacheproto.Response
	if err := cacheproto.ReadMessage(conn, cacheproto.MaxResponseSize, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func send(t *testing.T, addr string, cmd cacheproto.Command) *cacheproto.Response {
	t.Helper()
	resp, err := exchange(addr, cmd)
	if err != nil {
		t.Fatalf("%s: %v", cmd.Action, err)
	}
	return resp
}

// freeAddr returns a loopback address nothing listens on.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}
