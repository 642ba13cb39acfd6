package voicecache

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// VoiceHandle is one loaded voice.
type VoiceHandle struct {
	Path        string
	LoadedAt    time.Time
	MemoryBytes int64

	// ModelModTime keys cached clips to this revision of the model file.
	ModelModTime time.Time

	model Model
}

// table holds the loaded voices. Every mutation is taken under mu, so
// concurrent loads and unloads are linearizable.
type table struct {
	mu     sync.Mutex
	voices map[string]*VoiceHandle
}

func newTable() *table {
	return &table{voices: make(map[string]*VoiceHandle)}
}

// put stores h, replacing any handle with the same path.
func (t *table) put(h *VoiceHandle) (replaced bool) {
	t.mu.Lock()
	old, replaced := t.voices[h.Path]
	t.voices[h.Path] = h
	t.mu.Unlock()

	if replaced {
		closeModel(old)
	}
	return replaced
}

func (t *table) get(path string) (*VoiceHandle, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.voices[path]
	return h, ok
}

func (t *table) remove(path string) bool {
	t.mu.Lock()
	h, ok := t.voices[path]
	delete(t.voices, path)
	t.mu.Unlock()

	if ok {
		closeModel(h)
	}
	return ok
}

func (t *table) removeAll() int {
	t.mu.Lock()
	old := t.voices
	t.voices = make(map[string]*VoiceHandle)
	t.mu.Unlock()

	for _, h := range old {
		closeModel(h)
	}
	return len(old)
}

// list returns copies ordered by load time.
func (t *table) list() []VoiceHandle {
	t.mu.Lock()
	out := make([]VoiceHandle, 0, len(t.voices))
	for _, h := range t.voices {
		c := *h
		c.model = nil
		out = append(out, c)
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b VoiceHandle) int {
		if c := a.LoadedAt.Compare(b.LoadedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
	return out
}

func closeModel(h *VoiceHandle) {
	if h.model == nil {
		return
	}
	if err := h.model.Close(); err != nil {
		log.Warn("failed to release voice model", "path", h.Path, "error", err)
	}
}
