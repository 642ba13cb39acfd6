package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/dgnsrekt/speak/internal/preview"
)

type playLog struct {
	mu    sync.Mutex
	items []preview.Item
	err   error
}

func (p *playLog) play(_ context.Context, item preview.Item) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, item)
	return p.err
}

func (p *playLog) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

var testVoices = []Voice{
	{Name: "en_US-amy-medium", Provider: "piper", ID: "/voices/en_US-amy-medium.onnx"},
	{Name: "en_GB-alan-low", Provider: "piper", ID: "/voices/en_GB-alan-low.onnx"},
	{Name: "alloy", Provider: "openai", ID: "alloy"},
	{Name: "nova", Provider: "openai", ID: "nova"},
}

func newTestModel(t *testing.T, log *playLog) model {
	t.Helper()
	dark := true
	p := preview.New(log.play)
	t.Cleanup(p.Stop)
	return newModel(context.Background(), Config{
		Voices:         testVoices,
		SampleText:     "Hello from speak.",
		DarkBackground: &dark,
	}, p)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(m model, keys ...string) model {
	for _, k := range keys {
		next, _ := m.Update(key(k))
		m = next.(model)
	}
	return m
}

// settle polls until the preview result has been collected.
func settle(t *testing.T, m model) model {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for m.playing >= 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		next, _ := m.Update(pollMsg(time.Now()))
		m = next.(model)
	}
	if m.playing >= 0 {
		t.Fatal("preview result was never collected")
	}
	return m
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "empty shows all", query: "", want: []string{"en_US-amy-medium", "en_GB-alan-low", "alloy", "nova"}},
		{name: "fuzzy match", query: "amy", want: []string{"en_US-amy-medium"}},
		{name: "no match", query: "zzz", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(t, &playLog{})
			m = press(m, "/")
			if !m.filtering {
				t.Fatal("/ did not start filtering")
			}
			for _, r := range tt.query {
				m = press(m, string(r))
			}

			var got []string
			for _, idx := range m.visible {
				got = append(got, m.cfg.Voices[idx].Name)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("visible = %v, want %v", got, tt.want)
			}

			m = press(m, "esc")
			if m.filtering || len(m.visible) != len(testVoices) {
				t.Error("esc should clear the filter")
			}
		})
	}
}

func TestPreviewSelectedVoice(t *testing.T) {
	log := &playLog{}
	m := newTestModel(t, log)

	m = press(m, "down", "enter")
	if m.playing != 1 {
		t.Fatalf("playing = %d, want 1", m.playing)
	}
	if !strings.Contains(m.View(), "previewing en_GB-alan-low") {
		t.Error("view does not show the preview status")
	}

	// a second press right away repeats the same activation
	m = press(m, "enter")
	m = settle(t, m)

	if log.count() != 1 {
		t.Errorf("played %d times, want 1", log.count())
	}
	item := log.items[0]
	if item.Provider != "piper" || item.Voice != "/voices/en_GB-alan-low.onnx" || item.Text != "Hello from speak." {
		t.Errorf("played %+v", item)
	}
	if !strings.Contains(m.status, "played en_GB-alan-low") {
		t.Errorf("status = %q", m.status)
	}
}

func TestPreviewFailureShownInStatus(t *testing.T) {
	log := &playLog{err: errors.New("piper not found in PATH")}
	m := newTestModel(t, log)

	m = press(m, "enter")
	m = settle(t, m)

	if !m.failed || !strings.Contains(m.status, "piper not found") {
		t.Errorf("status = %q failed=%v", m.status, m.failed)
	}
}

func TestQuit(t *testing.T) {
	m := newTestModel(t, &playLog{})
	_, cmd := m.Update(key("q"))
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}
