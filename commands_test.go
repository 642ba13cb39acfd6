package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/speak/internal/cacheproto"
	"github.com/dgnsrekt/speak/internal/tts/engines"
	"github.com/dgnsrekt/speak/ui"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("model"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverVoices(t *testing.T) {
	modelDir := t.TempDir()
	voicesDir := t.TempDir()
	touch(t, filepath.Join(modelDir, "en_US-amy-low.onnx"))
	touch(t, filepath.Join(modelDir, "en_US-amy-low.onnx.json"))
	touch(t, filepath.Join(voicesDir, "de_DE-thorsten-medium.onnx"))

	var s settings
	s.Provider = "cached"
	s.Piper.Model = filepath.Join(modelDir, "en_US-amy-low.onnx")
	s.Piper.VoicesDir = voicesDir
	s.GTTS.Language = "fr"

	voices := discoverVoices(s)
	want := []ui.Voice{
		{Name: "en_US-amy-low", Provider: "cached", ID: filepath.Join(modelDir, "en_US-amy-low.onnx")},
		{Name: "de_DE-thorsten-medium", Provider: "cached", ID: filepath.Join(voicesDir, "de_DE-thorsten-medium.onnx")},
		{Name: "gtts fr", Provider: "gtts"},
	}
	if len(voices) != len(want) {
		t.Fatalf("discoverVoices = %+v, want %+v", voices, want)
	}
	for i := range want {
		if voices[i] != want[i] {
			t.Errorf("voice %d = %+v, want %+v", i, voices[i], want[i])
		}
	}
}

func TestDiscoverVoicesOpenAI(t *testing.T) {
	var s settings
	s.Provider = "piper"
	s.OpenAI.APIKey = "sk-test"

	voices := discoverVoices(s)
	if got, want := len(voices), len(engines.OpenAIVoices)+1; got != want {
		t.Fatalf("got %d voices, want %d", got, want)
	}
	if voices[0].Provider != "openai" || voices[0].ID != engines.OpenAIVoices[0] {
		t.Errorf("first voice = %+v", voices[0])
	}
	if last := voices[len(voices)-1]; last.Name != "gtts en" {
		t.Errorf("gtts voice should default to en, got %q", last.Name)
	}
}

func TestWriteVoicesTable(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mem := 3.0

	var buf bytes.Buffer
	writeVoicesTable(&buf, nil, now, false)
	if !strings.Contains(buf.String(), "No voices loaded") {
		t.Errorf("empty table = %q", buf.String())
	}

	buf.Reset()
	writeVoicesTable(&buf, []cacheproto.VoiceInfo{
		{Path: "/models/amy.onnx", LoadedAt: now.Add(-2 * time.Minute), MemoryMB: &mem},
		{Path: "/models/joe.onnx", LoadedAt: now.Add(-time.Hour)},
	}, now, false)
	out := buf.String()
	for _, want := range []string{"/models/amy.onnx", "2 minutes ago", "3.0 MiB", "/models/joe.onnx", "1 hour ago", "2 voices loaded"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestWriteVoicesYAML(t *testing.T) {
	mem := 1.5
	var buf bytes.Buffer
	err := writeVoicesYAML(&buf, []cacheproto.VoiceInfo{
		{Path: "/models/amy.onnx", LoadedAt: time.Unix(0, 0).UTC(), MemoryMB: &mem},
	})
	if err != nil {
		t.Fatalf("writeVoicesYAML failed: %v", err)
	}

	var decoded struct {
		Voices []struct {
			Path string `yaml:"path"`
		} `yaml:"voices"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, buf.String())
	}
	if len(decoded.Voices) != 1 || decoded.Voices[0].Path != "/models/amy.onnx" {
		t.Errorf("decoded = %+v", decoded)
	}
}
