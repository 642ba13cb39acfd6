package engines

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"

	"github.com/dgnsrekt/speak/internal/ttypes"
)

// writeScript creates an executable shell script standing in for an engine binary.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("Skipping shell script engine test on Windows")
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// writeModel creates a fake piper model with a sidecar config.
func writeModel(t *testing.T, sampleRate int) string {
	t.Helper()
	dir := t.TempDir()
	model := filepath.Join(dir, "voice.onnx")
	if err := os.WriteFile(model, []byte("fake model"), 0o644); err != nil {
		t.Fatal(err)
	}
	if sampleRate > 0 {
		sidecar := []byte(`{"audio":{"sample_rate":` + strconv.Itoa(sampleRate) + `},"num_speakers":1,"language":{"code":"en_US"}}`)
		if err := os.WriteFile(model+".json", sidecar, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return model
}

func collect(chunks *[]byte) ttypes.EmitFunc {
	return func(c ttypes.AudioChunk) error {
		*chunks = append(*chunks, c.Data...)
		return nil
	}
}

func mustStreamRequest(t *testing.T, text, voice string, params map[string]string) *ttypes.SynthesisRequest {
	t.Helper()
	req, err := ttypes.NewStreamRequest(text, voice, params)
	if err != nil {
		t.Fatal(err)
	}
	return req
}
