package cache

import (
	"bytes"
	"testing"
	"time"
)

func TestClipKey(t *testing.T) {
	mtime := time.Unix(1700000000, 0)
	base := ClipKey{Text: "hello", VoicePath: "/v/a.onnx", ModelModTime: mtime, Options: map[string]string{"speed": "1.0", "speaker": "2"}}

	same := ClipKey{Text: "hello", VoicePath: "/v/a.onnx", ModelModTime: mtime, Options: map[string]string{"speaker": "2", "speed": "1.0"}}
	if base.String() != same.String() {
		t.Error("option order must not change the key")
	}

	tests := []struct {
		name string
		key  ClipKey
	}{
		{"text", ClipKey{Text: "hello!", VoicePath: "/v/a.onnx", ModelModTime: mtime, Options: base.Options}},
		{"voice", ClipKey{Text: "hello", VoicePath: "/v/b.onnx", ModelModTime: mtime, Options: base.Options}},
		{"model revision", ClipKey{Text: "hello", VoicePath: "/v/a.onnx", ModelModTime: mtime.Add(time.Second), Options: base.Options}},
		{"options", ClipKey{Text: "hello", VoicePath: "/v/a.onnx", ModelModTime: mtime, Options: map[string]string{"speed": "1.5"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.key.String() == base.String() {
				t.Errorf("changing %s must change the key", tt.name)
			}
		})
	}
	if len(base.String()) != 32 {
		t.Errorf("key length = %d, want 32 hex chars", len(base.String()))
	}
}

func TestClipCache_Promotion(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.CleanupInterval = 0

	cc, err := NewClipCache(cfg)
	if err != nil {
		t.Fatalf("NewClipCache failed: %v", err)
	}
	value := clip(4096)
	if err := cc.Put("k", value); err != nil {
		t.Fatal(err)
	}
	cc.Flush()

	if _, level, ok := cc.Get("k"); !ok || level != LevelMemory {
		t.Fatalf("Get = %v %v, want memory hit", level, ok)
	}
	if err := cc.Close(); err != nil {
		t.Fatal(err)
	}

	// fresh memory tier, same disk
	cc, err = NewClipCache(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer cc.Close()

	got, level, ok := cc.Get("k")
	if !ok || level != LevelDisk || !bytes.Equal(got, value) {
		t.Fatalf("Get = %v %v, want disk hit with original bytes", level, ok)
	}
	if _, level, _ := cc.Get("k"); level != LevelMemory {
		t.Errorf("disk hit was not promoted, second Get served from %v", level)
	}
}

func TestClipCache_MemoryOnly(t *testing.T) {
	cc, err := NewClipCache(Config{MemoryCapacity: 1 << 20})
	if err != nil {
		t.Fatal(err)
	}
	defer cc.Close()

	if _, _, ok := cc.Get("nope"); ok {
		t.Fatal("unexpected hit")
	}
	cc.Put("k", []byte("v"))
	if _, _, ok := cc.Get("k"); !ok {
		t.Fatal("expected hit")
	}
	_, disk := cc.Stats()
	if disk.Items != 0 {
		t.Error("memory-only cache reported disk items")
	}
}

func TestClipCache_Cleanup(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.TTL = 10 * time.Millisecond
	cfg.CleanupInterval = 0

	cc, err := NewClipCache(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer cc.Close()

	cc.Put("k", clip(100))
	cc.Flush()
	time.Sleep(20 * time.Millisecond)

	if n := cc.Cleanup(); n != 2 {
		t.Errorf("Cleanup removed %d, want 2 (one per tier)", n)
	}
	if _, _, ok := cc.Get("k"); ok {
		t.Error("expired clip still cached")
	}
}
