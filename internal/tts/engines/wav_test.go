package engines

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestWAVBytes(t *testing.T) {
	// half a second of 16 kHz mono
	pcm := make([]byte, 16000)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	data, err := WAVBytes(pcm, 16000, 1)
	if err != nil {
		t.Fatalf("WAVBytes() error = %v", err)
	}
	if !bytes.HasPrefix(data, []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		t.Fatalf("missing RIFF/WAVE header: %q", data[:12])
	}

	info, err := ReadWAVInfo(data)
	if err != nil {
		t.Fatalf("ReadWAVInfo() error = %v", err)
	}
	if info.SampleRate != 16000 || info.Channels != 1 {
		t.Errorf("info = %+v", info)
	}
	if info.Duration != 500*time.Millisecond {
		t.Errorf("duration = %v, want 500ms", info.Duration)
	}
}

func TestReadWAVInfoRejectsGarbage(t *testing.T) {
	if _, err := ReadWAVInfo([]byte("definitely not audio")); err == nil {
		t.Error("expected error for non-wav data")
	}
}

func TestSeekBuffer(t *testing.T) {
	var sb seekBuffer
	sb.Write([]byte("hello world"))
	if _, err := sb.Seek(0, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	sb.Write([]byte("HELLO"))
	if pos, _ := sb.Seek(0, io.SeekEnd); pos != 11 {
		t.Errorf("end position = %d", pos)
	}
	if string(sb.buf) != "HELLO world" {
		t.Errorf("buf = %q", sb.buf)
	}
	if _, err := sb.Seek(-1, io.SeekStart); err == nil {
		t.Error("negative seek accepted")
	}
}

func TestReadWAVInfoDuration(t *testing.T) {
	tests := []struct {
		name     string
		rate     int
		channels int
		bytes    int
		want     time.Duration
	}{
		{name: "one second mono", rate: 22050, channels: 1, bytes: 44100, want: time.Second},
		{name: "one second stereo", rate: 8000, channels: 2, bytes: 32000, want: time.Second},
		{name: "quarter second", rate: 16000, channels: 1, bytes: 8000, want: 250 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := WAVBytes(make([]byte, tt.bytes), tt.rate, tt.channels)
			if err != nil {
				t.Fatalf("WAVBytes() error = %v", err)
			}
			info, err := ReadWAVInfo(data)
			if err != nil {
				t.Fatalf("ReadWAVInfo() error = %v", err)
			}
			if info.Duration != tt.want {
				t.Errorf("duration = %v, want %v", info.Duration, tt.want)
			}
			if info.Channels != tt.channels {
				t.Errorf("channels = %d, want %d", info.Channels, tt.channels)
			}
		})
	}
}
