package engines

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV writes signed 16-bit little-endian PCM as a WAV file.
func EncodeWAV(w io.WriteSeeker, pcm []byte, sampleRate, channels int) error {
	if channels <= 0 {
		channels = 1
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(pcm)/2),
	}
	for i := range buf.Data {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encoding wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing wav: %w", err)
	}
	return nil
}

// WAVBytes wraps PCM in an in-memory WAV container.
func WAVBytes(pcm []byte, sampleRate, channels int) ([]byte, error) {
	var sb seekBuffer
	if err := EncodeWAV(&sb, pcm, sampleRate, channels); err != nil {
		return nil, err
	}
	return sb.buf, nil
}

// WAVInfo summarises a WAV clip.
type WAVInfo struct {
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// ReadWAVInfo parses the header of an in-memory WAV clip.
func ReadWAVInfo(data []byte) (WAVInfo, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return WAVInfo{}, errors.New("not a valid wav file")
	}
	// Decoder.Duration counts the header, so time the data chunk instead.
	if err := d.FwdToPCM(); err != nil {
		return WAVInfo{}, fmt.Errorf("locating wav data: %w", err)
	}
	info := WAVInfo{SampleRate: int(d.SampleRate), Channels: int(d.NumChans)}
	bytesPerSec := int64(d.SampleRate) * int64(d.NumChans) * int64(d.BitDepth/8)
	if bytesPerSec > 0 {
		info.Duration = time.Duration(d.PCMLen() * int64(time.Second) / bytesPerSec)
	}
	return info, nil
}

// seekBuffer is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if need := s.pos + len(p); need > len(s.buf) {
		s.buf = append(s.buf, make([]byte, need-len(s.buf))...)
	}
	copy(s.buf[s.pos:], p)
	s.pos += len(p)
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("seekBuffer: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seekBuffer: negative position")
	}
	s.pos = int(abs)
	return abs, nil
}
