// Package cacheproto defines the messages exchanged between short-lived
// speak invocations and the voice cache server.
//
// Each connection carries exactly one Command and one Response. A message is
// a single JSON object followed by a newline.
package cacheproto

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Action names a cache server command.
type Action string

const (
	ActionLoadVoice   Action = "load_voice"
	ActionUnloadVoice Action = "unload_voice"
	ActionUnloadAll   Action = "unload_all"
	ActionListVoices  Action = "list_voices"
	ActionSynthesize  Action = "synthesize"
	ActionShutdown    Action = "shutdown"
)

// Status tags a Response.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

const (
	// MaxCommandSize bounds a command line read by the server.
	MaxCommandSize = 1 << 20

	// MaxResponseSize bounds a response line read by the client; synthesize
	// responses carry base64 audio.
	MaxResponseSize = 64 << 20

	initialBufSize = 64 << 10
)

// ErrMessageTooLarge is returned when a line exceeds the reader's limit.
var ErrMessageTooLarge = errors.New("message exceeds size limit")

// Command is a client request.
type Command struct {
	Action    Action            `json:"action"`
	VoicePath string            `json:"voice_path,omitempty"`
	Text      string            `json:"text,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
}

// Validate checks that the fields the action needs are present.
func (c Command) Validate() error {
	switch c.Action {
	case ActionLoadVoice, ActionUnloadVoice:
		if strings.TrimSpace(c.VoicePath) == "" {
			return fmt.Errorf("%s requires voice_path", c.Action)
		}
	case ActionSynthesize:
		if strings.TrimSpace(c.VoicePath) == "" {
			return fmt.Errorf("%s requires voice_path", c.Action)
		}
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("%s requires text", c.Action)
		}
	case ActionUnloadAll, ActionListVoices, ActionShutdown:
	case "":
		return errors.New("missing action")
	default:
		return fmt.Errorf("unknown action %q", c.Action)
	}
	return nil
}

// VoiceInfo describes one loaded voice.
type VoiceInfo struct {
	Path     string    `json:"path" yaml:"path"`
	LoadedAt time.Time `json:"loaded_at" yaml:"loaded_at"`
	MemoryMB *float64  `json:"memory_mb,omitempty" yaml:"memory_mb,omitempty"`
}

// Response is the server's single reply.
type Response struct {
	Status        Status      `json:"status"`
	Error         string      `json:"error,omitempty"`
	UnloadedCount *int        `json:"unloaded_count,omitempty"`
	Voices        []VoiceInfo `json:"voices,omitzero"`
	AudioData     []byte      `json:"audio_data,omitempty"`
	Format        string      `json:"format,omitempty"`
	Cached        bool        `json:"cached,omitempty"`
}

// OK reports whether the response is a success.
func (r *Response) OK() bool { return r.Status == StatusSuccess }

// Err returns the server-reported failure, or nil.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	if r.Error == "" {
		return errors.New("cache server returned an error without a message")
	}
	return errors.New(r.Error)
}

// Success builds a success response.
func Success() *Response {
	return &Response{Status: StatusSuccess}
}

// Failure builds an error response.
func Failure(format string, args ...any) *Response {
	return &Response{Status: StatusError, Error: fmt.Sprintf(format, args...)}
}

// WriteMessage encodes v as one JSON line.
func WriteMessage(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// ReadMessage reads one JSON line of at most limit bytes into v.
func ReadMessage(r io.Reader, limit int, v any) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(initialBufSize, limit)), limit)

	if !scanner.Scan() {
		err := scanner.Err()
		switch {
		case errors.Is(err, bufio.ErrTooLong):
			return fmt.Errorf("%w (%d bytes)", ErrMessageTooLarge, limit)
		case err != nil:
			return fmt.Errorf("read message: %w", err)
		default:
			return io.ErrUnexpectedEOF
		}
	}
	if err := json.Unmarshal(scanner.Bytes(), v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}
