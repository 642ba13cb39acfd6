package ttypes

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures.
type Kind string

const (
	KindDependency       Kind = "DEPENDENCY"
	KindAudioPlayback    Kind = "AUDIO_PLAYBACK"
	KindNetwork          Kind = "NETWORK"
	KindProvider         Kind = "PROVIDER"
	KindCacheUnavailable Kind = "CACHE_UNAVAILABLE"
	KindInvalidInput     Kind = "INVALID_INPUT"
	KindConversion       Kind = "CONVERSION"
)

// Sentinel errors, one per kind. Match with errors.Is.
var (
	// ErrDependency indicates a required external tool is missing
	ErrDependency = errors.New("required external tool is missing")

	// ErrAudioPlayback indicates the output process failed or exited early
	ErrAudioPlayback = errors.New("audio playback failed")

	// ErrNetwork indicates a transport failure or timeout
	ErrNetwork = errors.New("network failure")

	// ErrProvider indicates the synthesis backend rejected the request
	ErrProvider = errors.New("synthesis provider error")

	// ErrCacheUnavailable indicates the voice cache server could not be reached or started
	ErrCacheUnavailable = errors.New("voice cache server unavailable")

	// ErrInvalidInput indicates a malformed request
	ErrInvalidInput = errors.New("invalid input")

	// ErrConversion indicates ffmpeg failed to convert a saved clip
	ErrConversion = errors.New("audio conversion failed")

	// ErrBrokenPipe indicates a write to an output process whose stdin is gone
	ErrBrokenPipe = errors.New("audio sink input closed")
)

var kindSentinels = map[Kind]error{
	KindDependency:       ErrDependency,
	KindAudioPlayback:    ErrAudioPlayback,
	KindNetwork:          ErrNetwork,
	KindProvider:         ErrProvider,
	KindCacheUnavailable: ErrCacheUnavailable,
	KindInvalidInput:     ErrInvalidInput,
	KindConversion:       ErrConversion,
}

// Error is a classified pipeline error with an optional remediation hint.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Hint    string
	Cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// WithHint attaches a one-line remediation hint.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// NewError creates a classified error.
func NewError(kind Kind, op, message string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Cause: cause}
}

// DependencyError reports a missing external tool along with install guidance.
func DependencyError(tool string) *Error {
	return &Error{
		Kind:    KindDependency,
		Message: fmt.Sprintf("%s not found in PATH", tool),
		Hint:    InstallHint(tool),
	}
}

func AudioPlaybackError(op, message string, cause error) *Error {
	return NewError(KindAudioPlayback, op, message, cause)
}

func NetworkError(op, message string, cause error) *Error {
	return NewError(KindNetwork, op, message, cause)
}

func ProviderError(op, message string, cause error) *Error {
	return NewError(KindProvider, op, message, cause)
}

func CacheUnavailableError(op, message string, cause error) *Error {
	return NewError(KindCacheUnavailable, op, message, cause)
}

func InvalidInputError(op, message string) *Error {
	return NewError(KindInvalidInput, op, message, nil)
}

func ConversionError(op, message string, cause error) *Error {
	return NewError(KindConversion, op, message, cause)
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HintOf returns the first non-empty hint in err's chain.
func HintOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Hint != "" {
			return e.Hint
		}
		err = e.Cause
	}
	return ""
}

// IsFatal reports whether err must end the request. Only playback failures
// are recoverable, through the temp-file fallback.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return !TriggersFallback(err)
}

// TriggersFallback reports whether err should send a streaming request down
// the temp-file path instead of failing it.
func TriggersFallback(err error) bool {
	return errors.Is(err, ErrAudioPlayback) || errors.Is(err, ErrBrokenPipe)
}
