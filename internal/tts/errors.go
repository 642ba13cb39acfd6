package tts

import "github.com/dgnsrekt/speak/internal/ttypes"

// Error is the classified pipeline error. It lives in ttypes so the audio,
// engines, and voicecache packages can produce it without importing tts.
type Error = ttypes.Error

// Kind classifies an Error.
type Kind = ttypes.Kind

// Sentinels for errors.Is.
var (
	ErrDependency       = ttypes.ErrDependency
	ErrAudioPlayback    = ttypes.ErrAudioPlayback
	ErrNetwork          = ttypes.ErrNetwork
	ErrProvider         = ttypes.ErrProvider
	ErrCacheUnavailable = ttypes.ErrCacheUnavailable
	ErrInvalidInput     = ttypes.ErrInvalidInput
	ErrConversion       = ttypes.ErrConversion
	ErrBrokenPipe       = ttypes.ErrBrokenPipe
)

// IsFatal reports whether err must end the request.
func IsFatal(err error) bool { return ttypes.IsFatal(err) }

// TriggersFallback reports whether err sends a stream to the temp-file path.
func TriggersFallback(err error) bool { return ttypes.TriggersFallback(err) }

// Hint returns the remediation hint carried by err, if any.
func Hint(err error) string { return ttypes.HintOf(err) }
