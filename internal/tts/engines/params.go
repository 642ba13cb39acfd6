package engines

import (
	"fmt"
	"strconv"

	"github.com/dgnsrekt/speak/internal/ttypes"
)

// Recognised provider parameters. Unknown keys are ignored by every engine.
const (
	ParamSpeed   = "speed"
	ParamSpeaker = "speaker"
	ParamModel   = "model"
	ParamLang    = "lang"
)

const (
	MinSpeed = 0.5
	MaxSpeed = 2.0
)

// Speed is a playback rate multiplier; 1.0 is normal.
type Speed float64

// speedParam reads the speed parameter, defaulting to 1.0.
func speedParam(req *ttypes.SynthesisRequest) (Speed, error) {
	raw, ok := req.Param(ParamSpeed)
	if !ok || raw == "" {
		return 1.0, nil
	}
	return ParseSpeed(raw)
}

// ParseSpeed parses and range-checks a speed multiplier.
func ParseSpeed(raw string) (Speed, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, ttypes.InvalidInputError("speed", fmt.Sprintf("speed %q is not a number", raw))
	}
	if v < MinSpeed || v > MaxSpeed {
		return 0, ttypes.InvalidInputError("speed", fmt.Sprintf("speed must be between %.1f and %.1f, got %g", MinSpeed, MaxSpeed, v))
	}
	return Speed(v), nil
}

// PiperLengthScale converts speed to piper's inverse length-scale.
func (s Speed) PiperLengthScale() string {
	return fmt.Sprintf("%.2f", 1.0/float64(s))
}

// GTTSSlow reports whether gtts-cli should use --slow; it only has two rates.
func (s Speed) GTTSSlow() bool {
	return s < 0.8
}
