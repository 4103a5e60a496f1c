package dectalk

import (
	"errors"
	"fmt"
)

// Neutral is the midpoint of the device's 0..9 rate and pitch scales.
const Neutral = 5

// ErrParamRange is returned when a rate or pitch setting maps outside the
// backend's [-100, 100] range. Well-formed speakup output never produces it.
var ErrParamRange = errors.New("dectalk: parameter out of range")

// ParameterState holds the last absolute rate and pitch so relative
// adjustments can be resolved. A connection reset does not clear it.
type ParameterState struct {
	Rate  int
	Pitch int
}

func NewParameterState() ParameterState {
	return ParameterState{Rate: Neutral, Pitch: Neutral}
}

// RateValue maps a device rate onto the backend scale.
func RateValue(rate int) int { return rate*22 - 100 }

// PitchValue maps a device pitch onto the backend scale.
func PitchValue(pitch int) int { return (pitch - Neutral) * 20 }

// Apply resolves a rate or pitch action against the current state and returns
// the backend value. The state is left untouched when the result is out of range.
func (s *ParameterState) Apply(a Action) (int, error) {
	if a.Kind != KindSetParam {
		return 0, fmt.Errorf("dectalk: cannot apply %s", a.Kind)
	}
	switch a.Param {
	case ParamRate:
		next := resolve(s.Rate, a)
		val := RateValue(next)
		if !inRange(val) {
			return 0, fmt.Errorf("%w: rate %d -> %d", ErrParamRange, next, val)
		}
		s.Rate = next
		return val, nil
	case ParamPitch:
		next := resolve(s.Pitch, a)
		val := PitchValue(next)
		if !inRange(val) {
			return 0, fmt.Errorf("%w: pitch %d -> %d", ErrParamRange, next, val)
		}
		s.Pitch = next
		return val, nil
	default:
		return 0, fmt.Errorf("dectalk: %s is not a scaled parameter", a.Param)
	}
}

func resolve(current int, a Action) int {
	if a.Relative {
		return current + a.Value
	}
	return a.Value
}

func inRange(v int) bool { return v >= -100 && v <= 100 }
