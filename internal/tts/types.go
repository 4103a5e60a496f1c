package tts

import (
	"context"
	"fmt"
)

// Punctuation is the backend punctuation reading level.
type Punctuation int

const (
	PunctuationAll Punctuation = iota
	PunctuationSome
	PunctuationNone
)

func (p Punctuation) String() string {
	switch p {
	case PunctuationAll:
		return "all"
	case PunctuationSome:
		return "some"
	case PunctuationNone:
		return "none"
	default:
		return fmt.Sprintf("punctuation(%d)", int(p))
	}
}

// CapitalLetters selects how capital letters are announced.
type CapitalLetters int

const (
	CapitalsNone CapitalLetters = iota
	CapitalsSpell
	CapitalsIcon
)

func (c CapitalLetters) String() string {
	switch c {
	case CapitalsNone:
		return "none"
	case CapitalsSpell:
		return "spell"
	case CapitalsIcon:
		return "icon"
	default:
		return fmt.Sprintf("capitals(%d)", int(c))
	}
}

// Voice is one of the eight generic voice types, in device order.
type Voice int

const (
	VoiceMale1 Voice = iota
	VoiceMale2
	VoiceMale3
	VoiceFemale1
	VoiceFemale2
	VoiceFemale3
	VoiceChildMale
	VoiceChildFemale
)

var voiceNames = [...]string{"male1", "male2", "male3", "female1", "female2", "female3", "child_male", "child_female"}

func (v Voice) String() string {
	if v < 0 || int(v) >= len(voiceNames) {
		return fmt.Sprintf("voice(%d)", int(v))
	}
	return voiceNames[v]
}

// VoiceFromIndex maps the device's 0..7 voice number.
func VoiceFromIndex(i int) (Voice, bool) {
	if i < 0 || i >= len(voiceNames) {
		return 0, false
	}
	return Voice(i), true
}

// MarkHandler receives index marks reported by a backend. It is invoked from
// a backend-owned goroutine and must not block.
type MarkHandler func(id uint32)

// Backend executes synthesis commands. Speak takes SSML already wrapped in a
// speak envelope. Rate and pitch are on the -100..100 scale.
type Backend interface {
	Speak(ctx context.Context, markup string) error
	SpeakChar(ctx context.Context, c rune) error
	Cancel(ctx context.Context) error
	SetRate(ctx context.Context, value int) error
	SetPitch(ctx context.Context, value int) error
	SetPunctuation(ctx context.Context, level Punctuation) error
	SetCapitalLetters(ctx context.Context, mode CapitalLetters) error
	SetVoice(ctx context.Context, voice Voice) error
	// Reset drops and re-establishes the connection to the speech service.
	Reset(ctx context.Context) error
	Close() error
}
