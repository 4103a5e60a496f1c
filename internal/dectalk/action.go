// Package dectalk decodes the DECtalk-style byte stream that speakup writes to
// its software synthesizer device into backend-neutral speech actions.
package dectalk

import (
	"fmt"

	"github.com/loqalabs/speechd-up/internal/markup"
)

type Kind int

const (
	KindSpeak Kind = iota + 1
	KindSpeakChar
	KindStop
	KindSetParam
	KindIndexMark
	KindReset
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindSpeak:
		return "speak"
	case KindSpeakChar:
		return "speak_char"
	case KindStop:
		return "stop"
	case KindSetParam:
		return "set_param"
	case KindIndexMark:
		return "index_mark"
	case KindReset:
		return "reset"
	case KindUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type Param int

const (
	ParamRate Param = iota + 1
	ParamPitch
	ParamPunctuation
	ParamVoice
	ParamVolume
	ParamTone
	ParamFrequency
)

func (p Param) String() string {
	switch p {
	case ParamRate:
		return "rate"
	case ParamPitch:
		return "pitch"
	case ParamPunctuation:
		return "punctuation"
	case ParamVoice:
		return "voice"
	case ParamVolume:
		return "volume"
	case ParamTone:
		return "tone"
	case ParamFrequency:
		return "frequency"
	default:
		return fmt.Sprintf("param(%d)", int(p))
	}
}

// Action is one normalized instruction decoded from the device stream.
// Only the fields relevant to Kind are set.
type Action struct {
	Kind Kind

	// Text is the recoded utterance for KindSpeak.
	Text markup.Text
	// Char is the single character for KindSpeakChar.
	Char rune

	// Param, Value and Relative describe KindSetParam. Value carries the
	// sign when Relative is true.
	Param    Param
	Value    int
	Relative bool

	// Mark is the index mark id for KindIndexMark.
	Mark uint32

	// Command is the raw command letter for KindUnsupported.
	Command byte
}

func Speak(text markup.Text) Action { return Action{Kind: KindSpeak, Text: text} }

func SpeakChar(c rune) Action { return Action{Kind: KindSpeakChar, Char: c} }

func SetParam(p Param, value int, relative bool) Action {
	return Action{Kind: KindSetParam, Param: p, Value: value, Relative: relative}
}

func (a Action) String() string {
	switch a.Kind {
	case KindSpeak:
		return fmt.Sprintf("speak(%q)", a.Text.String())
	case KindSpeakChar:
		return fmt.Sprintf("speak_char(%q)", a.Char)
	case KindSetParam:
		if a.Relative {
			return fmt.Sprintf("set_param(%s, %+d, relative)", a.Param, a.Value)
		}
		return fmt.Sprintf("set_param(%s, %d)", a.Param, a.Value)
	case KindIndexMark:
		return fmt.Sprintf("index_mark(%d)", a.Mark)
	case KindUnsupported:
		return fmt.Sprintf("unsupported(%q)", a.Command)
	default:
		return a.Kind.String()
	}
}
