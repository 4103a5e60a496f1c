package protocol

import "time"

// Operations carried by Command.Op.
const (
	OpSpeak       = "speak"
	OpChar        = "char"
	OpCancel      = "cancel"
	OpRate        = "rate"
	OpPitch       = "pitch"
	OpPunctuation = "punctuation"
	OpCapitals    = "capitals"
	OpVoice       = "voice"
	OpLanguage    = "language"
	OpReset       = "reset"
)

// EventIndexMark is reported by a synthesizer when it reaches a mark.
const EventIndexMark = "index_mark"

// Command is one synthesis instruction published to the bus or written as a
// JSON line to a helper process.
type Command struct {
	Op        string    `json:"op"`
	Session   string    `json:"session,omitempty"`
	Text      string    `json:"text,omitempty"`
	Value     int       `json:"value"`
	Setting   string    `json:"setting,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Event is sent back by the synthesizer.
type Event struct {
	Event   string `json:"event"`
	Session string `json:"session,omitempty"`
	Mark    uint32 `json:"mark,omitempty"`
	Error   string `json:"error,omitempty"`
}

const (
	SubjectCommandSuffix = "cmd"
	SubjectEventSuffix   = "event"
)

func CommandSubject(prefix string) string { return prefix + "." + SubjectCommandSuffix }

func EventSubject(prefix string) string { return prefix + "." + SubjectEventSuffix }
