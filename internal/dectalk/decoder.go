package dectalk

import (
	"errors"
	"iter"
	"log/slog"
	"math"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/loqalabs/speechd-up/internal/markup"
	"github.com/loqalabs/speechd-up/internal/recode"
)

// Reserved control bytes. They never appear as literal text.
const (
	CommandByte byte = 1
	StopByte    byte = 24
)

// MaxDigits bounds the numeric payload of a command sequence.
const MaxDigits = 15

// Decoder turns device chunks into actions. Each chunk is decoded on its own:
// a command sequence split across two reads is not reassembled.
//
// A Decoder is confined to the goroutine running the read loop.
type Decoder struct {
	rec         *recode.Recoder
	log         *slog.Logger
	inlineMarks bool
	onDropped   func(n int)

	params ParameterState
}

type Option func(*Decoder)

func WithLogger(log *slog.Logger) Option {
	return func(d *Decoder) { d.log = log }
}

// WithInlineMarks controls whether index marks are spliced into the pending
// utterance (true, the default) or flushed out as separate actions.
func WithInlineMarks(inline bool) Option {
	return func(d *Decoder) { d.inlineMarks = inline }
}

// WithDroppedHook is called with the number of undecodable bytes per flush.
func WithDroppedHook(fn func(n int)) Option {
	return func(d *Decoder) { d.onDropped = fn }
}

func New(rec *recode.Recoder, opts ...Option) *Decoder {
	d := &Decoder{
		rec:         rec,
		log:         slog.New(slog.DiscardHandler),
		inlineMarks: true,
		params:      NewParameterState(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.log = d.log.With(slog.String("component", "dectalk"))
	return d
}

// Params returns a copy of the current rate and pitch state.
func (d *Decoder) Params() ParameterState { return d.params }

// Resolve applies a rate or pitch action to the decoder's parameter state.
func (d *Decoder) Resolve(a Action) (int, error) { return d.params.Apply(a) }

// Decode returns every action in chunk.
func (d *Decoder) Decode(chunk []byte) []Action {
	return slices.Collect(d.Actions(chunk))
}

// Actions lazily scans chunk. Pending text is always flushed before a stop or
// parameter command; inline index marks are the exception.
func (d *Decoder) Actions(chunk []byte) iter.Seq[Action] {
	return func(yield func(Action) bool) {
		var (
			text    markup.Text
			pending []byte
			last    command
		)
		recodePending := func() {
			if len(pending) == 0 {
				return
			}
			s, err := d.rec.Recode(pending)
			if err != nil {
				d.reportDropped(err)
			}
			text.AppendText(s)
			pending = pending[:0]
		}
		flush := func() bool {
			recodePending()
			if text.Empty() {
				return true
			}
			a := textAction(text)
			text = nil
			return yield(a)
		}

		for i := 0; i < len(chunk); {
			switch c := chunk[i]; c {
			case StopByte:
				i++
				if !flush() || !yield(Action{Kind: KindStop}) {
					return
				}
			case CommandByte:
				cmd, n := parseCommand(chunk[i+1:], last)
				i += 1 + n
				last = cmd
				if cmd.letter == 'i' && d.inlineMarks {
					recodePending()
					if id, ok := d.markID(cmd); ok {
						text.AppendMark(id)
					}
					continue
				}
				if !flush() {
					return
				}
				a, ok := d.commandAction(cmd)
				if ok && !yield(a) {
					return
				}
			default:
				pending = append(pending, c)
				i++
			}
		}
		flush()
	}
}

type command struct {
	letter byte
	digits int
	sign   int
}

func (c command) value() int {
	if c.sign < 0 {
		return -c.digits
	}
	return c.digits
}

// parseCommand reads "[+|-]<digits><letter>" following a command byte and
// reports how many bytes it consumed. A sequence without digits repeats the
// letter and parameter of prev, the previous sequence in the same chunk; the
// byte after it is consumed unless it is a control byte. Reset takes no
// parameter and is the one letter honoured without digits.
func parseCommand(b []byte, prev command) (command, int) {
	var cmd command
	j := 0
	if j < len(b) {
		switch b[j] {
		case '+':
			cmd.sign = 1
			j++
		case '-':
			cmd.sign = -1
			j++
		}
	}
	n := 0
	for j < len(b) && n < MaxDigits && isDigit(b[j]) {
		cmd.digits = cmd.digits*10 + int(b[j]-'0')
		n++
		j++
	}
	if n == 0 {
		if j < len(b) && b[j] == '@' {
			cmd.letter = '@'
			return cmd, j + 1
		}
		cmd.letter, cmd.digits = prev.letter, prev.digits
		if j < len(b) && b[j] != CommandByte && b[j] != StopByte {
			j++
		}
		return cmd, j
	}
	if j < len(b) {
		cmd.letter = b[j]
		j++
	}
	return cmd, j
}

// markID rejects index marks that do not fit the 32-bit mark space.
func (d *Decoder) markID(cmd command) (uint32, bool) {
	if uint64(cmd.digits) > math.MaxUint32 {
		d.log.Warn("index mark out of range, dropped", slog.Int("mark", cmd.digits))
		return 0, false
	}
	return uint32(cmd.digits), true
}

func (d *Decoder) commandAction(cmd command) (Action, bool) {
	relative := cmd.sign != 0
	switch cmd.letter {
	case '@':
		return Action{Kind: KindReset}, true
	case 'b':
		return SetParam(ParamPunctuation, cmd.value(), relative), true
	case 'o':
		return SetParam(ParamVoice, cmd.value(), relative), true
	case 'p':
		return SetParam(ParamPitch, cmd.value(), relative), true
	case 's':
		return SetParam(ParamRate, cmd.value(), relative), true
	case 'v':
		return SetParam(ParamVolume, cmd.value(), relative), true
	case 'x':
		return SetParam(ParamTone, cmd.value(), relative), true
	case 'f':
		return SetParam(ParamFrequency, cmd.value(), relative), true
	case 'i':
		id, ok := d.markID(cmd)
		return Action{Kind: KindIndexMark, Mark: id}, ok
	case 0:
		d.log.Debug("command sequence without a command letter")
		return Action{}, false
	default:
		return Action{Kind: KindUnsupported, Command: cmd.letter}, true
	}
}

func (d *Decoder) reportDropped(err error) {
	var errs []error
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	} else {
		errs = []error{err}
	}
	for _, e := range errs {
		var encErr *recode.EncodingError
		if errors.As(e, &encErr) {
			d.log.Warn("unknown character in input", slog.String("error", encErr.Error()))
			continue
		}
		d.log.Warn("recode failed", slog.String("error", e.Error()))
	}
	if d.onDropped != nil {
		d.onDropped(len(errs))
	}
}

// textAction chooses SpeakChar for a run that is a single printable,
// non-space character once surrounding whitespace is ignored.
func textAction(text markup.Text) Action {
	if !text.HasMarks() {
		trimmed := strings.TrimSpace(text.Plain())
		c, size := utf8.DecodeRuneInString(trimmed)
		if size > 0 && size == len(trimmed) && c != utf8.RuneError && unicode.IsPrint(c) {
			return SpeakChar(c)
		}
	}
	return Speak(text)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
