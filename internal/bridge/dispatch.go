package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/speechd-up/internal/dectalk"
	"github.com/loqalabs/speechd-up/internal/eventstore"
	"github.com/loqalabs/speechd-up/internal/markup"
	"github.com/loqalabs/speechd-up/internal/tts"
)

// ErrInvalidValue is returned for punctuation and voice values outside the
// device's table.
var ErrInvalidValue = errors.New("bridge: invalid parameter value")

// Dispatcher executes decoded actions against a backend, one at a time and
// in order. Failures are logged and returned; they never stop the stream.
type Dispatcher struct {
	backend     tts.Backend
	decoder     *dectalk.Decoder
	journal     *eventstore.Store
	backendName string
	session     string
	metrics     *Metrics
	log         *slog.Logger
}

func NewDispatcher(ctx context.Context, backend tts.Backend, backendName string, decoder *dectalk.Decoder, journal *eventstore.Store, metrics *Metrics, log *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		backend:     backend,
		decoder:     decoder,
		journal:     journal,
		backendName: backendName,
		metrics:     metrics,
		log:         log.With(slog.String("component", "dispatcher")),
	}
	d.startSession(ctx)
	return d
}

// Session is the journal session of the current backend connection.
func (d *Dispatcher) Session() string { return d.session }

func (d *Dispatcher) startSession(ctx context.Context) {
	id, err := d.journal.StartSession(ctx, d.backendName)
	if err != nil {
		d.log.Warn("failed to record journal session", slogError(err))
	}
	d.session = id
}

func (d *Dispatcher) Dispatch(ctx context.Context, a dectalk.Action) error {
	d.metrics.action(ctx, a.Kind.String())
	session := d.session
	err := d.apply(ctx, a)
	if d.journal.Enabled() {
		e := eventstore.Entry{SessionID: session, Kind: a.Kind.String(), Detail: a.String()}
		if err != nil {
			e.Error = err.Error()
		}
		if jerr := d.journal.Append(ctx, e); jerr != nil {
			d.log.Warn("failed to journal action", slogError(jerr))
		}
	}
	return err
}

func (d *Dispatcher) apply(ctx context.Context, a dectalk.Action) error {
	switch a.Kind {
	case dectalk.KindSpeak:
		return d.call(ctx, "speak", d.backend.Speak(ctx, markup.Envelope(a.Text.Markup())))
	case dectalk.KindSpeakChar:
		return d.call(ctx, "char", d.backend.SpeakChar(ctx, a.Char))
	case dectalk.KindStop:
		return d.call(ctx, "cancel", d.backend.Cancel(ctx))
	case dectalk.KindSetParam:
		return d.setParam(ctx, a)
	case dectalk.KindIndexMark:
		return d.call(ctx, "speak", d.backend.Speak(ctx, markup.Envelope(markup.MarkTag(a.Mark))))
	case dectalk.KindReset:
		return d.reset(ctx)
	case dectalk.KindUnsupported:
		d.log.Info("command not supported", slog.String("command", string(rune(a.Command))))
		return nil
	default:
		return fmt.Errorf("bridge: unknown action %s", a.Kind)
	}
}

func (d *Dispatcher) call(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	d.metrics.backendError(ctx, op)
	d.log.Warn("backend call failed", slog.String("op", op), slogError(err))
	return fmt.Errorf("%s: %w", op, err)
}

func (d *Dispatcher) setParam(ctx context.Context, a dectalk.Action) error {
	switch a.Param {
	case dectalk.ParamRate, dectalk.ParamPitch:
		val, err := d.decoder.Resolve(a)
		if err != nil {
			d.log.Error("parameter out of range", slog.String("action", a.String()), slogError(err))
			return err
		}
		if a.Param == dectalk.ParamRate {
			return d.call(ctx, "rate", d.backend.SetRate(ctx, val))
		}
		return d.call(ctx, "pitch", d.backend.SetPitch(ctx, val))
	case dectalk.ParamPunctuation:
		switch a.Value {
		case 0:
			if err := d.call(ctx, "capitals", d.backend.SetCapitalLetters(ctx, tts.CapitalsSpell)); err != nil {
				return err
			}
			return d.call(ctx, "punctuation", d.backend.SetPunctuation(ctx, tts.PunctuationAll))
		case 1, 2:
			return d.call(ctx, "punctuation", d.backend.SetPunctuation(ctx, tts.PunctuationSome))
		case 3:
			return d.call(ctx, "punctuation", d.backend.SetPunctuation(ctx, tts.PunctuationNone))
		default:
			d.log.Error("invalid punctuation mode", slog.Int("value", a.Value))
			return fmt.Errorf("%w: punctuation %d", ErrInvalidValue, a.Value)
		}
	case dectalk.ParamVoice:
		voice, ok := tts.VoiceFromIndex(a.Value)
		if !ok {
			d.log.Error("invalid voice", slog.Int("value", a.Value))
			return fmt.Errorf("%w: voice %d", ErrInvalidValue, a.Value)
		}
		return d.call(ctx, "voice", d.backend.SetVoice(ctx, voice))
	default:
		d.log.Info("parameter not supported", slog.String("param", a.Param.String()), slog.Int("value", a.Value))
		return nil
	}
}

// reset reconnects the backend. Rate and pitch keep their last values.
func (d *Dispatcher) reset(ctx context.Context) error {
	if err := d.call(ctx, "reset", d.backend.Reset(ctx)); err != nil {
		return err
	}
	d.startSession(ctx)
	d.log.Info("backend connection reset", slog.String("session", d.session))
	return nil
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
