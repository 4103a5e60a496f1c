package tts

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/loqalabs/speechd-up/internal/markup"
)

// Call is one recorded backend invocation.
type Call struct {
	Op    string
	Text  string
	Value int
}

// MockBackend records every call and echoes the index marks of each spoken
// utterance back through the mark handler. Probe mode runs on it.
type MockBackend struct {
	onMark MarkHandler
	logger *slog.Logger

	mu    sync.Mutex
	calls []Call
	fail  map[string]error
	wg    sync.WaitGroup
}

func NewMock(onMark MarkHandler, log *slog.Logger) *MockBackend {
	return &MockBackend{
		onMark: onMark,
		logger: log.With(slog.String("component", "tts-mock")),
		fail:   make(map[string]error),
	}
}

// FailOn makes every later call of op return err.
func (m *MockBackend) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = err
}

// Calls returns a snapshot of the recorded calls.
func (m *MockBackend) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Wait blocks until all pending mark echoes have been delivered.
func (m *MockBackend) Wait() { m.wg.Wait() }

func (m *MockBackend) record(c Call) error {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	err := m.fail[c.Op]
	m.mu.Unlock()
	m.logger.Info("synthesis call", slog.String("op", c.Op), slog.String("text", c.Text), slog.Int("value", c.Value))
	return err
}

func (m *MockBackend) Speak(_ context.Context, text string) error {
	if err := m.record(Call{Op: "speak", Text: text}); err != nil {
		return err
	}
	ids := markup.ExtractMarks(text)
	if len(ids) == 0 || m.onMark == nil {
		return nil
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for _, id := range ids {
			m.onMark(id)
		}
	}()
	return nil
}

func (m *MockBackend) SpeakChar(_ context.Context, c rune) error {
	return m.record(Call{Op: "char", Text: string(c)})
}

func (m *MockBackend) Cancel(context.Context) error {
	return m.record(Call{Op: "cancel"})
}

func (m *MockBackend) SetRate(_ context.Context, value int) error {
	return m.record(Call{Op: "rate", Value: value})
}

func (m *MockBackend) SetPitch(_ context.Context, value int) error {
	return m.record(Call{Op: "pitch", Value: value})
}

func (m *MockBackend) SetPunctuation(_ context.Context, level Punctuation) error {
	return m.record(Call{Op: "punctuation", Text: level.String(), Value: int(level)})
}

func (m *MockBackend) SetCapitalLetters(_ context.Context, mode CapitalLetters) error {
	return m.record(Call{Op: "capitals", Text: mode.String(), Value: int(mode)})
}

func (m *MockBackend) SetVoice(_ context.Context, voice Voice) error {
	return m.record(Call{Op: "voice", Text: voice.String(), Value: int(voice)})
}

func (m *MockBackend) Reset(context.Context) error {
	return m.record(Call{Op: "reset"})
}

func (m *MockBackend) Close() error {
	m.wg.Wait()
	return nil
}

func (c Call) String() string {
	switch {
	case c.Text != "":
		return c.Op + "(" + c.Text + ")"
	case c.Op == "rate" || c.Op == "pitch":
		return c.Op + "(" + strconv.Itoa(c.Value) + ")"
	default:
		return c.Op
	}
}
