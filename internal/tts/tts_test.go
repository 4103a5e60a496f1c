package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func waitMark(t *testing.T, marks <-chan uint32, want uint32) {
	t.Helper()
	select {
	case got := <-marks:
		if got != want {
			t.Fatalf("expected mark %d, got %d", want, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for mark %d", want)
	}
}

func TestVoiceFromIndex(t *testing.T) {
	for i, want := range []string{"male1", "male2", "male3", "female1", "female2", "female3", "child_male", "child_female"} {
		v, ok := VoiceFromIndex(i)
		if !ok || v.String() != want {
			t.Fatalf("VoiceFromIndex(%d) = %v, %v; want %s", i, v, ok, want)
		}
	}
	for _, i := range []int{-1, 8, 100} {
		if _, ok := VoiceFromIndex(i); ok {
			t.Fatalf("VoiceFromIndex(%d) should be out of range", i)
		}
	}
}

func TestMockRecordsAndEchoesMarks(t *testing.T) {
	marks := make(chan uint32, 4)
	m := NewMock(func(id uint32) { marks <- id }, newLogger())
	ctx := context.Background()

	if err := m.Speak(ctx, `<speak>a<mark name="3"/>b<mark name="4"/></speak>`); err != nil {
		t.Fatalf("speak: %v", err)
	}
	if err := m.SetRate(ctx, 10); err != nil {
		t.Fatalf("rate: %v", err)
	}
	m.Wait()
	waitMark(t, marks, 3)
	waitMark(t, marks, 4)

	calls := m.Calls()
	if len(calls) != 2 || calls[0].Op != "speak" || calls[1].String() != "rate(10)" {
		t.Fatalf("unexpected calls: %v", calls)
	}
}

func TestMockFailOn(t *testing.T) {
	m := NewMock(nil, newLogger())
	boom := errors.New("boom")
	m.FailOn("cancel", boom)
	if err := m.Cancel(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if len(m.Calls()) != 1 {
		t.Fatal("failed call should still be recorded")
	}
}

func TestOpenUnknownMode(t *testing.T) {
	if _, err := Open(context.Background(), Options{Mode: "festival"}, nil, newLogger()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
	if _, err := Open(context.Background(), Options{Mode: "nats"}, nil, newLogger()); err == nil {
		t.Fatal("expected error for nats without bus")
	}
}
