package tts

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/loqalabs/speechd-up/internal/markup"
)

// fakeSSIP is a minimal Speech Dispatcher that acknowledges commands and
// reports every index mark found in spoken text.
type fakeSSIP struct {
	ln net.Listener

	mu       sync.Mutex
	commands []string
	bodies   []string
}

func startFakeSSIP(t *testing.T) *fakeSSIP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeSSIP{ln: ln}
	go f.acceptLoop()
	t.Cleanup(func() { _ = ln.Close() })
	return f
}

func (f *fakeSSIP) address() string { return "inet_socket:" + f.ln.Addr().String() }

func (f *fakeSSIP) acceptLoop() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.serve(conn)
	}
}

func (f *fakeSSIP) serve(conn net.Conn) {
	tp := textproto.NewConn(conn)
	defer tp.Close()
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.commands = append(f.commands, line)
		f.mu.Unlock()

		switch {
		case line == "SPEAK":
			_ = tp.PrintfLine("230 OK RECEIVING DATA")
			body, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.bodies = append(f.bodies, string(body))
			f.mu.Unlock()
			_ = tp.PrintfLine("225-21")
			_ = tp.PrintfLine("225 OK MESSAGE QUEUED")
			for _, id := range markup.ExtractMarks(string(body)) {
				_ = tp.PrintfLine("700-21")
				_ = tp.PrintfLine("700-1")
				_ = tp.PrintfLine("700-%d", id)
				_ = tp.PrintfLine("700 INDEX MARK")
			}
		case line == "QUIT":
			_ = tp.PrintfLine("231 HAPPY HACKING")
			return
		case strings.HasPrefix(line, "SET SELF PITCH 999"):
			_ = tp.PrintfLine("411 ERR PARAMETER NOT IN RANGE")
		default:
			_ = tp.PrintfLine("200 OK")
		}
	}
}

func (f *fakeSSIP) snapshot() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...), append([]string(nil), f.bodies...)
}

func TestSSIPBackend(t *testing.T) {
	srv := startFakeSSIP(t)
	marks := make(chan uint32, 4)
	ctx := context.Background()

	backend, err := NewSSIP(ctx, SSIPOptions{
		Address:    srv.address(),
		ClientName: "tester:speakup:softsynth",
		Language:   "en",
	}, func(id uint32) { marks <- id }, newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := backend.Speak(ctx, "<speak>A<mark name=\"5\"/>B\n.dot</speak>"); err != nil {
		t.Fatalf("speak: %v", err)
	}
	waitMark(t, marks, 5)

	steps := []func() error{
		func() error { return backend.SpeakChar(ctx, 'x') },
		func() error { return backend.SpeakChar(ctx, ' ') },
		func() error { return backend.Cancel(ctx) },
		func() error { return backend.SetRate(ctx, -34) },
		func() error { return backend.SetPitch(ctx, 20) },
		func() error { return backend.SetPunctuation(ctx, PunctuationNone) },
		func() error { return backend.SetCapitalLetters(ctx, CapitalsSpell) },
		func() error { return backend.SetVoice(ctx, VoiceChildFemale) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	var ssipErr *SSIPError
	if err := backend.SetPitch(ctx, 999); !errors.As(err, &ssipErr) || ssipErr.Code != 411 {
		t.Fatalf("expected 411 error, got %v", err)
	}

	if err := backend.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := backend.Cancel(ctx); err != nil {
		t.Fatalf("cancel after reset: %v", err)
	}
	if err := backend.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	commands, bodies := srv.snapshot()
	want := []string{
		"SET SELF CLIENT_NAME tester:speakup:softsynth",
		"SET SELF SSML_MODE on",
		"SET SELF NOTIFICATION index_marks on",
		"SET SELF LANGUAGE en",
		"SPEAK",
		"CHAR x",
		"CHAR space",
		"CANCEL SELF",
		"SET SELF RATE -34",
		"SET SELF PITCH 20",
		"SET SELF PUNCTUATION none",
		"SET SELF CAP_LET_RECOGN spell",
		"SET SELF VOICE_TYPE CHILD_FEMALE",
		"SET SELF PITCH 999",
		"QUIT",
		"SET SELF CLIENT_NAME tester:speakup:softsynth",
		"SET SELF SSML_MODE on",
		"SET SELF NOTIFICATION index_marks on",
		"SET SELF LANGUAGE en",
		"CANCEL SELF",
		"QUIT",
	}
	if strings.Join(commands, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected command sequence:\n got %q\nwant %q", commands, want)
	}
	if len(bodies) != 1 || !strings.Contains(bodies[0], "\n.dot</speak>") {
		t.Fatalf("unexpected speak body: %q", bodies)
	}
}

func TestParseSSIPAddress(t *testing.T) {
	t.Setenv("SPEECHD_ADDRESS", "")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	cases := []struct {
		in      string
		network string
		address string
	}{
		{"", "unix", "/run/user/1000/speech-dispatcher/speechd.sock"},
		{"unix_socket:/tmp/s.sock", "unix", "/tmp/s.sock"},
		{"unix:/tmp/s.sock", "unix", "/tmp/s.sock"},
		{"inet_socket:localhost", "tcp", "localhost:6560"},
		{"tcp:10.0.0.1:7000", "tcp", "10.0.0.1:7000"},
	}
	for _, tc := range cases {
		network, address, err := ParseSSIPAddress(tc.in)
		if err != nil {
			t.Fatalf("ParseSSIPAddress(%q): %v", tc.in, err)
		}
		if network != tc.network || address != tc.address {
			t.Fatalf("ParseSSIPAddress(%q) = %s %s, want %s %s", tc.in, network, address, tc.network, tc.address)
		}
	}
	for _, bad := range []string{"bogus", "serial:/dev/ttyS0", "unix:"} {
		if _, _, err := ParseSSIPAddress(bad); err == nil {
			t.Fatalf("ParseSSIPAddress(%q) should fail", bad)
		}
	}
}
