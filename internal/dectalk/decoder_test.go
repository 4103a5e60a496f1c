package dectalk

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/loqalabs/speechd-up/internal/recode"
)

func newDecoder(t *testing.T, opts ...Option) *Decoder {
	t.Helper()
	rec, err := recode.New("iso-8859-1")
	if err != nil {
		t.Fatalf("new recoder: %v", err)
	}
	return New(rec, opts...)
}

func render(actions []Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.String())
	}
	return out
}

func expectActions(t *testing.T, got []Action, want ...string) {
	t.Helper()
	rendered := render(got)
	if len(rendered) != len(want) {
		t.Fatalf("expected %d actions %v, got %d %v", len(want), want, len(rendered), rendered)
	}
	for i := range want {
		if rendered[i] != want[i] {
			t.Fatalf("action %d: expected %s, got %s (all: %v)", i, want[i], rendered[i], rendered)
		}
	}
}

func TestDecodePlainText(t *testing.T) {
	d := newDecoder(t)
	got := d.Decode([]byte("hello world"))
	expectActions(t, got, `speak("hello world")`)
}

func TestDecodeRecodesLatin1(t *testing.T) {
	d := newDecoder(t)
	got := d.Decode([]byte{'n', 'a', 0xef, 'v', 'e'})
	if len(got) != 1 || got[0].Kind != KindSpeak || got[0].Text.Plain() != "naïve" {
		t.Fatalf("unexpected actions: %v", render(got))
	}
}

func TestDecodeSingleCharacter(t *testing.T) {
	d := newDecoder(t)
	cases := map[string]rune{
		"a":   'a',
		"Z\n": 'Z',
		" ? ": '?',
	}
	for in, want := range cases {
		got := d.Decode([]byte(in))
		if len(got) != 1 || got[0].Kind != KindSpeakChar || got[0].Char != want {
			t.Fatalf("input %q: expected speak_char(%q), got %v", in, want, render(got))
		}
	}
}

func TestDecodeWhitespaceIsNotACharacter(t *testing.T) {
	d := newDecoder(t)
	got := d.Decode([]byte(" "))
	if len(got) != 1 || got[0].Kind != KindSpeak {
		t.Fatalf("expected speak, got %v", render(got))
	}
}

func TestDecodeFlushesBeforeParameter(t *testing.T) {
	d := newDecoder(t)
	got := d.Decode([]byte("AB\x01+3sC"))
	expectActions(t, got,
		`speak("AB")`,
		"set_param(rate, +3, relative)",
		"speak_char('C')",
	)
}

func TestDecodeStopFlushesFirst(t *testing.T) {
	d := newDecoder(t)
	got := d.Decode([]byte("AB\x18CD"))
	expectActions(t, got, `speak("AB")`, "stop", `speak("CD")`)
}

func TestDecodeInlineIndexMark(t *testing.T) {
	d := newDecoder(t)
	got := d.Decode([]byte("A\x015iB"))
	if len(got) != 1 || got[0].Kind != KindSpeak {
		t.Fatalf("expected a single speak, got %v", render(got))
	}
	if s := got[0].Text.String(); s != `A<mark name="5"/>B` {
		t.Fatalf("unexpected text %q", s)
	}
}

func TestDecodeDropsOversizedIndexMark(t *testing.T) {
	d := newDecoder(t)
	got := d.Decode([]byte("A\x014294967301iB"))
	if len(got) != 1 || got[0].Kind != KindSpeak {
		t.Fatalf("expected a single speak, got %v", render(got))
	}
	if got[0].Text.HasMarks() || got[0].Text.String() != "AB" {
		t.Fatalf("unexpected text %q", got[0].Text.String())
	}

	d = newDecoder(t, WithInlineMarks(false))
	got = d.Decode([]byte("\x014294967296i\x014294967295i"))
	expectActions(t, got, "index_mark(4294967295)")
}

func TestDecodeSeparateIndexMark(t *testing.T) {
	d := newDecoder(t, WithInlineMarks(false))
	got := d.Decode([]byte("A\x015iB"))
	expectActions(t, got, "speak_char('A')", "index_mark(5)", "speak_char('B')")
}

func TestDecodeCommandSequences(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"\x017s", "set_param(rate, 7)"},
		{"\x01-2p", "set_param(pitch, -2, relative)"},
		{"\x01+1p", "set_param(pitch, +1, relative)"},
		{"\x013b", "set_param(punctuation, 3)"},
		{"\x014o", "set_param(voice, 4)"},
		{"\x015v", "set_param(volume, 5)"},
		{"\x011x", "set_param(tone, 1)"},
		{"\x0150f", "set_param(frequency, 50)"},
		{"\x010@", "reset"},
		{"\x012q", "unsupported('q')"},
	}
	for _, tc := range cases {
		d := newDecoder(t)
		expectActions(t, d.Decode([]byte(tc.in)), tc.want)
	}
}

func TestDecodeConsumesExactCommandBytes(t *testing.T) {
	inputs := []string{"\x019sXY", "\x01+12pXY", "\x01-0sXY"}
	for _, in := range inputs {
		d := newDecoder(t)
		got := d.Decode([]byte(in))
		if len(got) != 2 || got[1].Kind != KindSpeak || got[1].Text.Plain() != "XY" {
			t.Fatalf("input %q: expected trailing text XY, got %v", in, render(got))
		}
	}
}

func TestDecodeDigitLimit(t *testing.T) {
	d := newDecoder(t)
	// 15 digits, then the 16th digit is taken as the command letter.
	got := d.Decode([]byte("\x011234567890123456s"))
	expectActions(t, got, "unsupported('6')", "speak_char('s')")
}

func TestDecodeBareCommandReusesParameter(t *testing.T) {
	d := newDecoder(t)
	got := d.Decode([]byte("\x014s\x01+s"))
	expectActions(t, got, "set_param(rate, 4)", "set_param(rate, +4, relative)")
}

func TestDecodeBareCommandReusesLetter(t *testing.T) {
	d := newDecoder(t)
	got := d.Decode([]byte("\x013p\x01sX"))
	expectActions(t, got, "set_param(pitch, 3)", "set_param(pitch, 3)", "speak_char('X')")
}

func TestDecodeBareReset(t *testing.T) {
	d := newDecoder(t)
	got := d.Decode([]byte("\x013p\x01@\x01s"))
	expectActions(t, got, "set_param(pitch, 3)", "reset", "reset")
}

func TestDecodeTruncatedCommandReusesLetter(t *testing.T) {
	d := newDecoder(t)
	got := d.Decode([]byte("\x013px\x01"))
	expectActions(t, got, "set_param(pitch, 3)", "speak_char('x')", "set_param(pitch, 3)")
}

func TestDecodeBareCommandKeepsControlByte(t *testing.T) {
	d := newDecoder(t)
	got := d.Decode([]byte("\x012s\x01\x18"))
	expectActions(t, got, "set_param(rate, 2)", "set_param(rate, 2)", "stop")
}

func TestDecodeNoCommandStateAcrossChunks(t *testing.T) {
	d := newDecoder(t)
	expectActions(t, d.Decode([]byte("\x017s")), "set_param(rate, 7)")
	if got := d.Decode([]byte("\x01")); len(got) != 0 {
		t.Fatalf("expected no actions, got %v", render(got))
	}
	expectActions(t, d.Decode([]byte("\x01sY")), "speak_char('Y')")
}

func TestDecodeChunkWithoutPreviousCommand(t *testing.T) {
	d := newDecoder(t)
	got := d.Decode([]byte("\x01"))
	if len(got) != 0 {
		t.Fatalf("expected no actions, got %v", render(got))
	}
}

func TestDecodeDropsUndecodableBytes(t *testing.T) {
	rec, err := recode.New("iso-8859-7")
	if err != nil {
		t.Fatalf("new recoder: %v", err)
	}
	dropped := 0
	d := New(rec, WithDroppedHook(func(n int) { dropped += n }))
	got := d.Decode([]byte{'o', 0xff, 'k'})
	if len(got) != 1 || got[0].Text.Plain() != "ok" {
		t.Fatalf("unexpected actions: %v", render(got))
	}
	if dropped != 1 {
		t.Fatalf("expected 1 dropped byte, got %d", dropped)
	}
}

func TestActionsStopsWhenConsumerStops(t *testing.T) {
	d := newDecoder(t)
	count := 0
	for range d.Actions([]byte("a\x18b\x18c")) {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Fatalf("expected iteration to stop at 2, got %d", count)
	}
}

func TestResolveRelativePitchViolation(t *testing.T) {
	d := newDecoder(t)
	_, err := d.Resolve(SetParam(ParamPitch, 1000, true))
	if !errors.Is(err, ErrParamRange) {
		t.Fatalf("expected ErrParamRange, got %v", err)
	}
	if d.Params().Pitch != Neutral {
		t.Fatalf("expected pitch unchanged, got %d", d.Params().Pitch)
	}
}

func latin1Run(r *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		c := byte(0x20 + r.Intn(0x5f+0x60))
		if c > 0x7e {
			c += 0xa0 - 0x7f
		}
		b[i] = c
	}
	return b
}

func TestDecodePrintableRunIsOneUtterance(t *testing.T) {
	d := newDecoder(t)
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		in := latin1Run(r, 1+r.Intn(40))
		var want strings.Builder
		for _, c := range in {
			want.WriteRune(rune(c))
		}
		got := d.Decode(in)
		if len(got) != 1 {
			t.Fatalf("input %q: expected one action, got %v", in, render(got))
		}
		switch got[0].Kind {
		case KindSpeak:
			if got[0].Text.Plain() != want.String() {
				t.Fatalf("input %q: expected %q, got %q", in, want.String(), got[0].Text.Plain())
			}
		case KindSpeakChar:
			if string(got[0].Char) != strings.TrimSpace(want.String()) {
				t.Fatalf("input %q: unexpected speak_char(%q)", in, got[0].Char)
			}
		default:
			t.Fatalf("input %q: unexpected action %v", in, render(got))
		}
	}
}

func TestDecodeLoneCharacterIsSpeakChar(t *testing.T) {
	d := newDecoder(t)
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 200; i++ {
		c := byte(0x21 + r.Intn(0x7e-0x20))
		in := []byte(strings.Repeat(" ", r.Intn(3)) + string(c) + strings.Repeat(" ", r.Intn(3)))
		got := d.Decode(in)
		if len(got) != 1 || got[0].Kind != KindSpeakChar || got[0].Char != rune(c) {
			t.Fatalf("input %q: expected speak_char(%q), got %v", in, c, render(got))
		}
	}
}

func FuzzDecode(f *testing.F) {
	f.Add([]byte("hello\x01+3sworld\x18"))
	f.Add([]byte("\x01\x015i\x01-"))
	f.Fuzz(func(t *testing.T, in []byte) {
		d := newDecoder(t)
		for _, a := range d.Decode(in) {
			if a.Kind == KindSpeak && a.Text.Empty() {
				t.Fatalf("input %q: empty speak", in)
			}
		}
	})
}
