package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultSSIPPort is Speech Dispatcher's TCP port.
const DefaultSSIPPort = "6560"

var errSSIPClosed = errors.New("ssip: connection closed")

// SSIPError is a non-2xx reply from the server.
type SSIPError struct {
	Code int
	Text string
}

func (e *SSIPError) Error() string {
	return fmt.Sprintf("ssip: %d %s", e.Code, e.Text)
}

type SSIPOptions struct {
	// Address uses Speech Dispatcher's syntax: "unix_socket:/path" or
	// "inet_socket:host[:port]". "unix:" and "tcp:" are accepted too.
	Address    string
	ClientName string
	Language   string
	Timeout    time.Duration
}

// ssipBackend speaks the Speech Synthesis Interface Protocol. One goroutine
// per connection reads the socket and separates asynchronous 7xx events from
// command replies.
type ssipBackend struct {
	network    string
	address    string
	clientName string
	language   string
	timeout    time.Duration
	onMark     MarkHandler
	logger     *slog.Logger

	mu   sync.Mutex
	conn *ssipConn
}

type ssipReply struct {
	code  int
	lines []string
	text  string
	err   error
}

type ssipConn struct {
	tp      *textproto.Conn
	replies chan ssipReply
	done    chan struct{}
}

func NewSSIP(ctx context.Context, opts SSIPOptions, onMark MarkHandler, log *slog.Logger) (Backend, error) {
	network, address, err := ParseSSIPAddress(opts.Address)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	b := &ssipBackend{
		network:    network,
		address:    address,
		clientName: ssipClientName(opts.ClientName),
		language:   opts.Language,
		timeout:    timeout,
		onMark:     onMark,
		logger:     log.With(slog.String("component", "tts-ssip")),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.connectLocked(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// ParseSSIPAddress resolves a Speech Dispatcher address. An empty address
// falls back to SPEECHD_ADDRESS, then the per-user socket, then localhost TCP.
func ParseSSIPAddress(addr string) (network, address string, err error) {
	if addr == "" {
		addr = os.Getenv("SPEECHD_ADDRESS")
	}
	if addr == "" {
		if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
			return "unix", filepath.Join(dir, "speech-dispatcher", "speechd.sock"), nil
		}
		return "tcp", net.JoinHostPort("127.0.0.1", DefaultSSIPPort), nil
	}
	kind, rest, ok := strings.Cut(addr, ":")
	if !ok || rest == "" {
		return "", "", fmt.Errorf("ssip: invalid address %q", addr)
	}
	switch kind {
	case "unix", "unix_socket":
		return "unix", rest, nil
	case "tcp", "inet_socket":
		if _, _, err := net.SplitHostPort(rest); err != nil {
			rest = net.JoinHostPort(rest, DefaultSSIPPort)
		}
		return "tcp", rest, nil
	default:
		return "", "", fmt.Errorf("ssip: unknown address type %q", kind)
	}
}

// ssipClientName builds the "user:application:component" triple.
func ssipClientName(name string) string {
	if name == "" {
		name = "speakup:softsynth"
	}
	if strings.Count(name, ":") >= 2 {
		return name
	}
	username := "unknown"
	if u, err := user.Current(); err == nil && u.Username != "" {
		username = u.Username
	}
	return username + ":" + name
}

func (b *ssipBackend) connectLocked(ctx context.Context) error {
	d := net.Dialer{Timeout: b.timeout}
	nc, err := d.DialContext(ctx, b.network, b.address)
	if err != nil {
		return fmt.Errorf("connect to speech dispatcher: %w", err)
	}
	c := &ssipConn{
		tp:      textproto.NewConn(nc),
		replies: make(chan ssipReply, 4),
		done:    make(chan struct{}),
	}
	go b.readLoop(c)
	b.conn = c

	setup := []string{
		"SET SELF CLIENT_NAME " + b.clientName,
		"SET SELF SSML_MODE on",
		"SET SELF NOTIFICATION index_marks on",
	}
	if b.language != "" {
		setup = append(setup, "SET SELF LANGUAGE "+b.language)
	}
	for _, line := range setup {
		if _, err := b.commandLocked(ctx, line); err != nil {
			b.closeLocked()
			return fmt.Errorf("ssip setup %q: %w", line, err)
		}
	}
	b.logger.Info("connected to speech dispatcher", slog.String("network", b.network), slog.String("address", b.address))
	return nil
}

func (b *ssipBackend) readLoop(c *ssipConn) {
	defer close(c.done)
	var lines []string
	for {
		line, err := c.tp.ReadLine()
		if err != nil {
			c.deliver(ssipReply{err: err})
			return
		}
		if len(line) < 4 {
			b.logger.Warn("malformed ssip line", slog.String("line", line))
			continue
		}
		code, err := strconv.Atoi(line[:3])
		if err != nil {
			b.logger.Warn("malformed ssip status", slog.String("line", line))
			continue
		}
		text := line[4:]
		if line[3] == '-' {
			lines = append(lines, text)
			continue
		}
		if code >= 700 && code < 800 {
			b.handleEvent(code, lines, text)
		} else if !c.deliver(ssipReply{code: code, lines: lines, text: text}) {
			b.logger.Warn("dropped unexpected ssip reply", slog.Int("code", code), slog.String("text", text))
		}
		lines = nil
	}
}

// handleEvent dispatches 7xx notifications. An index mark arrives as
// msg_id, client_id and mark name continuation lines.
func (b *ssipBackend) handleEvent(code int, lines []string, text string) {
	if code != 700 {
		b.logger.Debug("ssip event", slog.Int("code", code), slog.String("text", text))
		return
	}
	if len(lines) < 3 {
		b.logger.Warn("short index mark event", slog.Int("lines", len(lines)))
		return
	}
	id, err := strconv.ParseUint(strings.TrimSpace(lines[2]), 10, 32)
	if err != nil {
		b.logger.Debug("ignoring non-numeric index mark", slog.String("mark", lines[2]))
		return
	}
	if b.onMark != nil {
		b.onMark(uint32(id))
	}
}

func (c *ssipConn) deliver(r ssipReply) bool {
	select {
	case c.replies <- r:
		return true
	default:
		return false
	}
}

func (c *ssipConn) drain() {
	for {
		select {
		case <-c.replies:
		default:
			return
		}
	}
}

func (b *ssipBackend) command(ctx context.Context, line string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.commandLocked(ctx, line)
	return err
}

func (b *ssipBackend) commandLocked(ctx context.Context, line string) (ssipReply, error) {
	c := b.conn
	if c == nil {
		return ssipReply{}, errSSIPClosed
	}
	c.drain()
	if err := c.tp.PrintfLine("%s", line); err != nil {
		return ssipReply{}, fmt.Errorf("ssip write: %w", err)
	}
	return b.await(ctx, c)
}

func (b *ssipBackend) await(ctx context.Context, c *ssipConn) (ssipReply, error) {
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	var r ssipReply
	select {
	case r = <-c.replies:
	case <-c.done:
		select {
		case r = <-c.replies:
		default:
			return ssipReply{}, errSSIPClosed
		}
	case <-timer.C:
		return ssipReply{}, fmt.Errorf("ssip: no reply within %s", b.timeout)
	case <-ctx.Done():
		return ssipReply{}, ctx.Err()
	}
	if r.err != nil {
		return r, fmt.Errorf("ssip read: %w", r.err)
	}
	if r.code/100 != 2 {
		return r, &SSIPError{Code: r.code, Text: r.text}
	}
	return r, nil
}

func (b *ssipBackend) Speak(ctx context.Context, markup string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := b.commandLocked(ctx, "SPEAK"); err != nil {
		return err
	}
	c := b.conn
	w := c.tp.DotWriter()
	if _, err := io.WriteString(w, markup); err != nil {
		_ = w.Close()
		return fmt.Errorf("ssip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("ssip write: %w", err)
	}
	_, err := b.await(ctx, c)
	return err
}

func (b *ssipBackend) SpeakChar(ctx context.Context, c rune) error {
	arg := string(c)
	if c == ' ' {
		arg = "space"
	}
	return b.command(ctx, "CHAR "+arg)
}

func (b *ssipBackend) Cancel(ctx context.Context) error {
	return b.command(ctx, "CANCEL SELF")
}

func (b *ssipBackend) SetRate(ctx context.Context, value int) error {
	return b.command(ctx, "SET SELF RATE "+strconv.Itoa(value))
}

func (b *ssipBackend) SetPitch(ctx context.Context, value int) error {
	return b.command(ctx, "SET SELF PITCH "+strconv.Itoa(value))
}

func (b *ssipBackend) SetPunctuation(ctx context.Context, level Punctuation) error {
	return b.command(ctx, "SET SELF PUNCTUATION "+level.String())
}

func (b *ssipBackend) SetCapitalLetters(ctx context.Context, mode CapitalLetters) error {
	return b.command(ctx, "SET SELF CAP_LET_RECOGN "+mode.String())
}

func (b *ssipBackend) SetVoice(ctx context.Context, voice Voice) error {
	return b.command(ctx, "SET SELF VOICE_TYPE "+strings.ToUpper(voice.String()))
}

// Reset closes the session and opens a fresh one. Server-side settings
// return to their defaults.
func (b *ssipBackend) Reset(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quitLocked(ctx)
	return b.connectLocked(ctx)
}

func (b *ssipBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.quitLocked(context.Background())
	return nil
}

func (b *ssipBackend) quitLocked(ctx context.Context) {
	if b.conn == nil {
		return
	}
	if _, err := b.commandLocked(ctx, "QUIT"); err != nil && !errors.Is(err, errSSIPClosed) {
		b.logger.Debug("ssip quit failed", slogError(err))
	}
	b.closeLocked()
}

func (b *ssipBackend) closeLocked() {
	c := b.conn
	if c == nil {
		return
	}
	b.conn = nil
	_ = c.tp.Close()
	<-c.done
}
