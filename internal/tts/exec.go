package tts

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/speechd-up/internal/protocol"
)

var errHelperNotRunning = errors.New("tts helper not running")

// execBackend drives a long-running helper process. Commands go to its stdin
// as JSON lines; events, including index marks, come back on stdout.
type execBackend struct {
	cmd     []string
	onMark  MarkHandler
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	proc    *exec.Cmd
	stdin   io.WriteCloser
	enc     *json.Encoder
	done    chan struct{}
	session string
}

func NewExec(command string, timeout time.Duration, onMark MarkHandler, log *slog.Logger) (Backend, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	e := &execBackend{
		cmd:     args,
		onMark:  onMark,
		timeout: timeout,
		logger:  log.With(slog.String("component", "tts-exec")),
	}
	if err := e.start(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *execBackend) start() error {
	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	proc := exec.Command(base, args...)
	stdin, err := proc.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := proc.StdoutPipe()
	if err != nil {
		return err
	}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("start tts helper: %w", err)
	}
	done := make(chan struct{})
	go e.readEvents(stdout, done)

	e.mu.Lock()
	enc := json.NewEncoder(stdin)
	enc.SetEscapeHTML(false)
	e.proc, e.stdin, e.enc, e.done = proc, stdin, enc, done
	e.session = uuid.NewString()
	e.mu.Unlock()
	e.logger.Info("tts helper started", slog.String("command", base), slog.Int("pid", proc.Process.Pid))
	return nil
}

func (e *execBackend) readEvents(stdout io.Reader, done chan struct{}) {
	defer close(done)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt protocol.Event
		if err := json.Unmarshal(line, &evt); err != nil {
			e.logger.Warn("failed to decode helper event", slogError(err))
			continue
		}
		switch evt.Event {
		case protocol.EventIndexMark:
			if e.onMark != nil {
				e.onMark(evt.Mark)
			}
		default:
			if evt.Error != "" {
				e.logger.Warn("helper reported error", slog.String("event", evt.Event), slog.String("error", evt.Error))
			}
		}
	}
	if err := scanner.Err(); err != nil {
		e.logger.Warn("helper output failed", slogError(err))
	}
}

func (e *execBackend) send(ctx context.Context, cmd protocol.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.enc == nil {
		return errHelperNotRunning
	}
	cmd.Session = e.session
	cmd.Timestamp = time.Now().UTC()
	if err := e.enc.Encode(cmd); err != nil {
		return fmt.Errorf("write to tts helper: %w", err)
	}
	return nil
}

func (e *execBackend) Speak(ctx context.Context, markup string) error {
	return e.send(ctx, protocol.Command{Op: protocol.OpSpeak, Text: markup})
}

func (e *execBackend) SpeakChar(ctx context.Context, c rune) error {
	return e.send(ctx, protocol.Command{Op: protocol.OpChar, Text: string(c)})
}

func (e *execBackend) Cancel(ctx context.Context) error {
	return e.send(ctx, protocol.Command{Op: protocol.OpCancel})
}

func (e *execBackend) SetRate(ctx context.Context, value int) error {
	return e.send(ctx, protocol.Command{Op: protocol.OpRate, Value: value})
}

func (e *execBackend) SetPitch(ctx context.Context, value int) error {
	return e.send(ctx, protocol.Command{Op: protocol.OpPitch, Value: value})
}

func (e *execBackend) SetPunctuation(ctx context.Context, level Punctuation) error {
	return e.send(ctx, protocol.Command{Op: protocol.OpPunctuation, Setting: level.String()})
}

func (e *execBackend) SetCapitalLetters(ctx context.Context, mode CapitalLetters) error {
	return e.send(ctx, protocol.Command{Op: protocol.OpCapitals, Setting: mode.String()})
}

func (e *execBackend) SetVoice(ctx context.Context, voice Voice) error {
	return e.send(ctx, protocol.Command{Op: protocol.OpVoice, Setting: voice.String(), Value: int(voice)})
}

// Reset restarts the helper process.
func (e *execBackend) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.stop(); err != nil {
		e.logger.Warn("tts helper exited with error", slogError(err))
	}
	return e.start()
}

func (e *execBackend) Close() error {
	return e.stop()
}

// stop closes the helper's stdin and waits for it to exit, killing it once
// the timeout elapses.
func (e *execBackend) stop() error {
	e.mu.Lock()
	proc, stdin, done := e.proc, e.stdin, e.done
	e.proc, e.stdin, e.enc, e.done = nil, nil, nil, nil
	e.mu.Unlock()
	if proc == nil {
		return nil
	}
	_ = stdin.Close()
	select {
	case <-done:
	case <-time.After(e.timeout):
		e.logger.Warn("tts helper did not exit, killing", slog.Int("pid", proc.Process.Pid))
		_ = proc.Process.Kill()
		<-done
	}
	return proc.Wait()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
