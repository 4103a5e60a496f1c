package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/speechd-up/internal/bus"
)

// Options selects and configures a backend for Open.
type Options struct {
	Mode    string // ssip, nats, exec, mock
	SSIP    SSIPOptions
	Command string
	Timeout time.Duration

	Bus           *bus.Client
	SubjectPrefix string
}

func Open(ctx context.Context, opts Options, onMark MarkHandler, log *slog.Logger) (Backend, error) {
	switch opts.Mode {
	case "ssip":
		ssip := opts.SSIP
		if ssip.Timeout == 0 {
			ssip.Timeout = opts.Timeout
		}
		return NewSSIP(ctx, ssip, onMark, log)
	case "nats":
		if opts.Bus == nil {
			return nil, errors.New("nats backend requires a bus connection")
		}
		return NewNATS(opts.Bus, opts.SubjectPrefix, onMark, log)
	case "exec":
		return NewExec(opts.Command, opts.Timeout, onMark, log)
	case "mock":
		return NewMock(onMark, log), nil
	default:
		return nil, fmt.Errorf("unknown backend mode %q", opts.Mode)
	}
}
