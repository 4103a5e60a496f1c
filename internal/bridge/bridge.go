package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/speechd-up/internal/dectalk"
	"github.com/loqalabs/speechd-up/internal/device"
	"github.com/loqalabs/speechd-up/internal/eventstore"
	"github.com/loqalabs/speechd-up/internal/recode"
	"github.com/loqalabs/speechd-up/internal/tts"
)

type Options struct {
	Device      *device.Device
	Control     *device.Control
	Recoder     *recode.Recoder
	Backend     tts.Backend
	BackendName string
	InlineMarks bool
	Journal     *eventstore.Store
	Metrics     *Metrics
	Logger      *slog.Logger
}

// Bridge is the main loop: it waits on the device and the control pipe,
// decodes each chunk and dispatches the actions in order.
type Bridge struct {
	dev        *device.Device
	ctrl       *device.Control
	decoder    *dectalk.Decoder
	dispatcher *Dispatcher
	metrics    *Metrics
	tracer     trace.Tracer
	log        *slog.Logger
}

func New(ctx context.Context, opts Options) (*Bridge, error) {
	if opts.Device == nil || opts.Control == nil || opts.Recoder == nil || opts.Backend == nil {
		return nil, errors.New("bridge: device, control, recoder and backend are required")
	}
	log := opts.Logger.With(slog.String("component", "bridge"))
	metrics := opts.Metrics
	if metrics == nil {
		var err error
		if metrics, err = NewMetrics(); err != nil {
			log.Warn("failed to initialize metrics", slogError(err))
		}
	}
	decoder := dectalk.New(opts.Recoder,
		dectalk.WithLogger(opts.Logger),
		dectalk.WithInlineMarks(opts.InlineMarks),
		dectalk.WithDroppedHook(metrics.dropped),
	)
	return &Bridge{
		dev:        opts.Device,
		ctrl:       opts.Control,
		decoder:    decoder,
		dispatcher: NewDispatcher(ctx, opts.Backend, opts.BackendName, decoder, opts.Journal, metrics, opts.Logger),
		metrics:    metrics,
		tracer:     otel.Tracer(instrumentationName),
		log:        log,
	}, nil
}

// Params exposes the decoder's rate and pitch state.
func (b *Bridge) Params() dectalk.ParameterState { return b.decoder.Params() }

// Run processes the device until a terminate command, context cancellation
// or device hangup. Cancelling ctx is delivered as a terminate command.
func (b *Bridge) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		if err := b.ctrl.Send(device.CommandTerminate); err != nil {
			b.log.Error("failed to deliver terminate", slogError(err))
		}
	})
	defer stop()

	b.log.Info("bridge running", slog.String("device", b.dev.Path()), slog.Bool("marks", b.dev.Writable()))
	for {
		ready, err := b.dev.Wait(b.ctrl)
		if err != nil {
			return err
		}
		if ready.Control {
			done, err := b.handleControl(ctx)
			if err != nil || done {
				return err
			}
		}
		if !ready.Data {
			continue
		}
		chunk, err := b.dev.Read()
		if errors.Is(err, io.EOF) {
			b.log.Warn("device closed")
			return nil
		}
		if err != nil {
			return err
		}
		if len(chunk) > 0 {
			b.process(ctx, chunk)
		}
	}
}

func (b *Bridge) handleControl(ctx context.Context) (bool, error) {
	cmds, err := b.ctrl.Receive()
	if err != nil {
		return false, fmt.Errorf("bridge control: %w", err)
	}
	for _, cmd := range cmds {
		switch cmd {
		case device.CommandTerminate:
			b.log.Info("terminate requested")
			return true, nil
		case device.CommandReset:
			b.log.Info("reset requested")
			if err := b.dispatcher.Dispatch(ctx, dectalk.Action{Kind: dectalk.KindReset}); err != nil {
				b.log.Debug("control command failed", slog.String("command", cmd.String()), slogError(err))
			}
		default:
			b.log.Warn("unknown control command", slog.String("command", cmd.String()))
		}
	}
	return false, nil
}

func (b *Bridge) process(ctx context.Context, chunk []byte) {
	ctx, span := b.tracer.Start(ctx, "speechd_up.chunk",
		trace.WithAttributes(attribute.Int("chunk.bytes", len(chunk))),
	)
	defer span.End()
	b.metrics.chunk(ctx, len(chunk))

	var actions, failed int
	for a := range b.decoder.Actions(chunk) {
		actions++
		b.log.Debug("dispatching action", slog.String("action", a.String()))
		if err := b.dispatcher.Dispatch(ctx, a); err != nil {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("chunk.actions", actions), attribute.Int("chunk.failed", failed))
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d actions failed", failed, actions))
		return
	}
	span.SetStatus(codes.Ok, "")
}
