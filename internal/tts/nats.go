package tts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/speechd-up/internal/bus"
	"github.com/loqalabs/speechd-up/internal/protocol"
)

// natsBackend publishes synthesis commands on the bus for a remote speech
// service and listens for its index mark events.
type natsBackend struct {
	bus    *bus.Client
	prefix string
	onMark MarkHandler
	sub    *nats.Subscription
	logger *slog.Logger

	mu      sync.Mutex
	session string
}

func NewNATS(busClient *bus.Client, prefix string, onMark MarkHandler, log *slog.Logger) (Backend, error) {
	n := &natsBackend{
		bus:     busClient,
		prefix:  prefix,
		onMark:  onMark,
		logger:  log.With(slog.String("component", "tts-nats")),
		session: uuid.NewString(),
	}
	sub, err := busClient.Conn().Subscribe(protocol.EventSubject(prefix), n.handleEvent)
	if err != nil {
		return nil, fmt.Errorf("subscribe speech events: %w", err)
	}
	n.sub = sub
	return n, nil
}

func (n *natsBackend) handleEvent(msg *nats.Msg) {
	var evt protocol.Event
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		n.logger.Warn("failed to decode speech event", slogError(err))
		return
	}
	if evt.Session != "" && evt.Session != n.currentSession() {
		return
	}
	switch evt.Event {
	case protocol.EventIndexMark:
		if n.onMark != nil {
			n.onMark(evt.Mark)
		}
	default:
		if evt.Error != "" {
			n.logger.Warn("speech service reported error", slog.String("event", evt.Event), slog.String("error", evt.Error))
		}
	}
}

func (n *natsBackend) currentSession() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.session
}

func (n *natsBackend) publish(ctx context.Context, cmd protocol.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cmd.Session = n.currentSession()
	cmd.Timestamp = time.Now().UTC()
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return n.bus.Conn().Publish(protocol.CommandSubject(n.prefix), data)
}

func (n *natsBackend) Speak(ctx context.Context, markup string) error {
	return n.publish(ctx, protocol.Command{Op: protocol.OpSpeak, Text: markup})
}

func (n *natsBackend) SpeakChar(ctx context.Context, c rune) error {
	return n.publish(ctx, protocol.Command{Op: protocol.OpChar, Text: string(c)})
}

func (n *natsBackend) Cancel(ctx context.Context) error {
	return n.publish(ctx, protocol.Command{Op: protocol.OpCancel})
}

func (n *natsBackend) SetRate(ctx context.Context, value int) error {
	return n.publish(ctx, protocol.Command{Op: protocol.OpRate, Value: value})
}

func (n *natsBackend) SetPitch(ctx context.Context, value int) error {
	return n.publish(ctx, protocol.Command{Op: protocol.OpPitch, Value: value})
}

func (n *natsBackend) SetPunctuation(ctx context.Context, level Punctuation) error {
	return n.publish(ctx, protocol.Command{Op: protocol.OpPunctuation, Setting: level.String()})
}

func (n *natsBackend) SetCapitalLetters(ctx context.Context, mode CapitalLetters) error {
	return n.publish(ctx, protocol.Command{Op: protocol.OpCapitals, Setting: mode.String()})
}

func (n *natsBackend) SetVoice(ctx context.Context, voice Voice) error {
	return n.publish(ctx, protocol.Command{Op: protocol.OpVoice, Setting: voice.String(), Value: int(voice)})
}

// Reset announces the end of the current session and starts a new one.
func (n *natsBackend) Reset(ctx context.Context) error {
	if err := n.publish(ctx, protocol.Command{Op: protocol.OpReset}); err != nil {
		return err
	}
	n.mu.Lock()
	n.session = uuid.NewString()
	n.mu.Unlock()
	return n.bus.Conn().FlushTimeout(2 * time.Second)
}

func (n *natsBackend) Close() error {
	if n.sub != nil {
		return n.sub.Drain()
	}
	return nil
}
