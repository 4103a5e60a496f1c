package bridge

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/loqalabs/speechd-up/internal/device"
	"github.com/loqalabs/speechd-up/internal/tts"
)

// MarkWriter receives reached index marks; *device.Device implements it.
type MarkWriter interface {
	WriteMark(id uint32) error
}

// MarkForwarder moves index marks from backend goroutines to the device.
// Enqueue never blocks; one writer goroutine owns device writes.
type MarkForwarder struct {
	w       MarkWriter
	queue   chan uint32
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	log     *slog.Logger
	metrics *Metrics
}

func NewMarkForwarder(w MarkWriter, size int, metrics *Metrics, log *slog.Logger) *MarkForwarder {
	if size <= 0 {
		size = 1
	}
	f := &MarkForwarder{
		w:       w,
		queue:   make(chan uint32, size),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     log.With(slog.String("component", "mark-forwarder")),
		metrics: metrics,
	}
	if err := metrics.observeQueue(func() int { return len(f.queue) }); err != nil {
		f.log.Warn("failed to register queue gauge", slogError(err))
	}
	go f.run()
	return f
}

// Handler adapts the forwarder to a backend mark callback.
func (f *MarkForwarder) Handler() tts.MarkHandler {
	return func(id uint32) { f.Enqueue(id) }
}

// Enqueue queues id and reports whether it was accepted.
func (f *MarkForwarder) Enqueue(id uint32) bool {
	select {
	case <-f.stop:
		return false
	default:
	}
	select {
	case f.queue <- id:
		return true
	default:
		f.log.Debug("index mark queue full", slog.Uint64("mark", uint64(id)))
		f.metrics.markDropped("queue_full")
		return false
	}
}

func (f *MarkForwarder) run() {
	defer close(f.done)
	for {
		select {
		case <-f.stop:
			return
		case id := <-f.queue:
			f.write(id)
		}
	}
}

func (f *MarkForwarder) write(id uint32) {
	err := f.w.WriteMark(id)
	switch {
	case err == nil:
		f.metrics.markForwarded()
	case errors.Is(err, device.ErrReadOnly):
		f.metrics.markDropped("read_only")
	case errors.Is(err, device.ErrMarkDropped):
		f.log.Debug("device busy, index mark dropped", slog.Uint64("mark", uint64(id)))
		f.metrics.markDropped("device_busy")
	default:
		f.log.Warn("failed to write index mark", slog.Uint64("mark", uint64(id)), slogError(err))
		f.metrics.markDropped("error")
	}
}

// Close stops the writer. Marks still queued are discarded.
func (f *MarkForwarder) Close() {
	f.once.Do(func() { close(f.stop) })
	<-f.done
}
