package bridge

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/loqalabs/speechd-up/bridge"

// Metrics holds the bridge instruments. Without a configured meter provider
// every instrument is a no-op.
type Metrics struct {
	meter         metric.Meter
	chunks        metric.Int64Counter
	bytes         metric.Int64Counter
	actions       metric.Int64Counter
	backendErrors metric.Int64Counter
	droppedBytes  metric.Int64Counter
	marks         metric.Int64Counter
	marksDropped  metric.Int64Counter
}

func NewMetrics() (*Metrics, error) {
	m := &Metrics{meter: otel.Meter(instrumentationName)}
	var errs []error
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.meter.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	m.chunks = counter("speechd_up.device.chunks", "Chunks read from the device")
	m.bytes = counter("speechd_up.device.bytes", "Bytes read from the device")
	m.actions = counter("speechd_up.actions", "Decoded actions by kind")
	m.backendErrors = counter("speechd_up.backend.errors", "Failed backend calls by operation")
	m.droppedBytes = counter("speechd_up.recode.dropped", "Bytes with no representation in the device charset")
	m.marks = counter("speechd_up.marks.forwarded", "Index marks written back to the device")
	m.marksDropped = counter("speechd_up.marks.dropped", "Index marks lost to a full queue or device")
	return m, errors.Join(errs...)
}

func (m *Metrics) chunk(ctx context.Context, n int) {
	m.chunks.Add(ctx, 1)
	m.bytes.Add(ctx, int64(n))
}

func (m *Metrics) action(ctx context.Context, kind string) {
	m.actions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) backendError(ctx context.Context, op string) {
	m.backendErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

func (m *Metrics) dropped(n int) {
	m.droppedBytes.Add(context.Background(), int64(n))
}

func (m *Metrics) markForwarded() { m.marks.Add(context.Background(), 1) }

func (m *Metrics) markDropped(reason string) {
	m.marksDropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// observeQueue reports the mark queue depth on every collection.
func (m *Metrics) observeQueue(depth func() int) error {
	gauge, err := m.meter.Int64ObservableGauge("speechd_up.marks.queued", metric.WithDescription("Index marks waiting to be written"))
	if err != nil {
		return err
	}
	_, err = m.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(depth()))
		return nil
	}, gauge)
	return err
}
