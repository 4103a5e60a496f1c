package bridge

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/loqalabs/speechd-up/internal/device"
	"github.com/loqalabs/speechd-up/internal/recode"
	"github.com/loqalabs/speechd-up/internal/tts"
)

type runHarness struct {
	feed    int
	marks   int
	dev     *device.Device
	ctrl    *device.Control
	mock    *tts.MockBackend
	fwd     *MarkForwarder
	bridge  *Bridge
	err     error
	done    chan struct{}
	cancel  context.CancelFunc
	closeIn sync.Once
}

func startBridge(t *testing.T) *runHarness {
	t.Helper()
	var in, out [2]int
	if err := unix.Pipe2(in[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	if err := unix.Pipe2(out[:], unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	dev, err := device.New(in[0], out[1], 1024, newLogger())
	if err != nil {
		t.Fatalf("device: %v", err)
	}
	ctrl, err := device.NewControl()
	if err != nil {
		t.Fatalf("control: %v", err)
	}
	rec, err := recode.New(recode.DefaultCharset)
	if err != nil {
		t.Fatalf("recoder: %v", err)
	}
	metrics := newMetrics(t)
	fwd := NewMarkForwarder(dev, 8, metrics, newLogger())
	mock := tts.NewMock(fwd.Handler(), newLogger())

	ctx, cancel := context.WithCancel(context.Background())
	b, err := New(ctx, Options{
		Device:      dev,
		Control:     ctrl,
		Recoder:     rec,
		Backend:     mock,
		BackendName: "mock",
		InlineMarks: true,
		Metrics:     metrics,
		Logger:      newLogger(),
	})
	if err != nil {
		t.Fatalf("bridge: %v", err)
	}
	h := &runHarness{feed: in[1], marks: out[0], dev: dev, ctrl: ctrl, mock: mock, fwd: fwd, bridge: b, done: make(chan struct{}), cancel: cancel}
	go func() {
		h.err = b.Run(ctx)
		close(h.done)
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(5 * time.Second):
			t.Error("bridge did not stop")
		}
		h.closeFeed()
		mock.Wait()
		fwd.Close()
		_ = dev.Close()
		_ = ctrl.Close()
		_ = unix.Close(out[0])
	})
	return h
}

func (h *runHarness) write(t *testing.T, s string) {
	t.Helper()
	if _, err := unix.Write(h.feed, []byte(s)); err != nil {
		t.Fatalf("feed device: %v", err)
	}
}

func (h *runHarness) closeFeed() {
	h.closeIn.Do(func() { _ = unix.Close(h.feed) })
}

func (h *runHarness) readMark(t *testing.T) uint32 {
	t.Helper()
	fds := []unix.PollFd{{Fd: int32(h.marks), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 5000)
	if err != nil || n == 0 {
		t.Fatalf("no index mark written to device (err=%v)", err)
	}
	buf := make([]byte, 32)
	r, err := unix.Read(h.marks, buf)
	if err != nil {
		t.Fatalf("read mark: %v", err)
	}
	id, err := strconv.ParseUint(string(buf[:r]), 10, 32)
	if err != nil {
		t.Fatalf("parse mark %q: %v", buf[:r], err)
	}
	return uint32(id)
}

func (h *runHarness) waitCalls(t *testing.T, n int) []tts.Call {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if calls := h.mock.Calls(); len(calls) >= n {
			return calls
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d backend calls, have %v", n, h.mock.Calls())
	return nil
}

func (h *runHarness) result(t *testing.T) error {
	t.Helper()
	select {
	case <-h.done:
		return h.err
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
	}
	return nil
}

func TestBridgeForwardsIndexMarks(t *testing.T) {
	h := startBridge(t)
	h.write(t, "hello\x017iworld")

	if id := h.readMark(t); id != 7 {
		t.Fatalf("expected mark 7, got %d", id)
	}
	calls := h.waitCalls(t, 1)
	if calls[0].Text != `<speak>hello<mark name="7"/>world</speak>` {
		t.Fatalf("unexpected speak text %q", calls[0].Text)
	}
}

func TestBridgeControlReset(t *testing.T) {
	h := startBridge(t)
	h.write(t, "\x018s")
	h.waitCalls(t, 1)

	if err := h.ctrl.Send(device.CommandReset); err != nil {
		t.Fatalf("send reset: %v", err)
	}
	calls := h.waitCalls(t, 2)
	if calls[1].Op != "reset" {
		t.Fatalf("expected reset call, got %v", calls)
	}
	if p := h.bridge.Params(); p.Rate != 8 {
		t.Fatalf("reset must keep rate, got %d", p.Rate)
	}

	if err := h.ctrl.Send(device.CommandTerminate); err != nil {
		t.Fatalf("send terminate: %v", err)
	}
	if err := h.result(t); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestBridgeControlResetFailureKeepsRunning(t *testing.T) {
	h := startBridge(t)
	h.mock.FailOn("reset", errors.New("synthesizer offline"))
	if err := h.ctrl.Send(device.CommandReset); err != nil {
		t.Fatalf("send reset: %v", err)
	}
	h.waitCalls(t, 1)

	h.write(t, "\x014s")
	calls := h.waitCalls(t, 2)
	if calls[0].Op != "reset" || calls[1].Op != "rate" {
		t.Fatalf("expected reset then rate, got %v", calls)
	}

	if err := h.ctrl.Send(device.CommandTerminate); err != nil {
		t.Fatalf("send terminate: %v", err)
	}
	if err := h.result(t); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestBridgeStopsOnCancel(t *testing.T) {
	h := startBridge(t)
	h.cancel()
	if err := h.result(t); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestBridgeStopsOnHangup(t *testing.T) {
	h := startBridge(t)
	h.write(t, "bye")
	h.waitCalls(t, 1)
	h.closeFeed()
	if err := h.result(t); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(context.Background(), Options{Logger: newLogger()}); err == nil {
		t.Fatal("expected error without device and backend")
	}
}

type gatedWriter struct {
	started chan uint32
	release chan struct{}

	mu  sync.Mutex
	ids []uint32
}

func (w *gatedWriter) WriteMark(id uint32) error {
	w.started <- id
	<-w.release
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ids = append(w.ids, id)
	if id == 99 {
		return device.ErrMarkDropped
	}
	return nil
}

func TestMarkForwarderDropsWhenFull(t *testing.T) {
	w := &gatedWriter{started: make(chan uint32, 4), release: make(chan struct{})}
	f := NewMarkForwarder(w, 1, newMetrics(t), newLogger())

	if !f.Enqueue(1) {
		t.Fatal("first mark rejected")
	}
	<-w.started
	if !f.Enqueue(2) {
		t.Fatal("second mark should fill the queue")
	}
	if f.Enqueue(3) {
		t.Fatal("third mark should be dropped")
	}
	close(w.release)
	if id := <-w.started; id != 2 {
		t.Fatalf("expected mark 2 next, got %d", id)
	}
	f.Close()

	if f.Enqueue(4) {
		t.Fatal("closed forwarder accepted a mark")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.ids) != 2 || w.ids[0] != 1 || w.ids[1] != 2 {
		t.Fatalf("unexpected written marks %v", w.ids)
	}
}

func TestMarkForwarderReportsDeviceErrors(t *testing.T) {
	w := &gatedWriter{started: make(chan uint32, 4), release: make(chan struct{})}
	close(w.release)
	f := NewMarkForwarder(w, 4, newMetrics(t), newLogger())
	f.Handler()(99)
	if id := <-w.started; id != 99 {
		t.Fatalf("unexpected mark %d", id)
	}
	f.Close()
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.ids) != 1 || w.ids[0] != 99 {
		t.Fatalf("unexpected written marks %v", w.ids)
	}
}
