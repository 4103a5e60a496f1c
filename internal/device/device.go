package device

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultChunkSize is the largest read taken from the device per wakeup.
const DefaultChunkSize = 1024

var (
	ErrReadOnly    = errors.New("device: opened read-only")
	ErrMarkDropped = errors.New("device: index mark dropped")
	ErrClosed      = errors.New("device: closed")
)

// Device is the softsynth character device. Reads are taken in chunks no
// larger than the configured size; index marks are written back as ASCII
// decimal numbers.
type Device struct {
	path string
	rfd  int
	wfd  int
	buf  []byte
	log  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Open opens path read-write and non-blocking. If the device refuses write
// access it is reopened read-only and index marks are not reported back.
func Open(path string, chunkSize int, log *slog.Logger) (*Device, error) {
	log = log.With(slog.String("component", "device"))
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil && (errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) || errors.Is(err, unix.EROFS)) {
		log.Warn("device not writable, index marks disabled", slog.String("path", path), slogError(err))
		fd, err = unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			return nil, fmt.Errorf("open device %s: %w", path, err)
		}
		return newDevice(path, fd, -1, chunkSize, log), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open device %s: %w", path, err)
	}
	return newDevice(path, fd, fd, chunkSize, log), nil
}

// New wraps already open descriptors. Pass wfd -1 for a read-only device.
// The descriptors are owned by the Device from then on.
func New(rfd, wfd, chunkSize int, log *slog.Logger) (*Device, error) {
	if err := unix.SetNonblock(rfd, true); err != nil {
		return nil, fmt.Errorf("set non-blocking: %w", err)
	}
	if wfd >= 0 && wfd != rfd {
		if err := unix.SetNonblock(wfd, true); err != nil {
			return nil, fmt.Errorf("set non-blocking: %w", err)
		}
	}
	return newDevice(fmt.Sprintf("fd:%d", rfd), rfd, wfd, chunkSize, log.With(slog.String("component", "device"))), nil
}

func newDevice(path string, rfd, wfd, chunkSize int, log *slog.Logger) *Device {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Device{
		path: path,
		rfd:  rfd,
		wfd:  wfd,
		buf:  make([]byte, chunkSize),
		log:  log,
	}
}

func (d *Device) Path() string { return d.path }

// Writable reports whether index marks can be written back.
func (d *Device) Writable() bool { return d.wfd >= 0 }

// Read returns the next chunk. The slice is only valid until the following
// Read. A nil slice with a nil error means nothing was available. io.EOF is
// returned once the writer side has gone away.
func (d *Device) Read() ([]byte, error) {
	for {
		n, err := unix.Read(d.rfd, d.buf)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return nil, nil
		case err != nil:
			return nil, fmt.Errorf("read device: %w", err)
		case n == 0:
			return nil, io.EOF
		}
		return d.buf[:n], nil
	}
}

// WriteMark reports a reached index mark to the device. The write never
// blocks; a full device buffer drops the mark.
func (d *Device) WriteMark(id uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.wfd < 0 {
		return ErrReadOnly
	}
	payload := strconv.AppendUint(nil, uint64(id), 10)
	for {
		_, err := unix.Write(d.wfd, payload)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return ErrMarkDropped
		case err != nil:
			return fmt.Errorf("write index mark: %w", err)
		}
		return nil
	}
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	var errs []error
	if err := unix.Close(d.rfd); err != nil {
		errs = append(errs, err)
	}
	if d.wfd >= 0 && d.wfd != d.rfd {
		if err := unix.Close(d.wfd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
