package device

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Ready describes which sources woke Wait. Data is also set on hangup so the
// following Read observes EOF.
type Ready struct {
	Data    bool
	Control bool
}

// Wait blocks until the device or the control pipe becomes readable.
func (d *Device) Wait(ctrl *Control) (Ready, error) {
	fds := []unix.PollFd{
		{Fd: int32(d.rfd), Events: unix.POLLIN},
		{Fd: int32(ctrl.r), Events: unix.POLLIN},
	}
	for {
		_, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return Ready{}, fmt.Errorf("poll device: %w", err)
		}
		break
	}
	if fds[0].Revents&unix.POLLNVAL != 0 {
		return Ready{}, fmt.Errorf("poll device: %w", ErrClosed)
	}
	const readable = unix.POLLIN | unix.POLLHUP | unix.POLLERR
	return Ready{
		Data:    fds[0].Revents&readable != 0,
		Control: fds[1].Revents&unix.POLLIN != 0,
	}, nil
}
