package device

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Command is a request delivered to the main loop through the control pipe.
type Command byte

const (
	CommandReset     Command = 'r'
	CommandTerminate Command = 't'
)

func (c Command) String() string {
	switch c {
	case CommandReset:
		return "reset"
	case CommandTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("command(%q)", byte(c))
	}
}

// Control is a non-blocking self-pipe. Send may be called from any
// goroutine, including signal handlers; the main loop waits on the read end
// next to the device.
type Control struct {
	r, w int
}

func NewControl() (*Control, error) {
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("create control pipe: %w", err)
	}
	return &Control{r: p[0], w: p[1]}, nil
}

// Send queues cmd. A full pipe already holds pending wakeups, so the command
// is dropped silently in that case.
func (c *Control) Send(cmd Command) error {
	for {
		_, err := unix.Write(c.w, []byte{byte(cmd)})
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return nil
		case err != nil:
			return fmt.Errorf("send %s: %w", cmd, err)
		}
		return nil
	}
}

// Receive drains every queued command in arrival order.
func (c *Control) Receive() ([]Command, error) {
	var cmds []Command
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(c.r, buf)
		switch {
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return cmds, nil
		case err != nil:
			return cmds, fmt.Errorf("receive control command: %w", err)
		case n == 0:
			return cmds, nil
		}
		for _, b := range buf[:n] {
			cmds = append(cmds, Command(b))
		}
	}
}

func (c *Control) Close() error {
	return errors.Join(unix.Close(c.r), unix.Close(c.w))
}
