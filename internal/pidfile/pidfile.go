package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var ErrAlreadyRunning = errors.New("pidfile: another instance is running")

// File is a held PID file. The advisory lock lives as long as the process
// keeps the descriptor open, so a stale file left by a crash never blocks
// a restart.
type File struct {
	path string
	f    *os.File
}

// Acquire creates or reuses path, locks it and writes the current PID.
func Acquire(path string) (*File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create pid dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open pid file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if pid, rerr := Read(path); rerr == nil {
				return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
			}
			return nil, ErrAlreadyRunning
		}
		return nil, fmt.Errorf("lock pid file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate pid file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return &File{path: path, f: f}, nil
}

// Read returns the PID stored in path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file: %w", err)
	}
	return pid, nil
}

func (p *File) Path() string { return p.path }

// Release drops the lock and removes the file. The file is left alone once
// another instance has written its own PID into it.
func (p *File) Release() error {
	if p == nil || p.f == nil {
		return nil
	}
	closeErr := p.f.Close()
	p.f = nil
	if pid, err := Read(p.path); err != nil || pid != os.Getpid() {
		return closeErr
	}
	rmErr := os.Remove(p.path)
	if errors.Is(rmErr, os.ErrNotExist) {
		rmErr = nil
	}
	return errors.Join(closeErr, rmErr)
}
