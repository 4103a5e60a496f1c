// Package speakup prepares the kernel screen reader for the softsynth.
package speakup

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loqalabs/speechd-up/internal/config"
)

var ErrNoSysfs = errors.New("speakup: sysfs directory not found")

// InitTables copies the configured character and character-type tables into
// speakup's i18n directory. Tables without a configured source are left as
// the kernel has them.
func InitTables(cfg config.SpeakupConfig, log *slog.Logger) error {
	log = log.With(slog.String("component", "speakup"))
	if cfg.DontInitTables {
		log.Info("leaving speakup tables untouched")
		return nil
	}
	tables := []struct {
		name string
		src  string
	}{
		{"characters", cfg.Characters},
		{"chartab", cfg.Chartab},
	}
	dir := filepath.Join(cfg.SysfsRoot, "i18n")
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		for _, t := range tables {
			if t.src != "" {
				return fmt.Errorf("%w: %s", ErrNoSysfs, dir)
			}
		}
		return nil
	}
	var errs []error
	for _, t := range tables {
		if t.src == "" {
			continue
		}
		dst := filepath.Join(dir, t.name)
		if err := copyTable(t.src, dst); err != nil {
			errs = append(errs, fmt.Errorf("load %s table: %w", t.name, err))
			continue
		}
		log.Info("loaded speakup table", slog.String("table", t.name), slog.String("source", t.src))
	}
	return errors.Join(errs...)
}

// copyTable writes src into an existing sysfs attribute. The attribute is
// never created or truncated by path.
func copyTable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
