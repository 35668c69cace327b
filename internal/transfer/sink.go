package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

var ErrBadFilename = errors.New("bad filename")

// Sink receives completed files.
type Sink interface {
	Save(f *File) (string, error)
}

// DirSink writes completed files into Dir under their base name.
type DirSink struct {
	Dir string
}

// Save writes f through a temp file in the same directory and renames it into
// place, replacing any existing file of that name.
func (s DirSink) Save(f *File) (string, error) {
	name, err := SafeName(f.Filename)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", s.Dir, err)
	}

	tmp, err := os.CreateTemp(s.Dir, "."+name+".*.part")
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(f.Data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}

	dst := filepath.Join(s.Dir, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	log.Info().Str("module", "transfer.sink").Str("path", dst).Int("bytes", len(f.Data)).Str("sender", f.Sender).Msg("file saved")
	return dst, nil
}

// SafeName strips any directory part from a peer-supplied filename.
func SafeName(filename string) (string, error) {
	name := filepath.Base(filepath.Clean("/" + filepath.ToSlash(filename)))
	if name == "" || name == "." || name == ".." || name == "/" || name == string(filepath.Separator) {
		return "", fmt.Errorf("%w: %q", ErrBadFilename, filename)
	}
	return name, nil
}
