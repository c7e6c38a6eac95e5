package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
)

// Publish moves a finished encode into the library atomically. Readers
// either see the previous state or the complete mezzanine, never a
// partial file. A plain rename is tried first; when the temp filesystem
// differs from the library (EXDEV) the file is copied into a temp file
// inside the target directory and renamed from there.
func (l *Layout) Publish(id uuid.UUID, encodedPath string) error {
	target := l.MezzaninePath(id)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("creating video dir: %w", err)
	}

	if err := os.Rename(encodedPath, target); err == nil {
		return nil
	}

	src, err := os.Open(encodedPath)
	if err != nil {
		return fmt.Errorf("opening encode output: %w", err)
	}
	defer src.Close()

	t, err := renameio.TempFile(filepath.Dir(target), target)
	if err != nil {
		return fmt.Errorf("creating publish temp file: %w", err)
	}
	defer t.Cleanup()

	if _, err := io.Copy(t, src); err != nil {
		return fmt.Errorf("copying mezzanine across filesystems: %w", err)
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("publishing mezzanine: %w", err)
	}

	// Source removal after a successful copy is best effort.
	_ = os.Remove(encodedPath)
	return nil
}
