// Package storage owns the on-disk layout: the published video library,
// staging and rendition scratch space, atomic publication, and the disk
// pressure janitor.
package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// MezzanineFilename is the published file inside every video directory.
const MezzanineFilename = "download.webm"

// Layout maps video and job identifiers to filesystem paths. The
// published library lives under Root; everything transient lives under
// TmpRoot so a crash never leaves partial files next to published ones.
type Layout struct {
	// Root is the published library: one directory per video id.
	Root string
	// TmpRoot holds staging downloads, encode outputs, and rendition
	// scratch. Defaults to <os.TempDir()>/vrs.
	TmpRoot string
}

// NewLayout builds a layout rooted at the given library directory.
func NewLayout(root string) (*Layout, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}
	l := &Layout{
		Root:    absRoot,
		TmpRoot: filepath.Join(os.TempDir(), "vrs"),
	}
	for _, dir := range []string{l.Root, l.IncomingDir(), l.HLSRoot(), l.DASHRoot()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return l, nil
}

// VideoDir is the published directory for one video.
func (l *Layout) VideoDir(id uuid.UUID) string {
	return filepath.Join(l.Root, id.String())
}

// MezzaninePath is the published mezzanine file for one video.
func (l *Layout) MezzaninePath(id uuid.UUID) string {
	return filepath.Join(l.VideoDir(id), MezzanineFilename)
}

// IsPublished reports whether the mezzanine for id exists.
func (l *Layout) IsPublished(id uuid.UUID) bool {
	info, err := os.Stat(l.MezzaninePath(id))
	return err == nil && info.Mode().IsRegular()
}

// IncomingDir is the staging area for in-flight downloads and uploads.
func (l *Layout) IncomingDir() string {
	return filepath.Join(l.TmpRoot, "incoming")
}

// JobIncomingDir is the per-job staging directory.
func (l *Layout) JobIncomingDir(id uuid.UUID) string {
	return filepath.Join(l.IncomingDir(), id.String())
}

// EncodeTempPath is where the encoder writes before publication.
func (l *Layout) EncodeTempPath(id uuid.UUID) string {
	return filepath.Join(l.TmpRoot, id.String()+".encode.webm")
}

// HLSRoot and DASHRoot hold generated renditions, keyed by video id.
func (l *Layout) HLSRoot() string  { return filepath.Join(l.TmpRoot, "hls") }
func (l *Layout) DASHRoot() string { return filepath.Join(l.TmpRoot, "dash") }

// HLSDir is the rendition directory for one video.
func (l *Layout) HLSDir(id uuid.UUID) string {
	return filepath.Join(l.HLSRoot(), id.String())
}

// DASHDir is the rendition directory for one video.
func (l *Layout) DASHDir(id uuid.UUID) string {
	return filepath.Join(l.DASHRoot(), id.String())
}

// RenditionCache describes one generated rendition directory, used by
// the janitor to order evictions.
type RenditionCache struct {
	ID      uuid.UUID
	Format  string
	Dir     string
	ModTime time.Time
}

// ListRenditionCaches scans the HLS and DASH roots and returns every
// finished rendition directory. In-flight ".tmp" directories and
// entries not named by a UUID are skipped.
func (l *Layout) ListRenditionCaches() ([]RenditionCache, error) {
	var out []RenditionCache
	for _, root := range []struct {
		format string
		dir    string
	}{
		{"hls", l.HLSRoot()},
		{"dash", l.DASHRoot()},
	} {
		entries, err := os.ReadDir(root.dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading rendition root %s: %w", root.dir, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			id, err := uuid.Parse(entry.Name())
			if err != nil {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			out = append(out, RenditionCache{
				ID:      id,
				Format:  root.format,
				Dir:     filepath.Join(root.dir, entry.Name()),
				ModTime: info.ModTime(),
			})
		}
	}
	return out, nil
}

// SweepIncoming clears staging leftovers from a previous run. Called at
// startup before the server accepts jobs, so nothing in here is live.
func (l *Layout) SweepIncoming(logger *slog.Logger) {
	entries, err := os.ReadDir(l.IncomingDir())
	if err != nil {
		return
	}
	removed := 0
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(l.IncomingDir(), entry.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 && logger != nil {
		logger.Info("swept orphaned staging entries",
			slog.Int("count", removed),
			slog.String("dir", l.IncomingDir()),
		)
	}
}
