// Package ingest contains the drivers that stage source media into a
// job's incoming directory: multipart upload bodies, remote URLs and
// torrents via aria2c, and extractor sites via yt-dlp. Every driver
// produces exactly one staged file and reports fetch-stage progress.
package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/jmylchreest/vidarr/internal/jobs"
)

// Observer receives fetch progress from a driver. jobs.Reporter
// satisfies it.
type Observer interface {
	Report(fraction float64)
	ReportETA(etaSeconds float64)
}

// nopObserver lets drivers run without a consumer, mostly in tests.
type nopObserver struct{}

func (nopObserver) Report(float64)    {}
func (nopObserver) ReportETA(float64) {}

func orNop(obs Observer) Observer {
	if obs == nil {
		return nopObserver{}
	}
	return obs
}

// largestFile walks dir and returns the largest regular file, excluding
// any path in the skip set. Torrent and extractor sessions can leave
// several files behind; the payload is taken to be the biggest one.
func largestFile(dir string, skip map[string]struct{}) (string, error) {
	var best string
	var bestSize int64 = -1

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, excluded := skip[path]; excluded {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > bestSize {
			best = path
			bestSize = info.Size()
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if best == "" {
		return "", jobs.Errorf(jobs.KindFetchFailed, "no output file produced in %s", dir)
	}
	return best, nil
}

// snapshotFiles records the regular files currently under dir, so a
// later largestFile call can exclude pre-existing ones.
func snapshotFiles(dir string) map[string]struct{} {
	seen := make(map[string]struct{})
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			seen[path] = struct{}{}
		}
		return nil
	})
	return seen
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return jobs.Errorf(jobs.KindIO, "creating staging dir %s: %v", dir, err)
	}
	return nil
}

// cancelledOr maps a driver failure to Cancelled when the context was
// the reason the tool died.
func cancelledOr(ctx context.Context, err *jobs.Error) *jobs.Error {
	if ctx.Err() != nil {
		return jobs.Errorf(jobs.KindCancelled, "fetch cancelled")
	}
	return err
}
