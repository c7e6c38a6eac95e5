// Package rendition generates HLS and DASH renditions of published
// mezzanines on first request. Generation remuxes the AV1 stream into
// fMP4 segments without re-encoding, runs at most once per (video,
// format) at a time, and lands atomically.
package rendition

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jmylchreest/vidarr/internal/ffmpeg"
	"github.com/jmylchreest/vidarr/internal/jobs"
	"github.com/jmylchreest/vidarr/internal/runner"
	"github.com/jmylchreest/vidarr/internal/storage"
)

// Format selects a rendition flavor.
type Format string

const (
	FormatHLS  Format = "hls"
	FormatDASH Format = "dash"
)

const segmentSeconds = "4"

// Manifest names per format; their presence marks a finished rendition.
const (
	HLSPlaylist   = "index.m3u8"
	HLSMasterName = "master.m3u8"
	DASHManifest  = "manifest.mpd"
)

// Generator produces renditions lazily.
type Generator struct {
	layout *storage.Layout
	bins   ffmpeg.Binaries
	prober *ffmpeg.Prober
	logger *slog.Logger

	group singleflight.Group

	// run is overridable for tests.
	run func(ctx context.Context, logger *slog.Logger, c runner.Command) runner.Result
}

// NewGenerator wires a generator over the layout.
func NewGenerator(layout *storage.Layout, bins ffmpeg.Binaries, prober *ffmpeg.Prober, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		layout: layout,
		bins:   bins,
		prober: prober,
		logger: logger,
		run:    runner.Run,
	}
}

// Manifest returns the entry-point asset name for a format.
func Manifest(f Format) string {
	if f == FormatDASH {
		return DASHManifest
	}
	return HLSPlaylist
}

// Ensure returns the rendition directory for a video, generating it if
// this is the first request. Concurrent requests for the same (video,
// format) share one generation.
func (g *Generator) Ensure(ctx context.Context, id uuid.UUID, format Format) (string, error) {
	if !g.layout.IsPublished(id) {
		return "", jobs.Errorf(jobs.KindNotReady, "video %s is not published", id)
	}

	dir := g.dir(id, format)
	if g.exists(dir, format) {
		return dir, nil
	}

	key := string(format) + ":" + id.String()
	_, err, _ := g.group.Do(key, func() (any, error) {
		// Re-check under the flight lock; a concurrent caller may have
		// finished while this one queued.
		if g.exists(dir, format) {
			return nil, nil
		}
		// The flight is shared by every waiter, so one requester's
		// disconnect must not abort it for the rest.
		return nil, g.generate(context.WithoutCancel(ctx), id, format, dir)
	})
	if err != nil {
		return "", err
	}
	return dir, nil
}

func (g *Generator) dir(id uuid.UUID, format Format) string {
	if format == FormatDASH {
		return g.layout.DASHDir(id)
	}
	return g.layout.HLSDir(id)
}

func (g *Generator) exists(dir string, format Format) bool {
	_, err := os.Stat(filepath.Join(dir, Manifest(format)))
	return err == nil
}

// generate remuxes into <dir>.tmp and renames it into place, so readers
// never observe a half-written rendition.
func (g *Generator) generate(ctx context.Context, id uuid.UUID, format Format, dir string) error {
	source := g.layout.MezzaninePath(id)
	tmpDir := dir + ".tmp"

	_ = os.RemoveAll(tmpDir)
	if err := os.MkdirAll(tmpDir, 0o750); err != nil {
		return jobs.Errorf(jobs.KindIO, "creating rendition dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	hasAudio := g.prober.HasAudio(ctx, source)

	var args []string
	if format == FormatDASH {
		args = dashArgs(source, tmpDir, hasAudio)
	} else {
		args = hlsArgs(source, tmpDir)
	}

	g.logger.Info("generating rendition",
		slog.String("video_id", id.String()),
		slog.String("format", string(format)),
	)

	res := g.run(ctx, g.logger, runner.Command{
		Binary: g.bins.FFmpeg,
		Args:   args,
	})
	if res.Failed() {
		g.logger.Warn("rendition generation failed",
			slog.String("video_id", id.String()),
			slog.String("format", string(format)),
			slog.Int("exit_code", res.ExitCode),
			slog.String("stderr", res.StderrTail),
		)
		return jobs.Errorf(jobs.KindIO, "generating %s rendition: ffmpeg exited with status %d", format, res.ExitCode)
	}

	if err := os.Rename(tmpDir, dir); err != nil {
		return jobs.Errorf(jobs.KindIO, "publishing rendition: %v", err)
	}
	return nil
}

// hlsArgs remuxes to a fMP4 HLS rendition with a media playlist and a
// master playlist.
func hlsArgs(source, outDir string) []string {
	return []string{
		"-hide_banner", "-y",
		"-i", source,
		"-c", "copy",
		"-hls_time", segmentSeconds,
		"-hls_playlist_type", "vod",
		"-hls_segment_type", "fmp4",
		"-hls_flags", "independent_segments",
		"-hls_segment_filename", filepath.Join(outDir, "segment_%05d.m4s"),
		"-master_pl_name", HLSMasterName,
		filepath.Join(outDir, HLSPlaylist),
	}
}

// dashArgs remuxes to a template+timeline DASH rendition. Without audio
// the adaptation set list only carries video; ffmpeg rejects declaring
// an audio set with no stream to fill it.
func dashArgs(source, outDir string, hasAudio bool) []string {
	adaptationSets := "id=0,streams=v"
	if hasAudio {
		adaptationSets = "id=0,streams=v id=1,streams=a"
	}
	return []string{
		"-hide_banner", "-y",
		"-i", source,
		"-c", "copy",
		"-f", "dash",
		"-seg_duration", segmentSeconds,
		"-use_template", "1",
		"-use_timeline", "1",
		"-init_seg_name", "init_$RepresentationID$.m4s",
		"-media_seg_name", "chunk_$RepresentationID$_$Number$.m4s",
		"-adaptation_sets", adaptationSets,
		filepath.Join(outDir, DASHManifest),
	}
}
