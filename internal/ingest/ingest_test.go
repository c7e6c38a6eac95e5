package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidarr/internal/jobs"
	"github.com/jmylchreest/vidarr/internal/runner"
)

type recordingObserver struct {
	fractions []float64
	etas      []float64
}

func (o *recordingObserver) Report(f float64)    { o.fractions = append(o.fractions, f) }
func (o *recordingObserver) ReportETA(s float64) { o.etas = append(o.etas, s) }

func TestSaveUpload(t *testing.T) {
	t.Run("copies body and reports completion", func(t *testing.T) {
		dir := t.TempDir()
		obs := &recordingObserver{}
		body := strings.Repeat("v", 4096)

		path, err := SaveUpload(context.Background(), strings.NewReader(body), int64(len(body)), dir, "upload.bin", obs)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "upload.bin"), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Len(t, data, 4096)

		require.NotEmpty(t, obs.fractions)
		assert.Equal(t, 1.0, obs.fractions[len(obs.fractions)-1])
	})

	t.Run("empty body is a bad request", func(t *testing.T) {
		_, err := SaveUpload(context.Background(), strings.NewReader(""), 0, t.TempDir(), "upload.bin", nil)
		require.Error(t, err)
		assert.Equal(t, jobs.KindBadRequest, jobs.AsError(err, jobs.KindIO).Kind)
	})

	t.Run("cancelled context aborts and removes partial file", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		dir := t.TempDir()
		_, err := SaveUpload(ctx, strings.NewReader("data"), 4, dir, "upload.bin", nil)
		require.Error(t, err)
		assert.Equal(t, jobs.KindCancelled, jobs.AsError(err, jobs.KindIO).Kind)

		_, statErr := os.Stat(filepath.Join(dir, "upload.bin"))
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestIsTorrentSource(t *testing.T) {
	assert.True(t, IsTorrentSource("magnet:?xt=urn:btih:abcdef"))
	assert.True(t, IsTorrentSource("MAGNET:?xt=urn:btih:abcdef"))
	assert.True(t, IsTorrentSource("https://example.com/file.torrent"))
	assert.True(t, IsTorrentSource("https://example.com/File.TORRENT?x=1"))
	assert.False(t, IsTorrentSource("https://example.com/video.mp4"))
	assert.False(t, IsTorrentSource("ftp://example.com/video.mkv"))
}

func TestValidateSource(t *testing.T) {
	tests := []struct {
		src string
		ok  bool
	}{
		{"https://example.com/v.mp4", true},
		{"http://example.com/v.mp4", true},
		{"ftp://example.com/v.mkv", true},
		{"ftps://example.com/v.mkv", true},
		{"magnet:?xt=urn:btih:abcdef", true},
		{"file:///etc/passwd", false},
		{"https://", false},
		{"not a url at all://", false},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			err := ValidateSource(tt.src)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, jobs.KindBadRequest, jobs.AsError(err, jobs.KindIO).Kind)
			}
		})
	}
}

func TestParseAria2Progress(t *testing.T) {
	frac, ok := parseAria2Progress("[#2089b0 400.0KiB/33.2MiB(1%) CN:1 DL:115.7KiB ETA:4m51s]")
	require.True(t, ok)
	assert.InDelta(t, 0.01, frac, 0.0001)

	frac, ok = parseAria2Progress("[#2089b0 16.6MiB/33.2MiB(49.9%) CN:4 DL:2.1MiB ETA:8s]")
	require.True(t, ok)
	assert.InDelta(t, 0.499, frac, 0.0001)

	_, ok = parseAria2Progress("Download complete: /tmp/foo.mkv")
	assert.False(t, ok)
}

func TestParseAria2ETA(t *testing.T) {
	eta, ok := parseAria2ETA("[#2089b0 ... ETA:4m51s]")
	require.True(t, ok)
	assert.Equal(t, 291.0, eta)

	eta, ok = parseAria2ETA("[#2089b0 ... ETA:8s]")
	require.True(t, ok)
	assert.Equal(t, 8.0, eta)

	_, ok = parseAria2ETA("[#2089b0 no eta here]")
	assert.False(t, ok)
}

func TestParseYtDlpProgress(t *testing.T) {
	frac, ok := parseYtDlpProgress("[download]  42.5% of 10.00MiB at 2.50MiB/s ETA 00:23")
	require.True(t, ok)
	assert.InDelta(t, 0.425, frac, 0.0001)

	frac, ok = parseYtDlpProgress("[download] 100% of 10.00MiB in 00:04")
	require.True(t, ok)
	assert.Equal(t, 1.0, frac)

	_, ok = parseYtDlpProgress("[info] Downloading webpage")
	assert.False(t, ok)
}

func TestParseYtDlpETA(t *testing.T) {
	eta, ok := parseYtDlpETA("[download]  42.5% of 10.00MiB at 2.50MiB/s ETA 00:23")
	require.True(t, ok)
	assert.Equal(t, 23.0, eta)

	eta, ok = parseYtDlpETA("[download]  1.0% of 4.00GiB at 1.00MiB/s ETA 01:07:12")
	require.True(t, ok)
	assert.Equal(t, 4032.0, eta)
}

func TestAria2Fetch_PlainURL(t *testing.T) {
	dir := t.TempDir()
	obs := &recordingObserver{}

	d := NewAria2Driver("aria2c", slog.Default())
	d.run = func(_ context.Context, _ *slog.Logger, c runner.Command) runner.Result {
		assert.Contains(t, c.Args, "--allow-overwrite=true")
		assert.Contains(t, c.Args, "--summary-interval=1")
		assert.Contains(t, c.Args, "--out")
		require.NoError(t, os.WriteFile(filepath.Join(dir, "video.bin"), []byte("payload"), 0o640))
		c.OnStdoutLine("[#1 1.0MiB/2.0MiB(50%) CN:1 DL:1.0MiB ETA:1s]")
		return runner.Result{Outcome: runner.OutcomeOK}
	}

	path, err := d.Fetch(context.Background(), "https://example.com/v.mp4", dir, "video.bin", obs)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "video.bin"), path)
	assert.Equal(t, []float64{0.5}, obs.fractions)
	assert.Equal(t, []float64{1.0}, obs.etas)
}

func TestAria2Fetch_TorrentPicksLargestNewFile(t *testing.T) {
	dir := t.TempDir()

	// A file that predates the session must not be picked.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leftover.bin"), make([]byte, 9000), 0o640))

	d := NewAria2Driver("aria2c", slog.Default())
	d.run = func(_ context.Context, _ *slog.Logger, c runner.Command) runner.Result {
		assert.NotContains(t, c.Args, "--out")
		assert.Contains(t, c.Args, "--seed-time=0")
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "Some.Release"), 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "Some.Release", "movie.mkv"), make([]byte, 5000), 0o640))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "Some.Release", "sample.mkv"), make([]byte, 100), 0o640))
		return runner.Result{Outcome: runner.OutcomeOK}
	}

	path, err := d.Fetch(context.Background(), "magnet:?xt=urn:btih:abc", dir, "ignored", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Some.Release", "movie.mkv"), path)
}

func TestAria2Fetch_FailureIsClassified(t *testing.T) {
	d := NewAria2Driver("aria2c", slog.Default())
	d.run = func(_ context.Context, _ *slog.Logger, _ runner.Command) runner.Result {
		return runner.Result{Outcome: runner.OutcomeNonZero, ExitCode: 19}
	}

	_, err := d.Fetch(context.Background(), "https://example.com/v.mp4", t.TempDir(), "v.bin", nil)
	require.Error(t, err)
	je := jobs.AsError(err, jobs.KindIO)
	assert.Equal(t, jobs.KindFetchFailed, je.Kind)
	assert.Contains(t, je.Message, "19")
}

func TestAria2Fetch_MissingBinary(t *testing.T) {
	d := NewAria2Driver("", slog.Default())
	_, err := d.Fetch(context.Background(), "https://example.com/v.mp4", t.TempDir(), "v.bin", nil)
	require.Error(t, err)
	assert.Equal(t, jobs.KindFetchFailed, jobs.AsError(err, jobs.KindIO).Kind)
}

func TestYtDlpFetch(t *testing.T) {
	dir := t.TempDir()
	obs := &recordingObserver{}

	d := NewYtDlpDriver("yt-dlp", slog.Default())
	d.run = func(_ context.Context, _ *slog.Logger, c runner.Command) runner.Result {
		assert.Contains(t, c.Args, "--newline")
		assert.Contains(t, c.Args, "--no-playlist")
		require.NoError(t, os.WriteFile(filepath.Join(dir, "job.webm"), make([]byte, 2048), 0o640))
		c.OnStdoutLine("[download]  55.0% of 2.00KiB at 1.00KiB/s ETA 00:01")
		return runner.Result{Outcome: runner.OutcomeOK}
	}

	path, err := d.Fetch(context.Background(), "https://video.example/watch?v=x", dir, "job", obs)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "job.webm"), path)
	assert.Equal(t, []float64{0.55}, obs.fractions)
}

func TestYtDlpFetch_NoOutputIsAFetchFailure(t *testing.T) {
	d := NewYtDlpDriver("yt-dlp", slog.Default())
	d.run = func(_ context.Context, _ *slog.Logger, _ runner.Command) runner.Result {
		return runner.Result{Outcome: runner.OutcomeOK}
	}

	_, err := d.Fetch(context.Background(), "https://video.example/watch?v=x", t.TempDir(), "job", nil)
	require.Error(t, err)
	assert.Equal(t, jobs.KindFetchFailed, jobs.AsError(err, jobs.KindIO).Kind)
}
