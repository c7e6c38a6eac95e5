package rendition

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidarr/internal/ffmpeg"
	"github.com/jmylchreest/vidarr/internal/jobs"
	"github.com/jmylchreest/vidarr/internal/runner"
	"github.com/jmylchreest/vidarr/internal/storage"
)

func newTestGenerator(t *testing.T) (*Generator, *storage.Layout, uuid.UUID) {
	t.Helper()

	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)
	layout.TmpRoot = t.TempDir()
	require.NoError(t, os.MkdirAll(layout.HLSRoot(), 0o750))
	require.NoError(t, os.MkdirAll(layout.DASHRoot(), 0o750))

	id := uuid.New()
	require.NoError(t, os.MkdirAll(layout.VideoDir(id), 0o750))
	require.NoError(t, os.WriteFile(layout.MezzaninePath(id), []byte("webm"), 0o640))

	g := NewGenerator(layout, ffmpeg.Binaries{FFmpeg: "ffmpeg"}, ffmpeg.NewProber(""), slog.Default())
	return g, layout, id
}

// remuxSucceeds fakes ffmpeg by writing the manifest named as the last
// argument into the temp output directory.
func remuxSucceeds(t *testing.T, calls *atomic.Int32) func(context.Context, *slog.Logger, runner.Command) runner.Result {
	return func(_ context.Context, _ *slog.Logger, c runner.Command) runner.Result {
		if calls != nil {
			calls.Add(1)
		}
		manifest := c.Args[len(c.Args)-1]
		require.NoError(t, os.WriteFile(manifest, []byte("#manifest"), 0o640))
		require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(manifest), "segment_00001.m4s"), []byte("seg"), 0o640))
		return runner.Result{Outcome: runner.OutcomeOK}
	}
}

func TestEnsure_GeneratesHLSOnce(t *testing.T) {
	g, layout, id := newTestGenerator(t)
	var calls atomic.Int32
	g.run = remuxSucceeds(t, &calls)

	dir, err := g.Ensure(context.Background(), id, FormatHLS)
	require.NoError(t, err)
	assert.Equal(t, layout.HLSDir(id), dir)
	assert.FileExists(t, filepath.Join(dir, HLSPlaylist))

	// Second request serves the cached rendition.
	_, err = g.Ensure(context.Background(), id, FormatHLS)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	// Temp dir did not leak.
	_, statErr := os.Stat(dir + ".tmp")
	assert.True(t, os.IsNotExist(statErr))
}

func TestEnsure_DASHManifestName(t *testing.T) {
	g, layout, id := newTestGenerator(t)
	g.run = remuxSucceeds(t, nil)

	dir, err := g.Ensure(context.Background(), id, FormatDASH)
	require.NoError(t, err)
	assert.Equal(t, layout.DASHDir(id), dir)
	assert.FileExists(t, filepath.Join(dir, DASHManifest))
}

func TestEnsure_UnpublishedIsNotReady(t *testing.T) {
	g, _, _ := newTestGenerator(t)

	_, err := g.Ensure(context.Background(), uuid.New(), FormatHLS)
	require.Error(t, err)
	assert.Equal(t, jobs.KindNotReady, jobs.AsError(err, jobs.KindIO).Kind)
}

func TestEnsure_FailureLeavesNothingBehind(t *testing.T) {
	g, layout, id := newTestGenerator(t)
	g.run = func(_ context.Context, _ *slog.Logger, _ runner.Command) runner.Result {
		return runner.Result{Outcome: runner.OutcomeNonZero, ExitCode: 1, StderrTail: "bad input"}
	}

	_, err := g.Ensure(context.Background(), id, FormatHLS)
	require.Error(t, err)

	_, statErr := os.Stat(layout.HLSDir(id))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(layout.HLSDir(id) + ".tmp")
	assert.True(t, os.IsNotExist(statErr))

	// A later retry can still succeed.
	g.run = remuxSucceeds(t, nil)
	_, err = g.Ensure(context.Background(), id, FormatHLS)
	assert.NoError(t, err)
}

func TestEnsure_SurvivesRequesterDisconnect(t *testing.T) {
	g, layout, id := newTestGenerator(t)
	g.run = func(ctx context.Context, _ *slog.Logger, c runner.Command) runner.Result {
		if ctx.Err() != nil {
			return runner.Result{Outcome: runner.OutcomeCancelled, ExitCode: -1, Err: ctx.Err()}
		}
		manifest := c.Args[len(c.Args)-1]
		require.NoError(t, os.WriteFile(manifest, []byte("#manifest"), 0o640))
		return runner.Result{Outcome: runner.OutcomeOK}
	}

	// The requester's context is already dead; the generation it
	// triggered still runs to completion for everyone else.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir, err := g.Ensure(ctx, id, FormatHLS)
	require.NoError(t, err)
	assert.Equal(t, layout.HLSDir(id), dir)
	assert.FileExists(t, filepath.Join(dir, HLSPlaylist))
}

func TestEnsure_ConcurrentRequestsShareOneGeneration(t *testing.T) {
	g, _, id := newTestGenerator(t)
	var calls atomic.Int32
	g.run = remuxSucceeds(t, &calls)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.Ensure(context.Background(), id, FormatHLS)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	// Single-flight may admit a second run if a goroutine arrives after
	// the first flight finished but before its rename is observed; the
	// existence re-check keeps it to at most one real generation here.
	assert.Equal(t, int32(1), calls.Load())
}

func TestHLSAndDASHArgs(t *testing.T) {
	hls := hlsArgs("/lib/v/download.webm", "/tmp/out")
	joined := ""
	for _, a := range hls {
		joined += a + " "
	}
	assert.Contains(t, joined, "-c copy")
	assert.Contains(t, joined, "-hls_segment_type fmp4")
	assert.Contains(t, joined, "segment_%05d.m4s")
	assert.Contains(t, joined, HLSMasterName)

	dash := dashArgs("/lib/v/download.webm", "/tmp/out", true)
	joined = ""
	for _, a := range dash {
		joined += a + " "
	}
	assert.Contains(t, joined, "-f dash")
	assert.Contains(t, joined, "init_$RepresentationID$.m4s")
	assert.Contains(t, joined, "id=1,streams=a")

	dashNoAudio := dashArgs("/lib/v/download.webm", "/tmp/out", false)
	joined = ""
	for _, a := range dashNoAudio {
		joined += a + " "
	}
	assert.NotContains(t, joined, "streams=a")
}
