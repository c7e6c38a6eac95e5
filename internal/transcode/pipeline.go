package transcode

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/jmylchreest/vidarr/internal/ffmpeg"
	"github.com/jmylchreest/vidarr/internal/ingest"
	"github.com/jmylchreest/vidarr/internal/jobs"
	"github.com/jmylchreest/vidarr/internal/runner"
	"github.com/jmylchreest/vidarr/internal/storage"
)

// EncoderSource supplies the encoder fallback order. *ffmpeg.Detector
// is the production implementation.
type EncoderSource interface {
	Candidates(ctx context.Context) []ffmpeg.Encoder
}

// Pipeline carries a job from source staging through encode to
// publication. One pipeline instance serves all jobs; per-job state
// lives in the registry.
type Pipeline struct {
	reg      *jobs.Registry
	layout   *storage.Layout
	janitor  *storage.Janitor
	detector EncoderSource
	prober   *ffmpeg.Prober
	bins     ffmpeg.Binaries
	aria2    *ingest.Aria2Driver
	ytdlp    *ingest.YtDlpDriver

	vaapiDevice string
	logger      *slog.Logger

	// baseCtx bounds background work; it ends at server shutdown.
	baseCtx context.Context

	// run is overridable for tests.
	run func(ctx context.Context, logger *slog.Logger, c runner.Command) runner.Result
}

// Options wires the pipeline's collaborators.
type Options struct {
	Registry    *jobs.Registry
	Layout      *storage.Layout
	Janitor     *storage.Janitor
	Detector    EncoderSource
	Prober      *ffmpeg.Prober
	Binaries    ffmpeg.Binaries
	Aria2       *ingest.Aria2Driver
	YtDlp       *ingest.YtDlpDriver
	VAAPIDevice string
	Logger      *slog.Logger
	BaseContext context.Context
}

// NewPipeline assembles a pipeline.
func NewPipeline(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &Pipeline{
		reg:         opts.Registry,
		layout:      opts.Layout,
		janitor:     opts.Janitor,
		detector:    opts.Detector,
		prober:      opts.Prober,
		bins:        opts.Binaries,
		aria2:       opts.Aria2,
		ytdlp:       opts.YtDlp,
		vaapiDevice: opts.VAAPIDevice,
		logger:      logger,
		baseCtx:     baseCtx,
		run:         runner.Run,
	}
}

// InUse reports whether a video id has a live (non-terminal) job. The
// janitor consults this before evicting.
func (pl *Pipeline) InUse(id uuid.UUID) bool {
	snap, ok := pl.reg.Get(id)
	return ok && !snap.Stage.IsTerminal()
}

// IngestUpload stages a multipart body and starts the encode in the
// background. The body must be consumed before the request ends, so the
// fetch stage runs synchronously here. The returned id is valid even
// when the upload fails; the failure is recorded on the job.
func (pl *Pipeline) IngestUpload(ctx context.Context, body io.Reader, size int64, filename string, p Params) (uuid.UUID, error) {
	if err := p.Validate(); err != nil {
		return uuid.Nil, err
	}
	if filename == "" {
		filename = "upload.bin"
	}

	id := pl.reg.Create()
	if err := pl.reg.Transition(id, jobs.StageFetching); err != nil {
		return id, err
	}

	rep := jobs.NewReporter(pl.reg, id, pl.logger)
	staged, err := ingest.SaveUpload(ctx, body, size, pl.layout.JobIncomingDir(id), filename, rep)
	if err != nil {
		pl.failAndCleanup(id, jobs.AsError(err, jobs.KindIO))
		return id, err
	}

	go pl.continueFromTranscode(pl.baseCtx, id, staged, p)
	return id, nil
}

// StartRemote validates a remote source and starts the whole pipeline
// in the background.
func (pl *Pipeline) StartRemote(src string, p Params) (uuid.UUID, error) {
	if err := p.Validate(); err != nil {
		return uuid.Nil, err
	}
	if err := ingest.ValidateSource(src); err != nil {
		return uuid.Nil, err
	}
	if !pl.aria2.Available() {
		return uuid.Nil, jobs.Errorf(jobs.KindFetchFailed, "aria2c is not installed")
	}

	id := pl.reg.Create()
	go pl.fetchAndContinue(id, p, func(ctx context.Context, destDir string, obs ingest.Observer) (string, error) {
		return pl.aria2.Fetch(ctx, src, destDir, id.String()+".download", obs)
	})
	return id, nil
}

// StartExtract validates an extractor source and starts the whole
// pipeline in the background.
func (pl *Pipeline) StartExtract(src string, p Params) (uuid.UUID, error) {
	if err := p.Validate(); err != nil {
		return uuid.Nil, err
	}
	if err := ingest.ValidateSource(src); err != nil {
		return uuid.Nil, err
	}
	if !pl.ytdlp.Available() {
		return uuid.Nil, jobs.Errorf(jobs.KindFetchFailed, "yt-dlp is not installed")
	}

	id := pl.reg.Create()
	go pl.fetchAndContinue(id, p, func(ctx context.Context, destDir string, obs ingest.Observer) (string, error) {
		return pl.ytdlp.Fetch(ctx, src, destDir, id.String(), obs)
	})
	return id, nil
}

type fetchFunc func(ctx context.Context, destDir string, obs ingest.Observer) (string, error)

func (pl *Pipeline) fetchAndContinue(id uuid.UUID, p Params, fetch fetchFunc) {
	ctx := pl.baseCtx
	if err := pl.reg.Transition(id, jobs.StageFetching); err != nil {
		pl.failAndCleanup(id, jobs.AsError(err, jobs.KindIO))
		return
	}

	rep := jobs.NewReporter(pl.reg, id, pl.logger)
	staged, err := fetch(ctx, pl.layout.JobIncomingDir(id), rep)
	if err != nil {
		pl.failAndCleanup(id, jobs.AsError(err, jobs.KindFetchFailed))
		return
	}

	pl.continueFromTranscode(ctx, id, staged, p)
}

// continueFromTranscode runs the transcoding and finalizing stages.
// Staging space is reclaimed on every exit path.
func (pl *Pipeline) continueFromTranscode(ctx context.Context, id uuid.UUID, sourcePath string, p Params) {
	defer pl.cleanupStaging(id)

	if err := pl.reg.Transition(id, jobs.StageTranscoding); err != nil {
		pl.reg.Fail(id, jobs.AsError(err, jobs.KindIO))
		return
	}

	if pl.janitor != nil {
		need := uint64(0)
		if info, err := os.Stat(sourcePath); err == nil {
			need = uint64(info.Size())
		}
		if err := pl.janitor.EnsureCapacity(ctx, need); err != nil {
			pl.reg.Fail(id, jobs.Errorf(jobs.KindIO, "%v", err))
			return
		}
	}

	duration, durErr := pl.prober.Duration(ctx, sourcePath)
	if durErr != nil {
		pl.logger.Debug("duration probe failed, progress will be heuristic",
			slog.String("job_id", id.String()), slog.Any("error", durErr))
	}
	hasAudio := pl.prober.HasAudio(ctx, sourcePath)

	candidates := pl.candidates(ctx, p)
	if len(candidates) == 0 {
		pl.reg.Fail(id, jobs.Errorf(jobs.KindEncoderUnavailable, "no usable AV1 encoder"))
		return
	}

	output := pl.layout.EncodeTempPath(id)
	rep := jobs.NewReporter(pl.reg, id, pl.logger)

	var lastResult runner.Result
	encoded := false
	for attempt, enc := range candidates {
		if attempt > 0 {
			// Fallback: zero the stage, the job-level floor holds.
			pl.reg.ResetStageProgress(id)
			rep.Reset()
		}

		plan := BuildPlan(enc, p, pl.vaapiDevice, sourcePath, output, hasAudio)
		pl.logger.Info("starting encode attempt",
			slog.String("job_id", id.String()),
			slog.String("encoder", string(enc)),
			slog.String("params", describeParams(p)),
		)

		lastResult = pl.run(ctx, pl.logger, runner.Command{
			Binary: pl.bins.FFmpeg,
			Args:   plan.Args,
			OnStderrLine: func(line string) {
				prog, ok := ffmpeg.ParseProgressLine(line)
				if !ok {
					return
				}
				if frac, ok := prog.Fraction(duration); ok {
					rep.Report(frac)
				} else {
					rep.Heartbeat()
				}
				if eta, ok := prog.ETA(duration); ok {
					rep.ReportETA(eta)
				}
			},
		})
		if !lastResult.Failed() {
			encoded = true
			break
		}

		_ = os.Remove(output)
		if ctx.Err() != nil {
			pl.reg.Fail(id, jobs.Errorf(jobs.KindCancelled, "transcode cancelled"))
			return
		}
		pl.logger.Warn("encoder attempt failed",
			slog.String("job_id", id.String()),
			slog.String("encoder", string(enc)),
			slog.Int("exit_code", lastResult.ExitCode),
			slog.String("stderr", lastResult.StderrTail),
		)
	}

	if !encoded {
		pl.reg.Fail(id, jobs.Errorf(jobs.KindTranscodeFailed,
			"all encoders failed, last exit status %d", lastResult.ExitCode))
		return
	}

	if err := pl.reg.Transition(id, jobs.StageFinalizing); err != nil {
		pl.reg.Fail(id, jobs.AsError(err, jobs.KindIO))
		return
	}
	if err := pl.layout.Publish(id, output); err != nil {
		pl.reg.Fail(id, jobs.Errorf(jobs.KindIO, "publishing mezzanine: %v", err))
		return
	}
	if err := pl.reg.Transition(id, jobs.StageComplete); err != nil {
		pl.reg.Fail(id, jobs.AsError(err, jobs.KindIO))
		return
	}

	pl.logger.Info("job complete",
		slog.String("job_id", id.String()),
		slog.String("path", pl.layout.MezzaninePath(id)),
	)
}

// candidates resolves the encoder attempt order. An explicit override
// pins a single backend with no fallback.
func (pl *Pipeline) candidates(ctx context.Context, p Params) []ffmpeg.Encoder {
	if p.Encoder != nil {
		return []ffmpeg.Encoder{*p.Encoder}
	}
	return pl.detector.Candidates(ctx)
}

func (pl *Pipeline) failAndCleanup(id uuid.UUID, jerr *jobs.Error) {
	pl.reg.Fail(id, jerr)
	pl.cleanupStaging(id)
}

func (pl *Pipeline) cleanupStaging(id uuid.UUID) {
	_ = os.RemoveAll(pl.layout.JobIncomingDir(id))
	_ = os.Remove(pl.layout.EncodeTempPath(id))
}
