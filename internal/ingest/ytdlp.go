package ingest

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/jmylchreest/vidarr/internal/jobs"
	"github.com/jmylchreest/vidarr/internal/runner"
)

// YtDlpDriver fetches sources that need site extraction via yt-dlp.
type YtDlpDriver struct {
	binary string
	logger *slog.Logger

	// run is overridable for tests.
	run func(ctx context.Context, logger *slog.Logger, c runner.Command) runner.Result
}

// NewYtDlpDriver creates the driver; binary may be empty when yt-dlp was
// not found, which turns every fetch into an immediate error.
func NewYtDlpDriver(binary string, logger *slog.Logger) *YtDlpDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &YtDlpDriver{
		binary: binary,
		logger: logger,
		run:    runner.Run,
	}
}

// Available reports whether yt-dlp was found at startup.
func (d *YtDlpDriver) Available() bool { return d.binary != "" }

// Fetch extracts and downloads src into destDir, naming outputs after
// baseName with yt-dlp choosing the extension. Extractions that produce
// several files (separate video+audio before merge) resolve to the
// largest one.
func (d *YtDlpDriver) Fetch(ctx context.Context, src, destDir, baseName string, obs Observer) (string, error) {
	obs = orNop(obs)
	if !d.Available() {
		return "", jobs.Errorf(jobs.KindFetchFailed, "yt-dlp is not installed")
	}
	if err := ensureDir(destDir); err != nil {
		return "", err
	}

	args := []string{
		"--newline",
		"--no-playlist",
		"-P", destDir,
		"-o", baseName + ".%(ext)s",
		src,
	}

	onLine := func(line string) {
		if frac, ok := parseYtDlpProgress(line); ok {
			obs.Report(frac)
		}
		if eta, ok := parseYtDlpETA(line); ok {
			obs.ReportETA(eta)
		}
	}

	res := d.run(ctx, d.logger, runner.Command{
		Binary:       d.binary,
		Args:         args,
		OnStdoutLine: onLine,
		OnStderrLine: onLine,
	})
	if res.Failed() {
		d.logger.Warn("yt-dlp failed",
			slog.String("source", src),
			slog.Int("exit_code", res.ExitCode),
			slog.String("stderr", res.StderrTail),
		)
		return "", cancelledOr(ctx, jobs.Errorf(jobs.KindFetchFailed,
			"yt-dlp exited with status %d", res.ExitCode))
	}

	return largestFile(destDir, nil)
}

var (
	// "[download]  42.5% of 10.00MiB at 2.50MiB/s ETA 00:23"
	ytdlpPercentRe = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)
	ytdlpETARe     = regexp.MustCompile(`ETA (\d+):(\d{2})(?::(\d{2}))?`)
)

func parseYtDlpProgress(line string) (float64, bool) {
	m := ytdlpPercentRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, ok := parsePercent(m[1])
	if !ok {
		return 0, false
	}
	return pct / 100, true
}

func parseYtDlpETA(line string) (float64, bool) {
	m := ytdlpETARe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	a, _ := strconv.Atoi(m[1])
	b, _ := strconv.Atoi(m[2])
	if m[3] != "" {
		c, _ := strconv.Atoi(m[3])
		return float64(a*3600 + b*60 + c), true
	}
	return float64(a*60 + b), true
}

func parsePercent(s string) (float64, bool) {
	pct, err := strconv.ParseFloat(s, 64)
	if err != nil || pct < 0 {
		return 0, false
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}
