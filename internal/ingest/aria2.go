package ingest

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/jmylchreest/vidarr/internal/jobs"
	"github.com/jmylchreest/vidarr/internal/runner"
)

// Aria2Driver fetches remote sources with aria2c: plain HTTP(S), FTP,
// .torrent URLs, and magnet URIs.
type Aria2Driver struct {
	binary string
	logger *slog.Logger

	// run is overridable for tests.
	run func(ctx context.Context, logger *slog.Logger, c runner.Command) runner.Result
}

// NewAria2Driver creates the driver; binary may be empty when aria2c was
// not found, which turns every fetch into an immediate error.
func NewAria2Driver(binary string, logger *slog.Logger) *Aria2Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aria2Driver{
		binary: binary,
		logger: logger,
		run:    runner.Run,
	}
}

// Available reports whether aria2c was found at startup.
func (d *Aria2Driver) Available() bool { return d.binary != "" }

// IsTorrentSource reports whether src needs a bittorrent session, which
// changes both the aria2c flags and how the output file is located.
func IsTorrentSource(src string) bool {
	if strings.HasPrefix(strings.ToLower(src), "magnet:") {
		return true
	}
	u, err := url.Parse(src)
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".torrent")
}

// ValidateSource rejects URLs no driver mode can handle before a job is
// created for them.
func ValidateSource(src string) error {
	if strings.HasPrefix(strings.ToLower(src), "magnet:") {
		return nil
	}
	u, err := url.Parse(src)
	if err != nil {
		return jobs.Errorf(jobs.KindBadRequest, "invalid url: %v", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "ftp", "ftps":
		if u.Host == "" {
			return jobs.Errorf(jobs.KindBadRequest, "url has no host: %s", src)
		}
		return nil
	default:
		return jobs.Errorf(jobs.KindBadRequest, "unsupported url scheme %q", u.Scheme)
	}
}

// Fetch downloads src into destDir and returns the staged file path.
// Non-torrent fetches are written to outName; torrent sessions name
// their own files and the largest new one wins.
func (d *Aria2Driver) Fetch(ctx context.Context, src, destDir, outName string, obs Observer) (string, error) {
	obs = orNop(obs)
	if !d.Available() {
		return "", jobs.Errorf(jobs.KindFetchFailed, "aria2c is not installed")
	}
	if err := ensureDir(destDir); err != nil {
		return "", err
	}

	torrent := IsTorrentSource(src)
	args := []string{
		"--allow-overwrite=true",
		"--auto-file-renaming=false",
		"--summary-interval=1",
		"--seed-time=0",
		"--bt-seed-until=0",
		"--bt-stop-timeout=0",
		"--bt-remove-unselected-file=true",
		"--bt-save-metadata=false",
		"--dir", destDir,
	}
	if !torrent {
		args = append(args, "--out", outName)
	}
	args = append(args, src)

	before := snapshotFiles(destDir)

	res := d.run(ctx, d.logger, runner.Command{
		Binary: d.binary,
		Args:   args,
		OnStdoutLine: func(line string) {
			if frac, ok := parseAria2Progress(line); ok {
				obs.Report(frac)
			}
			if eta, ok := parseAria2ETA(line); ok {
				obs.ReportETA(eta)
			}
		},
	})
	if res.Failed() {
		d.logger.Warn("aria2c failed",
			slog.String("source", src),
			slog.Int("exit_code", res.ExitCode),
			slog.String("stderr", res.StderrTail),
		)
		return "", cancelledOr(ctx, jobs.Errorf(jobs.KindFetchFailed,
			"aria2c exited with status %d", res.ExitCode))
	}

	if torrent {
		// A bittorrent session writes the .torrent metadata and the
		// payload under names of its own choosing.
		return largestFile(destDir, before)
	}
	return largestFile(destDir, nil)
}

var (
	// "[#2089b0 400KiB/33MiB(1%) CN:1 DL:115KiB ETA:4m51s]"
	aria2PercentRe = regexp.MustCompile(`\((\d+(?:\.\d+)?)%\)`)
	aria2ETARe     = regexp.MustCompile(`ETA:([0-9hms]+)`)
)

func parseAria2Progress(line string) (float64, bool) {
	m := aria2PercentRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, ok := parsePercent(m[1])
	if !ok {
		return 0, false
	}
	return pct / 100, true
}

func parseAria2ETA(line string) (float64, bool) {
	m := aria2ETARe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	dur, err := time.ParseDuration(m[1])
	if err != nil {
		return 0, false
	}
	return dur.Seconds(), true
}
