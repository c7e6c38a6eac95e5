package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Prober answers questions about a media file using ffprobe.
type Prober struct {
	ffprobePath string
}

// NewProber creates a prober. An empty path means ffprobe was not found;
// every probe then returns an error and callers use their fallbacks.
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath}
}

// Available reports whether ffprobe was found at startup.
func (p *Prober) Available() bool {
	return p.ffprobePath != ""
}

// Duration returns the container duration of the input file.
func (p *Prober) Duration(ctx context.Context, path string) (time.Duration, error) {
	if !p.Available() {
		return 0, fmt.Errorf("ffprobe not available")
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("probing duration of %s: %w", path, err)
	}

	text := strings.TrimSpace(string(output))
	seconds, err := strconv.ParseFloat(text, 64)
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf("unparseable duration %q for %s", text, path)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// HasAudio reports whether the input carries at least one audio stream.
// When ffprobe is missing the answer defaults to true so the encoder
// still maps audio; ffmpeg tolerates mapping an absent stream with -an
// semantics worse than a spurious opus track tolerates silence.
func (p *Prober) HasAudio(ctx context.Context, path string) bool {
	if !p.Available() {
		return true
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index",
		"-of", "csv=p=0",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return true
	}
	return strings.TrimSpace(string(output)) != ""
}
