// Package ffmpeg wraps the external media tools: binary discovery, AV1
// encoder detection, stream probing, and encode progress parsing.
package ffmpeg

import (
	"fmt"

	"github.com/jmylchreest/vidarr/internal/util"
)

// Binaries holds resolved paths for every external tool the service
// shells out to. ffmpeg is required; the rest degrade the features that
// need them.
type Binaries struct {
	FFmpeg  string
	FFprobe string
	Aria2c  string
	YtDlp   string
}

// BinaryOverrides carries operator-configured paths. Empty fields fall
// back to env var and PATH lookup.
type BinaryOverrides struct {
	FFmpeg  string
	FFprobe string
	Aria2c  string
	YtDlp   string
}

// ResolveBinaries locates the external tools.
// Search order per tool: configured path -> VIDARR_<TOOL>_BINARY env var
// -> ./<tool> -> PATH. Only ffmpeg is mandatory.
func ResolveBinaries(overrides BinaryOverrides) (Binaries, error) {
	var b Binaries

	ffmpegPath, err := util.FindBinary("ffmpeg", overrides.FFmpeg, "VIDARR_FFMPEG_BINARY")
	if err != nil {
		return Binaries{}, fmt.Errorf("ffmpeg not found: %w", err)
	}
	b.FFmpeg = ffmpegPath

	// Optional tools: a missing binary disables its driver at request
	// time rather than refusing to start.
	if path, err := util.FindBinary("ffprobe", overrides.FFprobe, "VIDARR_FFPROBE_BINARY"); err == nil {
		b.FFprobe = path
	}
	if path, err := util.FindBinary("aria2c", overrides.Aria2c, "VIDARR_ARIA2C_BINARY"); err == nil {
		b.Aria2c = path
	}
	if path, err := util.FindBinary("yt-dlp", overrides.YtDlp, "VIDARR_YTDLP_BINARY"); err == nil {
		b.YtDlp = path
	}

	return b, nil
}
