// Package transcode turns a staged source file into the published AV1
// (WebM, Opus audio) mezzanine. It owns encoder parameter validation,
// the per-backend ffmpeg argument tables, and the pipeline that carries
// a job from fetch through publication.
package transcode

import (
	"fmt"
	"strconv"

	"github.com/jmylchreest/vidarr/internal/ffmpeg"
	"github.com/jmylchreest/vidarr/internal/jobs"
)

// Quality parameter bounds. CRF follows the AV1 0-63 scale; cpu-used is
// libaom's 0-8 speed ladder.
const (
	DefaultCRF     = 30
	DefaultCPUUsed = 6

	maxCRF     = 63
	maxCPUUsed = 8

	// nvenc's -cq tops out at 51 even though AV1 CRF goes to 63.
	maxNVENCCQ = 51

	opusBitrate = "192k"
)

// Params are the per-request encode settings.
type Params struct {
	// Encoder, when set, pins one backend and disables fallback.
	Encoder *ffmpeg.Encoder
	CRF     int
	CPUUsed int
}

// DefaultParams returns the server defaults.
func DefaultParams() Params {
	return Params{CRF: DefaultCRF, CPUUsed: DefaultCPUUsed}
}

// Validate rejects out-of-range quality settings. Out-of-range values
// are a client error, not something to silently clamp.
func (p Params) Validate() error {
	if p.CRF < 0 || p.CRF > maxCRF {
		return jobs.Errorf(jobs.KindBadRequest, "crf out of range")
	}
	if p.CPUUsed < 0 || p.CPUUsed > maxCPUUsed {
		return jobs.Errorf(jobs.KindBadRequest, "cpu_used out of range")
	}
	return nil
}

// Plan is one concrete ffmpeg invocation for one encoder backend.
type Plan struct {
	Encoder ffmpeg.Encoder
	Args    []string
}

// BuildPlan assembles the full ffmpeg argument list for one backend.
// hasAudio false drops the audio stream instead of encoding silence.
func BuildPlan(enc ffmpeg.Encoder, p Params, vaapiDevice, inputPath, outputPath string, hasAudio bool) Plan {
	args := []string{"-hide_banner", "-y"}

	// Hardware decode setup precedes -i.
	switch enc {
	case ffmpeg.EncoderNVENC:
		args = append(args, "-hwaccel", "cuda", "-hwaccel_output_format", "cuda")
	case ffmpeg.EncoderQSV:
		args = append(args, "-hwaccel", "qsv")
	case ffmpeg.EncoderVAAPI:
		args = append(args,
			"-hwaccel", "vaapi",
			"-hwaccel_device", vaapiDevice,
			"-hwaccel_output_format", "vaapi",
		)
	}

	args = append(args, "-i", inputPath)

	crf := strconv.Itoa(p.CRF)
	switch enc {
	case ffmpeg.EncoderVideoToolbox:
		args = append(args, "-c:v", "av1_videotoolbox", "-q:v", crf, "-pix_fmt", "yuv420p")
	case ffmpeg.EncoderNVENC:
		cq := p.CRF
		if cq > maxNVENCCQ {
			cq = maxNVENCCQ
		}
		args = append(args, "-c:v", "av1_nvenc", "-preset", "p5", "-cq", strconv.Itoa(cq), "-pix_fmt", "yuv420p")
	case ffmpeg.EncoderQSV:
		args = append(args, "-c:v", "av1_qsv", "-global_quality", crf, "-pix_fmt", "yuv420p")
	case ffmpeg.EncoderVAAPI:
		args = append(args, "-vf", "format=nv12,hwupload", "-c:v", "av1_vaapi", "-qp", crf)
	default:
		args = append(args,
			"-c:v", "libaom-av1",
			"-crf", crf,
			"-b:v", "0",
			"-g", "120",
			"-cpu-used", strconv.Itoa(p.CPUUsed),
			"-pix_fmt", "yuv420p",
		)
	}

	if hasAudio {
		args = append(args, "-c:a", "libopus", "-b:a", opusBitrate)
	} else {
		args = append(args, "-an")
	}

	args = append(args, "-f", "webm", outputPath)
	return Plan{Encoder: enc, Args: args}
}

// describeParams renders the effective settings for log lines.
func describeParams(p Params) string {
	enc := "auto"
	if p.Encoder != nil {
		enc = string(*p.Encoder)
	}
	return fmt.Sprintf("encoder=%s crf=%d cpu_used=%d", enc, p.CRF, p.CPUUsed)
}
