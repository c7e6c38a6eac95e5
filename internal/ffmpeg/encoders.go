package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// Encoder identifies one AV1 encoder backend.
type Encoder string

const (
	EncoderVideoToolbox Encoder = "videotoolbox"
	EncoderNVENC        Encoder = "nvenc"
	EncoderQSV          Encoder = "qsv"
	EncoderVAAPI        Encoder = "vaapi"
	EncoderSoftware     Encoder = "software"
)

// CodecName returns the ffmpeg encoder name for this backend.
func (e Encoder) CodecName() string {
	switch e {
	case EncoderVideoToolbox:
		return "av1_videotoolbox"
	case EncoderNVENC:
		return "av1_nvenc"
	case EncoderQSV:
		return "av1_qsv"
	case EncoderVAAPI:
		return "av1_vaapi"
	default:
		return "libaom-av1"
	}
}

// ParseEncoder maps a user-supplied encoder name to a backend.
func ParseEncoder(s string) (Encoder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "videotoolbox":
		return EncoderVideoToolbox, nil
	case "nvenc":
		return EncoderNVENC, nil
	case "qsv":
		return EncoderQSV, nil
	case "vaapi":
		return EncoderVAAPI, nil
	case "software", "libaom", "libaom-av1":
		return EncoderSoftware, nil
	default:
		return "", fmt.Errorf("unknown encoder %q", s)
	}
}

// Detector probes which AV1 encoders this host's ffmpeg build supports.
// Probing shells out once per candidate and the verdict is cached for
// the process lifetime; hardware does not come and go under us.
type Detector struct {
	ffmpegPath  string
	vaapiDevice string

	// probe is overridable for tests.
	probe func(ctx context.Context, codec string) bool

	once       sync.Once
	candidates []Encoder
}

// NewDetector creates a detector for the given ffmpeg binary. vaapiDevice
// is the DRM render node checked before offering VAAPI.
func NewDetector(ffmpegPath, vaapiDevice string) *Detector {
	d := &Detector{
		ffmpegPath:  ffmpegPath,
		vaapiDevice: vaapiDevice,
	}
	d.probe = d.probeEncoder
	return d
}

// Candidates returns the usable encoders in fallback order: platform
// hardware first, libaom-av1 always last. The software encoder is always
// offered; an ffmpeg without libaom would fail the probe and the list
// may legitimately come back hardware-only or empty.
func (d *Detector) Candidates(ctx context.Context) []Encoder {
	d.once.Do(func() {
		for _, enc := range platformOrder() {
			if enc == EncoderVAAPI && !d.vaapiDeviceExists() {
				continue
			}
			if d.probe(ctx, enc.CodecName()) {
				d.candidates = append(d.candidates, enc)
			}
		}
	})
	return d.candidates
}

// platformOrder lists encoder preference for the current OS.
func platformOrder() []Encoder {
	switch runtime.GOOS {
	case "darwin":
		return []Encoder{EncoderVideoToolbox, EncoderSoftware}
	case "linux":
		return []Encoder{EncoderNVENC, EncoderQSV, EncoderVAAPI, EncoderSoftware}
	default:
		return []Encoder{EncoderSoftware}
	}
}

func (d *Detector) vaapiDeviceExists() bool {
	if d.vaapiDevice == "" {
		return false
	}
	_, err := os.Stat(d.vaapiDevice)
	return err == nil
}

// probeEncoder asks ffmpeg whether it knows the encoder at all. The help
// text for an unknown encoder still exits 0, so the output is inspected.
func (d *Detector) probeEncoder(ctx context.Context, codec string) bool {
	cmd := exec.CommandContext(ctx, d.ffmpegPath, "-hide_banner", "-h", "encoder="+codec)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false
	}
	text := string(output)
	if strings.Contains(text, "Unknown encoder") {
		return false
	}
	return strings.Contains(text, "Encoder "+codec)
}
