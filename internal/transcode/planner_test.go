package transcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/vidarr/internal/ffmpeg"
	"github.com/jmylchreest/vidarr/internal/jobs"
)

func TestParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		params  Params
		wantErr string
	}{
		{"defaults pass", DefaultParams(), ""},
		{"crf lower bound", Params{CRF: 0, CPUUsed: 6}, ""},
		{"crf upper bound", Params{CRF: 63, CPUUsed: 6}, ""},
		{"crf too high", Params{CRF: 64, CPUUsed: 6}, "crf out of range"},
		{"crf negative", Params{CRF: -1, CPUUsed: 6}, "crf out of range"},
		{"cpu_used upper bound", Params{CRF: 30, CPUUsed: 8}, ""},
		{"cpu_used too high", Params{CRF: 30, CPUUsed: 9}, "cpu_used out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			je := jobs.AsError(err, jobs.KindIO)
			assert.Equal(t, jobs.KindBadRequest, je.Kind)
			assert.Equal(t, tt.wantErr, je.Message)
		})
	}
}

func argString(p Plan) string {
	return strings.Join(p.Args, " ")
}

func TestBuildPlan_Software(t *testing.T) {
	plan := BuildPlan(ffmpeg.EncoderSoftware, Params{CRF: 28, CPUUsed: 4}, "", "in.mkv", "out.webm", true)

	s := argString(plan)
	assert.Contains(t, s, "-c:v libaom-av1 -crf 28 -b:v 0 -g 120 -cpu-used 4 -pix_fmt yuv420p")
	assert.Contains(t, s, "-c:a libopus -b:a 192k")
	assert.Contains(t, s, "-f webm out.webm")
	assert.True(t, strings.HasPrefix(s, "-hide_banner -y -i in.mkv"))
}

func TestBuildPlan_NVENCClampsCQ(t *testing.T) {
	plan := BuildPlan(ffmpeg.EncoderNVENC, Params{CRF: 60, CPUUsed: 6}, "", "in.mkv", "out.webm", true)

	s := argString(plan)
	assert.Contains(t, s, "-hwaccel cuda -hwaccel_output_format cuda -i in.mkv")
	assert.Contains(t, s, "-c:v av1_nvenc -preset p5 -cq 51")
}

func TestBuildPlan_QSV(t *testing.T) {
	plan := BuildPlan(ffmpeg.EncoderQSV, DefaultParams(), "", "in.mkv", "out.webm", true)

	s := argString(plan)
	assert.Contains(t, s, "-hwaccel qsv -i in.mkv")
	assert.Contains(t, s, "-c:v av1_qsv -global_quality 30")
}

func TestBuildPlan_VAAPIUsesDevice(t *testing.T) {
	plan := BuildPlan(ffmpeg.EncoderVAAPI, DefaultParams(), "/dev/dri/renderD128", "in.mkv", "out.webm", true)

	s := argString(plan)
	assert.Contains(t, s, "-hwaccel vaapi -hwaccel_device /dev/dri/renderD128 -hwaccel_output_format vaapi")
	assert.Contains(t, s, "-vf format=nv12,hwupload -c:v av1_vaapi -qp 30")
}

func TestBuildPlan_VideoToolbox(t *testing.T) {
	plan := BuildPlan(ffmpeg.EncoderVideoToolbox, Params{CRF: 35, CPUUsed: 6}, "", "in.mov", "out.webm", true)

	s := argString(plan)
	assert.Contains(t, s, "-c:v av1_videotoolbox -q:v 35 -pix_fmt yuv420p")
	assert.NotContains(t, s, "-hwaccel")
}

func TestBuildPlan_NoAudioDropsStream(t *testing.T) {
	plan := BuildPlan(ffmpeg.EncoderSoftware, DefaultParams(), "", "in.mkv", "out.webm", false)

	s := argString(plan)
	assert.Contains(t, s, " -an ")
	assert.NotContains(t, s, "libopus")
}
