package handlers

import (
	"github.com/google/uuid"

	"github.com/jmylchreest/vidarr/internal/ffmpeg"
	"github.com/jmylchreest/vidarr/internal/jobs"
	"github.com/jmylchreest/vidarr/internal/transcode"
)

// UploadResponse is returned by every ingest submission.
type UploadResponse struct {
	ID              string `json:"id" doc:"Job and video identifier"`
	StatusURL       string `json:"status_url" doc:"Job progress endpoint"`
	DownloadURL     string `json:"download_url" doc:"Published mezzanine endpoint"`
	HLSMasterURL    string `json:"hls_master_url" doc:"HLS master playlist endpoint"`
	DASHManifestURL string `json:"dash_manifest_url" doc:"DASH manifest endpoint"`
}

func uploadResponse(id uuid.UUID) UploadResponse {
	s := id.String()
	return UploadResponse{
		ID:              s,
		StatusURL:       "/jobs/" + s,
		DownloadURL:     "/videos/" + s + "/download",
		HLSMasterURL:    "/videos/" + s + "/hls/master.m3u8",
		DASHManifestURL: "/videos/" + s + "/dash/manifest.mpd",
	}
}

// TranscodeOverrides are the optional per-request encode settings.
type TranscodeOverrides struct {
	Encoder string `json:"encoder,omitempty" doc:"Pin one encoder backend (videotoolbox, nvenc, qsv, vaapi, software)"`
	CRF     *int   `json:"crf,omitempty" doc:"AV1 quality, 0-63"`
	CPUUsed *int   `json:"cpu_used,omitempty" doc:"libaom speed preset, 0-8"`
}

// apply merges the overrides onto the server defaults. Range checks
// happen later so every submission path rejects identically.
func (o *TranscodeOverrides) apply(defaults transcode.Params) (transcode.Params, error) {
	p := defaults
	if o == nil {
		return p, nil
	}
	if o.Encoder != "" {
		enc, err := ffmpeg.ParseEncoder(o.Encoder)
		if err != nil {
			return p, jobs.Errorf(jobs.KindBadRequest, "%v", err)
		}
		p.Encoder = &enc
	}
	if o.CRF != nil {
		p.CRF = *o.CRF
	}
	if o.CPUUsed != nil {
		p.CPUUsed = *o.CPUUsed
	}
	return p, nil
}

// JobResponse is the wire form of a job snapshot.
type JobResponse struct {
	ID                        string   `json:"id"`
	Stage                     string   `json:"stage"`
	Progress                  float64  `json:"progress"`
	StageProgress             float64  `json:"stage_progress"`
	CurrentStageIndex         int      `json:"current_stage_index"`
	TotalStages               int      `json:"total_stages"`
	ElapsedSeconds            float64  `json:"elapsed_seconds"`
	EstimatedRemainingSeconds *float64 `json:"estimated_remaining_seconds"`
	Error                     *string  `json:"error"`
	StartedAtUnixMS           int64    `json:"started_at_unix_ms"`
	LastUpdateUnixMS          int64    `json:"last_update_unix_ms"`
}

// jobResponse converts a registry snapshot to the wire form.
func jobResponse(s jobs.Snapshot) JobResponse {
	return JobResponse{
		ID:                        s.ID.String(),
		Stage:                     string(s.Stage),
		Progress:                  s.Progress,
		StageProgress:             s.StageProgress,
		CurrentStageIndex:         s.CurrentStageIndex,
		TotalStages:               s.TotalStages,
		ElapsedSeconds:            s.ElapsedSeconds,
		EstimatedRemainingSeconds: s.EstimatedRemainingSeconds,
		Error:                     s.Error,
		StartedAtUnixMS:           s.StartedAtUnixMS,
		LastUpdateUnixMS:          s.LastUpdateUnixMS,
	}
}
