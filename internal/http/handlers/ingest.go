package handlers

import (
	"context"
)

// IngestInput is the shared body for remote and extractor submissions.
type IngestInput struct {
	Body struct {
		URL       string              `json:"url" doc:"Source URL, magnet URI, or torrent"`
		Transcode *TranscodeOverrides `json:"transcode,omitempty" doc:"Optional encode settings"`
	}
}

// IngestOutput is the response for every ingest submission.
type IngestOutput struct {
	Status int
	Body   UploadResponse
}

// UploadRemote starts a remote fetch job via the downloader.
func (h *Handlers) UploadRemote(_ context.Context, input *IngestInput) (*IngestOutput, error) {
	params, err := input.Body.Transcode.apply(h.defaults)
	if err != nil {
		return nil, humaError(err)
	}

	id, err := h.ingestor.StartRemote(input.Body.URL, params)
	if err != nil {
		return nil, humaError(err)
	}
	return &IngestOutput{Status: 202, Body: uploadResponse(id)}, nil
}

// DownloadExtract starts an extractor job via yt-dlp.
func (h *Handlers) DownloadExtract(_ context.Context, input *IngestInput) (*IngestOutput, error) {
	params, err := input.Body.Transcode.apply(h.defaults)
	if err != nil {
		return nil, humaError(err)
	}

	id, err := h.ingestor.StartExtract(input.Body.URL, params)
	if err != nil {
		return nil, humaError(err)
	}
	return &IngestOutput{Status: 202, Body: uploadResponse(id)}, nil
}
