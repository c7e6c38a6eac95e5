// Package handlers implements the vidarr API: ingest submission, job
// status, mezzanine download, and HLS/DASH rendition serving.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jmylchreest/vidarr/internal/jobs"
	"github.com/jmylchreest/vidarr/internal/rendition"
	"github.com/jmylchreest/vidarr/internal/storage"
	"github.com/jmylchreest/vidarr/internal/transcode"
)

// Ingestor starts ingest jobs. *transcode.Pipeline is the production
// implementation.
type Ingestor interface {
	IngestUpload(ctx context.Context, body io.Reader, size int64, filename string, p transcode.Params) (uuid.UUID, error)
	StartRemote(src string, p transcode.Params) (uuid.UUID, error)
	StartExtract(src string, p transcode.Params) (uuid.UUID, error)
}

// Handlers carries the API's collaborators.
type Handlers struct {
	registry   *jobs.Registry
	ingestor   Ingestor
	layout     *storage.Layout
	renditions *rendition.Generator
	defaults   transcode.Params
	logger     *slog.Logger
}

// Options wires a Handlers instance.
type Options struct {
	Registry   *jobs.Registry
	Ingestor   Ingestor
	Layout     *storage.Layout
	Renditions *rendition.Generator
	Defaults   transcode.Params
	Logger     *slog.Logger
}

// New creates the API handlers.
func New(opts Options) *Handlers {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		registry:   opts.Registry,
		ingestor:   opts.Ingestor,
		layout:     opts.Layout,
		renditions: opts.Renditions,
		defaults:   opts.Defaults,
		logger:     logger,
	}
}

// Register mounts every route. JSON operations go through huma; binary
// and streaming routes are raw chi handlers.
func (h *Handlers) Register(api huma.API, router chi.Router) {
	huma.Register(api, huma.Operation{
		OperationID: "listJobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
		Description: "Returns every job known to this process",
		Tags:        []string{"Jobs"},
	}, h.ListJobs)

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}",
		Summary:     "Get job",
		Description: "Returns the progress snapshot for one job",
		Tags:        []string{"Jobs"},
	}, h.GetJob)

	huma.Register(api, huma.Operation{
		OperationID: "deleteJob",
		Method:      http.MethodDelete,
		Path:        "/jobs/{id}",
		Summary:     "Delete job",
		Description: "Removes a completed or failed job record",
		Tags:        []string{"Jobs"},
	}, h.DeleteJob)

	huma.Register(api, huma.Operation{
		OperationID: "uploadRemote",
		Method:      http.MethodPost,
		Path:        "/upload/remote",
		Summary:     "Ingest a remote source",
		Description: "Fetches an HTTP(S)/FTP(S) URL, magnet URI, or torrent and transcodes it",
		Tags:        []string{"Ingest"},
	}, h.UploadRemote)

	huma.Register(api, huma.Operation{
		OperationID: "downloadExtract",
		Method:      http.MethodPost,
		Path:        "/download/yt-dlp",
		Summary:     "Ingest via extractor",
		Description: "Resolves a page URL with yt-dlp and transcodes the extracted media",
		Tags:        []string{"Ingest"},
	}, h.DownloadExtract)

	router.Get("/healthz", h.Health)
	router.Post("/upload/multipart", h.UploadMultipart)
	router.Get("/videos/{id}", h.ServeMezzanine)
	router.Get("/videos/{id}/download", h.ServeMezzanine)
	router.Get("/videos/{id}/hls/*", h.serveRendition(rendition.FormatHLS))
	router.Get("/videos/{id}/dash/*", h.serveRendition(rendition.FormatDASH))
}

// statusForKind maps a job error kind to an HTTP status for synchronous
// responses.
func statusForKind(kind jobs.ErrorKind) int {
	switch kind {
	case jobs.KindBadRequest:
		return http.StatusBadRequest
	case jobs.KindNotFound, jobs.KindNotReady:
		return http.StatusNotFound
	case jobs.KindFetchFailed, jobs.KindEncoderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage picks the wire message for a classified error. Client
// errors surface the bare message; everything else keeps the kind
// prefix for context.
func errorMessage(jerr *jobs.Error) string {
	if jerr.Kind == jobs.KindBadRequest || jerr.Kind == jobs.KindNotFound || jerr.Kind == jobs.KindNotReady {
		return jerr.Message
	}
	return jerr.Error()
}

// humaError converts an ingest error to the huma error model.
func humaError(err error) error {
	jerr := jobs.AsError(err, jobs.KindIO)
	return huma.NewError(statusForKind(jerr.Kind), errorMessage(jerr))
}

// writeError emits {"error": "..."} on raw routes.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJobError emits a classified error on raw routes.
func writeJobError(w http.ResponseWriter, err error) {
	jerr := jobs.AsError(err, jobs.KindIO)
	writeError(w, statusForKind(jerr.Kind), errorMessage(jerr))
}

// writeJSON emits a JSON body on raw routes.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
