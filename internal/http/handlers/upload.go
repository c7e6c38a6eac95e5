package handlers

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jmylchreest/vidarr/internal/jobs"
)

// maxFieldBytes bounds non-file multipart fields; transcode overrides
// are tiny.
const maxFieldBytes = 1024

// UploadMultipart streams the first file part of a multipart body into
// staging and starts the encode. Transcode overrides travel as form
// fields (encoder, crf, cpu_used) ahead of the file part, or as query
// parameters.
func (h *Handlers) UploadMultipart(w http.ResponseWriter, r *http.Request) {
	overrides, err := overridesFromQuery(r)
	if err != nil {
		writeJobError(w, err)
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected a multipart/form-data body")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}

		if part.FileName() == "" {
			// Form field: transcode override.
			value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			_ = part.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, "malformed multipart body")
				return
			}
			if err := applyField(overrides, part.FormName(), strings.TrimSpace(string(value))); err != nil {
				writeJobError(w, err)
				return
			}
			continue
		}

		params, err := overrides.apply(h.defaults)
		if err != nil {
			_ = part.Close()
			writeJobError(w, err)
			return
		}

		filename := filepath.Base(part.FileName())
		id, err := h.ingestor.IngestUpload(r.Context(), part, r.ContentLength, filename, params)
		_ = part.Close()
		if err != nil {
			writeJobError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, uploadResponse(id))
		return
	}

	writeError(w, http.StatusBadRequest, "missing file part")
}

// overridesFromQuery reads transcode overrides from the query string.
func overridesFromQuery(r *http.Request) (*TranscodeOverrides, error) {
	o := &TranscodeOverrides{}
	q := r.URL.Query()
	for _, key := range []string{"encoder", "crf", "cpu_used"} {
		if v := q.Get(key); v != "" {
			if err := applyField(o, key, v); err != nil {
				return nil, err
			}
		}
	}
	return o, nil
}

// applyField sets one override from its string form. Unknown fields are
// ignored so clients can send unrelated form data.
func applyField(o *TranscodeOverrides, name, value string) error {
	switch name {
	case "encoder":
		o.Encoder = value
	case "crf":
		n, err := strconv.Atoi(value)
		if err != nil {
			return badField("crf")
		}
		o.CRF = &n
	case "cpu_used":
		n, err := strconv.Atoi(value)
		if err != nil {
			return badField("cpu_used")
		}
		o.CPUUsed = &n
	}
	return nil
}

func badField(name string) error {
	return jobs.Errorf(jobs.KindBadRequest, "invalid %s value", name)
}
