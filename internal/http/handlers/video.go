package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jmylchreest/vidarr/internal/rendition"
	"github.com/jmylchreest/vidarr/internal/storage"
)

// ServeMezzanine streams a published mezzanine with range support.
// Until the job reaches complete the mezzanine does not exist and the
// route answers 404.
func (h *Handlers) ServeMezzanine(w http.ResponseWriter, r *http.Request) {
	id, ok := videoID(w, r)
	if !ok {
		return
	}
	if !h.layout.IsPublished(id) {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}

	f, err := os.Open(h.layout.MezzaninePath(id))
	if err != nil {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reading video")
		return
	}

	w.Header().Set("Content-Type", "video/webm")
	w.Header().Set("Content-Disposition", `inline; filename="`+id.String()+`.webm"`)
	http.ServeContent(w, r, "", info.ModTime(), f)
}

// serveRendition answers HLS and DASH asset requests, generating the
// rendition on first access.
func (h *Handlers) serveRendition(format rendition.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := videoID(w, r)
		if !ok {
			return
		}

		asset := chi.URLParam(r, "*")
		if asset == "" {
			asset = rendition.Manifest(format)
		}

		dir, err := h.renditions.Ensure(r.Context(), id, format)
		if err != nil {
			writeJobError(w, err)
			return
		}

		path, err := storage.ResolveAsset(dir, asset)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid asset path")
			return
		}

		f, err := os.Open(path)
		if err != nil {
			writeError(w, http.StatusNotFound, "asset not found")
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			writeError(w, http.StatusNotFound, "asset not found")
			return
		}

		w.Header().Set("Content-Type", assetContentType(asset))
		http.ServeContent(w, r, "", info.ModTime(), f)
	}
}

// videoID parses the id path parameter; unknown shapes answer 404 so
// probing /videos/anything never distinguishes bad ids from absent ones.
func videoID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "video not found")
		return uuid.Nil, false
	}
	return id, true
}

// assetContentType maps rendition asset extensions to media types.
func assetContentType(asset string) string {
	switch filepath.Ext(asset) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".mpd":
		return "application/dash+xml"
	case ".m4s":
		return "video/iso.segment"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
