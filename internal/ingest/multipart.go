package ingest

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/jmylchreest/vidarr/internal/jobs"
)

// uploadCopyChunk balances progress granularity against syscall count.
const uploadCopyChunk = 1 << 20

// SaveUpload streams a multipart file part into the staging directory.
// totalSize drives progress; pass 0 when the client sent no size, in
// which case progress stays at zero until the copy finishes.
func SaveUpload(ctx context.Context, src io.Reader, totalSize int64, destDir, filename string, obs Observer) (string, error) {
	obs = orNop(obs)
	if err := ensureDir(destDir); err != nil {
		return "", err
	}

	dest := filepath.Join(destDir, filename)
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", jobs.Errorf(jobs.KindIO, "creating upload file: %v", err)
	}

	var copied int64
	buf := make([]byte, uploadCopyChunk)
	for {
		if ctx.Err() != nil {
			out.Close()
			os.Remove(dest)
			return "", jobs.Errorf(jobs.KindCancelled, "upload cancelled")
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				out.Close()
				os.Remove(dest)
				return "", jobs.Errorf(jobs.KindIO, "writing upload: %v", writeErr)
			}
			copied += int64(n)
			if totalSize > 0 {
				obs.Report(float64(copied) / float64(totalSize))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			os.Remove(dest)
			return "", jobs.Errorf(jobs.KindFetchFailed, "reading upload body: %v", readErr)
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(dest)
		return "", jobs.Errorf(jobs.KindIO, "closing upload file: %v", err)
	}
	if copied == 0 {
		os.Remove(dest)
		return "", jobs.Errorf(jobs.KindBadRequest, "uploaded file is empty")
	}

	obs.Report(1)
	return dest, nil
}
