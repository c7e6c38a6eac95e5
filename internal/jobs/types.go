// Package jobs provides the in-memory job registry for ingest pipelines.
// Every ingest is tracked by a UUID job that moves through a fixed stage
// plan (fetching, transcoding, finalizing) and exposes progress snapshots
// to the HTTP API.
package jobs

import (
	"fmt"

	"github.com/google/uuid"
)

// Stage represents a job's position in the pipeline state machine.
type Stage string

const (
	// StageQueued indicates the job exists but no driver has started.
	StageQueued Stage = "queued"
	// StageFetching indicates an ingest driver is staging bytes.
	StageFetching Stage = "fetching"
	// StageTranscoding indicates the encoder is producing the mezzanine.
	StageTranscoding Stage = "transcoding"
	// StageFinalizing indicates the mezzanine is being published.
	StageFinalizing Stage = "finalizing"
	// StageComplete indicates the published mezzanine is available.
	StageComplete Stage = "complete"
	// StageFailed indicates the job stopped with an error.
	StageFailed Stage = "failed"
)

// IsTerminal returns true once a job can no longer change stage.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageFailed
}

// TotalStages is the uniform stage plan length. Upload jobs treat the
// request-body copy as their fetching stage so the plan is the same for
// every driver.
const TotalStages = 3

// stageIndex maps a non-terminal stage to its 0-based plan position.
func stageIndex(s Stage) int {
	switch s {
	case StageFetching:
		return 0
	case StageTranscoding:
		return 1
	case StageFinalizing:
		return 2
	case StageComplete:
		return TotalStages
	default:
		return 0
	}
}

// ErrorKind classifies job failures for the API surface.
type ErrorKind string

const (
	KindBadRequest         ErrorKind = "BadRequest"
	KindFetchFailed        ErrorKind = "FetchFailed"
	KindEncoderUnavailable ErrorKind = "EncoderUnavailable"
	KindTranscodeFailed    ErrorKind = "TranscodeFailed"
	KindIO                 ErrorKind = "IOError"
	KindNotReady           ErrorKind = "NotReady"
	KindNotFound           ErrorKind = "NotFound"
	KindCancelled          ErrorKind = "Cancelled"
)

// Error is a classified job failure. Its string form ("Kind: message")
// is what ends up in the job snapshot's error field.
type Error struct {
	Kind    ErrorKind
	Message string
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// AsError coerces an arbitrary error into a classified job error,
// defaulting to the given kind when the error carries no classification.
func AsError(err error, fallback ErrorKind) *Error {
	if err == nil {
		return nil
	}
	if je, ok := err.(*Error); ok {
		return je
	}
	return &Error{Kind: fallback, Message: err.Error()}
}

// Snapshot is an immutable copy of a job record with derived fields,
// serialized directly on the HTTP API.
type Snapshot struct {
	ID                        uuid.UUID `json:"id"`
	Stage                     Stage     `json:"stage"`
	Progress                  float64   `json:"progress"`
	StageProgress             float64   `json:"stage_progress"`
	CurrentStageIndex         int       `json:"current_stage_index"`
	TotalStages               int       `json:"total_stages"`
	ElapsedSeconds            float64   `json:"elapsed_seconds"`
	EstimatedRemainingSeconds *float64  `json:"estimated_remaining_seconds"`
	Error                     *string   `json:"error"`
	StartedAtUnixMS           int64     `json:"started_at_unix_ms"`
	LastUpdateUnixMS          int64     `json:"last_update_unix_ms"`
}
