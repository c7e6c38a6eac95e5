package jobs

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Progress estimation constants. Before a stage has made measurable
// progress the ETA is a coarse upper bound rather than an extrapolation.
const (
	initialEstimateSeconds      = 45.0 * 60.0
	minStageProgressForEstimate = 0.02
)

// Registry is the process-wide mapping from job id to record. It is the
// single shared mutable surface between drivers, the transcode pipeline,
// and HTTP readers. The map is guarded by an RWMutex; each record carries
// its own mutex so progress updates for different jobs never contend.
type Registry struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*record

	// now is overridable for tests.
	now func() time.Time
}

type record struct {
	mu sync.Mutex

	stage         Stage
	stageProgress float64
	// overall is a monotonic floor: it only ever ratchets upward even
	// when an encoder fallback resets stage progress.
	overall float64

	startedAt      time.Time
	lastUpdate     time.Time
	stageStartedAt time.Time

	// stageETA is the parser-reported remaining time for the current
	// stage, when the external tool publishes a rate.
	stageETA *float64

	// failedFrom remembers which stage a failed job was in, so the
	// snapshot's stage index stays where the failure happened.
	failedFrom Stage

	err *Error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[uuid.UUID]*record),
		now:     time.Now,
	}
}

// Create inserts a fresh job in the queued stage and returns its id.
func (r *Registry) Create() uuid.UUID {
	id := uuid.New()
	now := r.now()
	rec := &record{
		stage:          StageQueued,
		startedAt:      now,
		lastUpdate:     now,
		stageStartedAt: now,
	}
	r.mu.Lock()
	r.records[id] = rec
	r.mu.Unlock()
	return id
}

// legalTransitions is the forward-only state machine. Transitions to
// failed go through Fail, never Transition.
var legalTransitions = map[Stage]Stage{
	StageQueued:      StageFetching,
	StageFetching:    StageTranscoding,
	StageTranscoding: StageFinalizing,
	StageFinalizing:  StageComplete,
}

// Transition advances a job to the next stage. Illegal transitions are
// rejected; entering a stage resets stage progress and the stage clock.
func (r *Registry) Transition(id uuid.UUID, next Stage) error {
	rec, ok := r.lookup(id)
	if !ok {
		return Errorf(KindNotFound, "job %s not found", id)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if legalTransitions[rec.stage] != next {
		return fmt.Errorf("illegal job transition %s -> %s", rec.stage, next)
	}

	now := r.now()
	rec.stage = next
	rec.stageProgress = 0
	rec.stageStartedAt = now
	rec.stageETA = nil
	rec.lastUpdate = now

	if next == StageComplete {
		rec.stageProgress = 1
		rec.overall = 1
		zero := 0.0
		rec.stageETA = &zero
	} else {
		rec.raiseOverallLocked()
	}
	return nil
}

// UpdateStageProgress applies a monotonic progress update for the current
// stage. Values below the last reported fraction are ignored; everything
// is clamped to [0, 1]. Terminal jobs are left untouched.
func (r *Registry) UpdateStageProgress(id uuid.UUID, fraction float64) {
	rec, ok := r.lookup(id)
	if !ok {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.stage.IsTerminal() {
		return
	}
	fraction = clamp01(fraction)
	if fraction < rec.stageProgress {
		return
	}
	rec.stageProgress = fraction
	rec.raiseOverallLocked()
	rec.lastUpdate = r.now()
}

// ResetStageProgress zeroes stage progress for an encoder fallback
// attempt. The overall floor is untouched, so the job-level progress
// invariant survives the reset.
func (r *Registry) ResetStageProgress(id uuid.UUID) {
	rec, ok := r.lookup(id)
	if !ok {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.stage.IsTerminal() {
		return
	}
	rec.stageProgress = 0
	rec.stageETA = nil
	rec.stageStartedAt = r.now()
	rec.lastUpdate = rec.stageStartedAt
}

// Touch advances a job's last-update time without changing progress, so
// readers can tell an indeterminate stage apart from a stalled one.
func (r *Registry) Touch(id uuid.UUID) {
	rec, ok := r.lookup(id)
	if !ok {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.stage.IsTerminal() {
		return
	}
	rec.lastUpdate = r.now()
}

// SetStageETA records the tool-reported remaining seconds for the current
// stage; nil clears it back to the heuristic estimate.
func (r *Registry) SetStageETA(id uuid.UUID, etaSeconds *float64) {
	rec, ok := r.lookup(id)
	if !ok {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.stage.IsTerminal() {
		return
	}
	rec.stageETA = etaSeconds
	rec.lastUpdate = r.now()
}

// Fail moves a job to the failed terminal stage, recording the error.
// Failing an already terminal job is a no-op so late pipeline errors
// cannot clobber a completed record.
func (r *Registry) Fail(id uuid.UUID, jerr *Error) {
	rec, ok := r.lookup(id)
	if !ok {
		return
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.stage.IsTerminal() {
		return
	}
	rec.failedFrom = rec.stage
	rec.stage = StageFailed
	rec.err = jerr
	rec.stageETA = nil
	rec.lastUpdate = r.now()
}

// Get returns a consistent snapshot of one job.
func (r *Registry) Get(id uuid.UUID) (Snapshot, bool) {
	rec, ok := r.lookup(id)
	if !ok {
		return Snapshot{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.snapshotLocked(id, r.now()), true
}

// List returns snapshots for every known job in unspecified order.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	ids := make([]uuid.UUID, 0, len(r.records))
	recs := make([]*record, 0, len(r.records))
	for id, rec := range r.records {
		ids = append(ids, id)
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	now := r.now()
	out := make([]Snapshot, 0, len(recs))
	for i, rec := range recs {
		rec.mu.Lock()
		out = append(out, rec.snapshotLocked(ids[i], now))
		rec.mu.Unlock()
	}
	return out
}

// Remove deletes a terminal job record. Non-terminal jobs are refused.
func (r *Registry) Remove(id uuid.UUID) error {
	rec, ok := r.lookup(id)
	if !ok {
		return Errorf(KindNotFound, "job %s not found", id)
	}
	rec.mu.Lock()
	stage := rec.stage
	rec.mu.Unlock()
	if !stage.IsTerminal() {
		return Errorf(KindBadRequest, "job %s is still %s", id, stage)
	}
	r.mu.Lock()
	delete(r.records, id)
	r.mu.Unlock()
	return nil
}

func (r *Registry) lookup(id uuid.UUID) (*record, bool) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	return rec, ok
}

func (rec *record) raiseOverallLocked() {
	idx := stageIndex(rec.stage)
	computed := (float64(idx) + clamp01(rec.stageProgress)) / TotalStages
	if rec.stage == StageQueued {
		computed = 0
	}
	if computed > rec.overall {
		rec.overall = computed
	}
}

func (rec *record) snapshotLocked(id uuid.UUID, now time.Time) Snapshot {
	var errStr *string
	if rec.err != nil {
		s := rec.err.Error()
		errStr = &s
	}

	idx := stageIndex(rec.stage)
	if rec.stage == StageFailed {
		idx = stageIndex(rec.failedFrom)
	}

	snap := Snapshot{
		ID:                id,
		Stage:             rec.stage,
		Progress:          rec.overall,
		StageProgress:     clamp01(rec.stageProgress),
		CurrentStageIndex: idx,
		TotalStages:       TotalStages,
		ElapsedSeconds:    rec.lastUpdate.Sub(rec.startedAt).Seconds(),
		Error:             errStr,
		StartedAtUnixMS:   rec.startedAt.UnixMilli(),
		LastUpdateUnixMS:  rec.lastUpdate.UnixMilli(),
	}
	if rec.stage == StageComplete {
		snap.Progress = 1
		snap.StageProgress = 1
	}
	snap.EstimatedRemainingSeconds = rec.estimateRemainingLocked(now)
	return snap
}

// estimateRemainingLocked derives the ETA for the current stage: the
// tool-reported value when available, otherwise a linear extrapolation
// from stage progress, otherwise a coarse upper-bound baseline.
func (rec *record) estimateRemainingLocked(now time.Time) *float64 {
	if rec.stage == StageComplete {
		zero := 0.0
		return &zero
	}
	if rec.stage == StageFailed {
		return nil
	}
	if rec.stageETA != nil {
		eta := *rec.stageETA
		if eta < 0 {
			eta = 0
		}
		return &eta
	}

	stageElapsed := now.Sub(rec.stageStartedAt).Seconds()
	progress := clamp01(rec.stageProgress)

	if progress < minStageProgressForEstimate {
		baseline := initialEstimateSeconds
		if floor := maxf(stageElapsed, 1.0) * 6.0; floor > baseline {
			baseline = floor
		}
		return &baseline
	}

	total := stageElapsed / maxf(progress, minStageProgressForEstimate)
	remaining := maxf(total-stageElapsed, 0)
	return &remaining
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
