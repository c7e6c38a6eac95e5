package jobs

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Reporter throttling: registry updates land on a meaningful delta or a
// time interval, and an info line goes out much less often than either.
const (
	reportMinDelta    = 0.005
	reportMinInterval = 3 * time.Second
	reportLogInterval = 10 * time.Second
)

// Reporter funnels raw tool progress into the registry. External tools
// emit progress lines many times per second; publishing each one would
// hammer the registry lock and flood the log, so updates are coalesced.
type Reporter struct {
	reg    *Registry
	id     uuid.UUID
	logger *slog.Logger

	mu         sync.Mutex
	lastValue  float64
	lastUpdate time.Time
	lastLog    time.Time

	// now is overridable for tests.
	now func() time.Time
}

// NewReporter creates a reporter for one job.
func NewReporter(reg *Registry, id uuid.UUID, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		reg:    reg,
		id:     id,
		logger: logger,
		now:    time.Now,
	}
}

// Report offers a stage progress fraction. It is published when it moved
// at least half a percent or enough time passed since the last publish.
func (r *Reporter) Report(fraction float64) {
	r.mu.Lock()
	now := r.now()
	delta := fraction - r.lastValue
	due := now.Sub(r.lastUpdate) >= reportMinInterval
	if delta < reportMinDelta && !due {
		r.mu.Unlock()
		return
	}
	r.lastValue = fraction
	r.lastUpdate = now
	logDue := now.Sub(r.lastLog) >= reportLogInterval
	if logDue {
		r.lastLog = now
	}
	r.mu.Unlock()

	r.reg.UpdateStageProgress(r.id, fraction)
	if logDue {
		if snap, ok := r.reg.Get(r.id); ok {
			r.logger.Info("job progress",
				slog.String("job_id", r.id.String()),
				slog.String("stage", string(snap.Stage)),
				slog.Float64("stage_progress", snap.StageProgress),
				slog.Float64("progress", snap.Progress),
			)
		}
	}
}

// Heartbeat marks activity when the tool emits progress lines that carry
// no measurable fraction, as ffmpeg does for sources with an unknown
// duration. Throttled to the publish interval.
func (r *Reporter) Heartbeat() {
	r.mu.Lock()
	now := r.now()
	if now.Sub(r.lastUpdate) < reportMinInterval {
		r.mu.Unlock()
		return
	}
	r.lastUpdate = now
	r.mu.Unlock()

	r.reg.Touch(r.id)
}

// ReportETA passes a tool-reported remaining time straight through; ETA
// values are already coarse and need no throttling.
func (r *Reporter) ReportETA(etaSeconds float64) {
	r.reg.SetStageETA(r.id, &etaSeconds)
}

// Reset clears the throttle state after a stage transition or encoder
// fallback so the first sample of the new attempt publishes immediately.
func (r *Reporter) Reset() {
	r.mu.Lock()
	r.lastValue = 0
	r.lastUpdate = time.Time{}
	r.mu.Unlock()
}
