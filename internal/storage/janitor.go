package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/disk"
)

// DiskUsage is the subset of filesystem statistics the janitor needs.
type DiskUsage struct {
	Total uint64
	Free  uint64
}

// JanitorConfig controls when and how aggressively the janitor reclaims
// space from the rendition caches.
type JanitorConfig struct {
	Interval time.Duration
	// MinFreeBytes and MinFreeRatio are independent floors; dropping
	// below either one triggers a cleanup pass.
	MinFreeBytes uint64
	MinFreeRatio float64
	// CleanupBatch bounds removals per pass so one pass never flushes
	// every cache on a badly sized volume.
	CleanupBatch int
}

// Janitor evicts cold rendition caches when the storage volume runs low
// on space. Published mezzanines are never touched; evicted renditions
// regenerate on the next playback request. Caches whose job is still
// live are never touched either.
type Janitor struct {
	layout *Layout
	cfg    JanitorConfig
	logger *slog.Logger

	// inUse reports whether a video id has a live pipeline attached.
	inUse func(uuid.UUID) bool
	// usage is overridable for tests.
	usage func(path string) (DiskUsage, error)

	cron *cron.Cron
}

// NewJanitor wires a janitor over the layout. inUse may be nil when no
// job tracking is available, in which case every rendition cache is
// eligible.
func NewJanitor(layout *Layout, cfg JanitorConfig, logger *slog.Logger, inUse func(uuid.UUID) bool) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		layout: layout,
		cfg:    cfg,
		logger: logger,
		inUse:  inUse,
		usage:  gopsutilUsage,
	}
}

func gopsutilUsage(path string) (DiskUsage, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return DiskUsage{}, err
	}
	return DiskUsage{Total: u.Total, Free: u.Free}, nil
}

// Start schedules periodic sweeps. Stop with Stop.
func (j *Janitor) Start() {
	j.cron = cron.New()
	spec := "@every " + j.cfg.Interval.String()
	_, err := j.cron.AddFunc(spec, func() {
		j.Sweep(context.Background())
	})
	if err != nil {
		j.logger.Error("scheduling janitor failed", slog.String("spec", spec), slog.Any("error", err))
		return
	}
	j.cron.Start()
	j.logger.Info("storage janitor started",
		slog.Duration("interval", j.cfg.Interval),
		slog.Uint64("min_free_bytes", j.cfg.MinFreeBytes),
		slog.Float64("min_free_ratio", j.cfg.MinFreeRatio),
	)
}

// Stop halts the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	if j.cron != nil {
		<-j.cron.Stop().Done()
	}
}

// Sweep performs one pressure check and, when under pressure, evicts
// up to CleanupBatch of the coldest rendition caches. Nothing under the
// library root is ever deleted. Returns the number of caches removed.
func (j *Janitor) Sweep(ctx context.Context) int {
	usage, err := j.usage(j.layout.Root)
	if err != nil {
		j.logger.Warn("janitor disk usage check failed", slog.Any("error", err))
		return 0
	}
	if !j.underPressure(usage) {
		return 0
	}

	caches, err := j.layout.ListRenditionCaches()
	if err != nil {
		j.logger.Warn("janitor rendition scan failed", slog.Any("error", err))
		return 0
	}

	// Coldest first. Generation sets the directory mtime, so this
	// approximates least-recently-requested.
	sort.Slice(caches, func(a, b int) bool {
		return caches[a].ModTime.Before(caches[b].ModTime)
	})

	removed := 0
	for _, c := range caches {
		if removed >= j.cfg.CleanupBatch {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if j.inUse != nil && j.inUse(c.ID) {
			continue
		}
		if err := os.RemoveAll(c.Dir); err != nil {
			j.logger.Warn("janitor eviction failed",
				slog.String("video_id", c.ID.String()),
				slog.String("format", c.Format),
				slog.Any("error", err),
			)
			continue
		}
		removed++
		j.logger.Info("janitor evicted rendition cache under disk pressure",
			slog.String("video_id", c.ID.String()),
			slog.String("format", c.Format),
			slog.Time("generated_at", c.ModTime),
		)
	}
	return removed
}

// EnsureCapacity is the pre-flight check before a transcode claims disk
// space. When the projected free space would dip under the configured
// floor it runs an immediate sweep, then re-checks.
func (j *Janitor) EnsureCapacity(ctx context.Context, needBytes uint64) error {
	usage, err := j.usage(j.layout.Root)
	if err != nil {
		// An unreadable volume should not block ingest; the encode
		// itself will surface real write failures.
		j.logger.Warn("capacity pre-flight check failed", slog.Any("error", err))
		return nil
	}
	if usage.Free >= needBytes+j.cfg.MinFreeBytes {
		return nil
	}

	j.Sweep(ctx)

	usage, err = j.usage(j.layout.Root)
	if err != nil {
		return nil
	}
	if usage.Free >= needBytes+j.cfg.MinFreeBytes {
		return nil
	}
	return fmt.Errorf("insufficient disk space: %d bytes free, need %d", usage.Free, needBytes+j.cfg.MinFreeBytes)
}

func (j *Janitor) underPressure(u DiskUsage) bool {
	if u.Total == 0 {
		return false
	}
	if j.cfg.MinFreeBytes > 0 && u.Free < j.cfg.MinFreeBytes {
		return true
	}
	if j.cfg.MinFreeRatio > 0 {
		ratio := float64(u.Free) / float64(u.Total)
		if ratio < j.cfg.MinFreeRatio {
			return true
		}
	}
	return false
}
