package jobs

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateStartsQueued(t *testing.T) {
	r := NewRegistry()
	id := r.Create()

	snap, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, StageQueued, snap.Stage)
	assert.Equal(t, 0.0, snap.Progress)
	assert.Equal(t, TotalStages, snap.TotalStages)
	assert.Nil(t, snap.Error)
}

func TestRegistry_LegalTransitionChain(t *testing.T) {
	r := NewRegistry()
	id := r.Create()

	for _, next := range []Stage{StageFetching, StageTranscoding, StageFinalizing, StageComplete} {
		require.NoError(t, r.Transition(id, next))
	}

	snap, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, StageComplete, snap.Stage)
	assert.Equal(t, 1.0, snap.Progress)
	require.NotNil(t, snap.EstimatedRemainingSeconds)
	assert.Equal(t, 0.0, *snap.EstimatedRemainingSeconds)
}

func TestRegistry_IllegalTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []Stage
		next Stage
	}{
		{"skip fetching", nil, StageTranscoding},
		{"skip transcoding", []Stage{StageFetching}, StageFinalizing},
		{"backwards", []Stage{StageFetching, StageTranscoding}, StageFetching},
		{"complete from transcoding", []Stage{StageFetching, StageTranscoding}, StageComplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			id := r.Create()
			for _, s := range tt.path {
				require.NoError(t, r.Transition(id, s))
			}
			assert.Error(t, r.Transition(id, tt.next))
		})
	}
}

func TestRegistry_TerminalStagesAreFinal(t *testing.T) {
	r := NewRegistry()
	id := r.Create()
	r.Fail(id, Errorf(KindFetchFailed, "boom"))

	assert.Error(t, r.Transition(id, StageFetching))

	// A second failure must not overwrite the first error.
	r.Fail(id, Errorf(KindIO, "later"))
	snap, _ := r.Get(id)
	require.NotNil(t, snap.Error)
	assert.Equal(t, "FetchFailed: boom", *snap.Error)
}

func TestRegistry_ErrorIffFailed(t *testing.T) {
	r := NewRegistry()
	id := r.Create()

	snap, _ := r.Get(id)
	assert.Nil(t, snap.Error)

	r.Fail(id, Errorf(KindTranscodeFailed, "encoder exited with status 1"))
	snap, _ = r.Get(id)
	assert.Equal(t, StageFailed, snap.Stage)
	require.NotNil(t, snap.Error)
	assert.Contains(t, *snap.Error, "TranscodeFailed")
}

func TestRegistry_StageProgressIsMonotonic(t *testing.T) {
	r := NewRegistry()
	id := r.Create()
	require.NoError(t, r.Transition(id, StageFetching))

	r.UpdateStageProgress(id, 0.6)
	r.UpdateStageProgress(id, 0.4) // ignored
	snap, _ := r.Get(id)
	assert.Equal(t, 0.6, snap.StageProgress)

	r.UpdateStageProgress(id, 1.7) // clamped
	snap, _ = r.Get(id)
	assert.Equal(t, 1.0, snap.StageProgress)
}

func TestRegistry_OverallProgressNeverDecreases(t *testing.T) {
	r := NewRegistry()
	id := r.Create()
	require.NoError(t, r.Transition(id, StageFetching))
	r.UpdateStageProgress(id, 1.0)
	require.NoError(t, r.Transition(id, StageTranscoding))

	var last float64
	observe := func() {
		snap, ok := r.Get(id)
		require.True(t, ok)
		assert.GreaterOrEqual(t, snap.Progress, last)
		last = snap.Progress
	}

	observe()
	r.UpdateStageProgress(id, 0.5)
	observe()

	// Encoder fallback resets stage progress, but the overall floor holds.
	r.ResetStageProgress(id)
	observe()
	snap, _ := r.Get(id)
	assert.Equal(t, 0.0, snap.StageProgress)

	r.UpdateStageProgress(id, 0.9)
	observe()
	require.NoError(t, r.Transition(id, StageFinalizing))
	observe()
	require.NoError(t, r.Transition(id, StageComplete))
	observe()
	assert.Equal(t, 1.0, last)
}

func TestRegistry_ETAUsesLinearExtrapolation(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.now = func() time.Time { return now }

	id := r.Create()
	require.NoError(t, r.Transition(id, StageFetching))

	// 2% floor: below it the estimate is the coarse baseline.
	r.UpdateStageProgress(id, 0.01)
	now = now.Add(10 * time.Second)
	snap, _ := r.Get(id)
	require.NotNil(t, snap.EstimatedRemainingSeconds)
	assert.Equal(t, initialEstimateSeconds, *snap.EstimatedRemainingSeconds)

	// At 25% after 10s the whole stage extrapolates to 40s, 30s remain.
	r.ResetStageProgress(id)
	r.UpdateStageProgress(id, 0.25)
	now = now.Add(10 * time.Second)
	snap, _ = r.Get(id)
	require.NotNil(t, snap.EstimatedRemainingSeconds)
	assert.InDelta(t, 30.0, *snap.EstimatedRemainingSeconds, 0.01)
}

func TestRegistry_ETAPrefersToolReportedValue(t *testing.T) {
	r := NewRegistry()
	id := r.Create()
	require.NoError(t, r.Transition(id, StageFetching))
	require.NoError(t, r.Transition(id, StageTranscoding))

	eta := 42.0
	r.SetStageETA(id, &eta)
	snap, _ := r.Get(id)
	require.NotNil(t, snap.EstimatedRemainingSeconds)
	assert.Equal(t, 42.0, *snap.EstimatedRemainingSeconds)
}

func TestRegistry_TouchAdvancesLastUpdate(t *testing.T) {
	r := NewRegistry()
	now := time.Now()
	r.now = func() time.Time { return now }

	id := r.Create()
	require.NoError(t, r.Transition(id, StageFetching))
	require.NoError(t, r.Transition(id, StageTranscoding))

	before, _ := r.Get(id)
	now = now.Add(5 * time.Second)
	r.Touch(id)

	snap, _ := r.Get(id)
	assert.Greater(t, snap.LastUpdateUnixMS, before.LastUpdateUnixMS)
	assert.Equal(t, before.StageProgress, snap.StageProgress)

	// Terminal records are left alone.
	r.Fail(id, Errorf(KindTranscodeFailed, "boom"))
	failed, _ := r.Get(id)
	now = now.Add(5 * time.Second)
	r.Touch(id)
	after, _ := r.Get(id)
	assert.Equal(t, failed.LastUpdateUnixMS, after.LastUpdateUnixMS)
}

func TestRegistry_FailedJobKeepsStageIndex(t *testing.T) {
	r := NewRegistry()
	id := r.Create()
	require.NoError(t, r.Transition(id, StageFetching))
	require.NoError(t, r.Transition(id, StageTranscoding))
	require.NoError(t, r.Transition(id, StageFinalizing))

	r.Fail(id, Errorf(KindIO, "rename failed"))

	snap, _ := r.Get(id)
	assert.Equal(t, StageFailed, snap.Stage)
	assert.Equal(t, 2, snap.CurrentStageIndex)
}

func TestRegistry_GetUnknownID(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get(uuid.New())
	assert.False(t, ok)
}

func TestRegistry_RemoveRefusesActiveJobs(t *testing.T) {
	r := NewRegistry()
	id := r.Create()
	require.NoError(t, r.Transition(id, StageFetching))

	assert.Error(t, r.Remove(id))

	r.Fail(id, Errorf(KindCancelled, "client went away"))
	require.NoError(t, r.Remove(id))
	_, ok := r.Get(id)
	assert.False(t, ok)
}

func TestRegistry_ListReturnsAllJobs(t *testing.T) {
	r := NewRegistry()
	a := r.Create()
	b := r.Create()

	seen := map[uuid.UUID]bool{}
	for _, snap := range r.List() {
		seen[snap.ID] = true
	}
	assert.True(t, seen[a])
	assert.True(t, seen[b])
}

func TestAsError(t *testing.T) {
	classified := Errorf(KindFetchFailed, "nope")
	assert.Same(t, classified, AsError(classified, KindIO))

	wrapped := AsError(assert.AnError, KindIO)
	assert.Equal(t, KindIO, wrapped.Kind)
	assert.Nil(t, AsError(nil, KindIO))
}
