package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
)

// ListJobsInput is the input for listing jobs.
type ListJobsInput struct{}

// ListJobsOutput is the output for listing jobs.
type ListJobsOutput struct {
	Body struct {
		Jobs []JobResponse `json:"jobs"`
	}
}

// ListJobs returns every job known to this process.
func (h *Handlers) ListJobs(_ context.Context, _ *ListJobsInput) (*ListJobsOutput, error) {
	snaps := h.registry.List()

	resp := &ListJobsOutput{}
	resp.Body.Jobs = make([]JobResponse, 0, len(snaps))
	for _, s := range snaps {
		resp.Body.Jobs = append(resp.Body.Jobs, jobResponse(s))
	}
	return resp, nil
}

// GetJobInput is the input for getting a job.
type GetJobInput struct {
	ID string `path:"id" doc:"Job ID (UUID)"`
}

// GetJobOutput is the output for getting a job.
type GetJobOutput struct {
	Body JobResponse
}

// GetJob returns the progress snapshot for one job.
func (h *Handlers) GetJob(_ context.Context, input *GetJobInput) (*GetJobOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid job id")
	}

	snap, ok := h.registry.Get(id)
	if !ok {
		return nil, huma.Error404NotFound("job not found")
	}
	return &GetJobOutput{Body: jobResponse(snap)}, nil
}

// DeleteJobInput is the input for deleting a job record.
type DeleteJobInput struct {
	ID string `path:"id" doc:"Job ID (UUID)"`
}

// DeleteJobOutput is the output for deleting a job record.
type DeleteJobOutput struct{}

// DeleteJob removes a terminal job record from the registry. The
// published video, if any, is untouched.
func (h *Handlers) DeleteJob(_ context.Context, input *DeleteJobInput) (*DeleteJobOutput, error) {
	id, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid job id")
	}

	if err := h.registry.Remove(id); err != nil {
		return nil, humaError(err)
	}
	return &DeleteJobOutput{}, nil
}
