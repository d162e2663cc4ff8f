package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	searchIDKey   contextKey = "search_id"
	runVersionKey contextKey = "run_version"
	jobIDKey      contextKey = "job_id"
	workerIDKey   contextKey = "worker_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey); v != nil {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}

// WithSearch adds search ID and run version to the context.
func WithSearch(ctx context.Context, searchID string, runVersion int) context.Context {
	ctx = context.WithValue(ctx, searchIDKey, searchID)
	ctx = context.WithValue(ctx, runVersionKey, runVersion)
	return ctx
}

// SearchFromContext retrieves the search ID and run version from context.
// Returns empty string and zero if not present.
func SearchFromContext(ctx context.Context) (searchID string, runVersion int) {
	if v := ctx.Value(searchIDKey); v != nil {
		if id, ok := v.(string); ok {
			searchID = id
		}
	}
	if v := ctx.Value(runVersionKey); v != nil {
		if ver, ok := v.(int); ok {
			runVersion = ver
		}
	}
	return searchID, runVersion
}

// WithJob adds job ID and worker ID to the context.
func WithJob(ctx context.Context, jobID, workerID string) context.Context {
	ctx = context.WithValue(ctx, jobIDKey, jobID)
	ctx = context.WithValue(ctx, workerIDKey, workerID)
	return ctx
}

// JobFromContext retrieves job ID and worker ID from context.
// Returns empty strings if not present.
func JobFromContext(ctx context.Context) (jobID, workerID string) {
	if v := ctx.Value(jobIDKey); v != nil {
		if id, ok := v.(string); ok {
			jobID = id
		}
	}
	if v := ctx.Value(workerIDKey); v != nil {
		if id, ok := v.(string); ok {
			workerID = id
		}
	}
	return jobID, workerID
}

// PipelineContext contains all the correlation data for a pipeline run.
type PipelineContext struct {
	RequestID  string
	SearchID   string
	RunVersion int
	JobID      string
	WorkerID   string
}

// WithPipelineContext adds all pipeline correlation data to the context.
func WithPipelineContext(ctx context.Context, pc PipelineContext) context.Context {
	if pc.RequestID != "" {
		ctx = WithRequestID(ctx, pc.RequestID)
	}
	if pc.SearchID != "" {
		ctx = WithSearch(ctx, pc.SearchID, pc.RunVersion)
	}
	if pc.JobID != "" || pc.WorkerID != "" {
		ctx = WithJob(ctx, pc.JobID, pc.WorkerID)
	}
	return ctx
}

// PipelineContextFromContext extracts all pipeline correlation data from the context.
func PipelineContextFromContext(ctx context.Context) PipelineContext {
	searchID, runVersion := SearchFromContext(ctx)
	jobID, workerID := JobFromContext(ctx)

	return PipelineContext{
		RequestID:  RequestIDFromContext(ctx),
		SearchID:   searchID,
		RunVersion: runVersion,
		JobID:      jobID,
		WorkerID:   workerID,
	}
}
