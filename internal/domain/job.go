package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job is a leasable unit of pipeline work. The jobs table is the single
// shared mutable resource across workers; every mutation goes through the
// queue repository's atomic operations, never read-then-write.
type Job struct {
	ID             uuid.UUID       `json:"id"`
	ReportID       uuid.UUID       `json:"report_id"`
	Stage          JobStage        `json:"stage"`
	Provider       string          `json:"provider,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         JobStatus       `json:"status"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	DedupeKey      string          `json:"dedupe_key"`
	LeaseOwner     *string         `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty"`
	LastError      *string         `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// LeaseExpired reports whether the job holds a lease that has lapsed.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.Status == JobStatusLeased && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now)
}

// PipelinePayload is the payload carried by pipeline-stage jobs.
type PipelinePayload struct {
	SearchID uuid.UUID `json:"search_id"`
	Version  int       `json:"version"`
}
