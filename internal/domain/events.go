package domain

import (
	"time"

	"github.com/google/uuid"
)

// Event type constants for lifecycle events.
const (
	EventTypeSearchCompleted = "search.completed"
	EventTypeSearchFailed    = "search.failed"
)

// SearchCompletedPayload is the payload for search.completed events.
type SearchCompletedPayload struct {
	SearchID   uuid.UUID      `json:"search_id"`
	RunID      uuid.UUID      `json:"run_id"`
	RunVersion int            `json:"run_version"`
	Coverage   CoverageReport `json:"coverage"`
	Stats      RunStats       `json:"stats"`
	Duration   time.Duration  `json:"duration_ns"`
}

// SearchFailedPayload is the payload for search.failed events.
type SearchFailedPayload struct {
	SearchID   uuid.UUID `json:"search_id"`
	RunVersion int       `json:"run_version"`
	Error      string    `json:"error"`
}
