package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state reported for a generation job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether polling should stop at this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParseStatus maps a backend status string onto a Status. Common synonyms
// used by job backends are accepted.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued", "pending":
		return StatusQueued, nil
	case "processing", "running", "generating":
		return StatusProcessing, nil
	case "done", "completed", "succeeded":
		return StatusDone, nil
	case "failed", "error":
		return StatusFailed, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	default:
		return "", fmt.Errorf("unknown job status: %q", s)
	}
}

// Snapshot is one immutable progress reading for a job.
type Snapshot struct {
	JobID     string    `json:"jobId"`
	Status    Status    `json:"status"`
	Progress  float64   `json:"progress"`            // 0-100
	Completed int       `json:"completed,omitempty"` // count-based measure
	Total     int       `json:"total,omitempty"`
	Error     string    `json:"error,omitempty"`
	ResultURL string    `json:"resultUrl,omitempty"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// Percent returns completion in [0, 100], preferring the count-based
// measure when the backend reports one.
func (s Snapshot) Percent() float64 {
	p := s.Progress
	if s.Total > 0 {
		p = float64(s.Completed) * 100 / float64(s.Total)
	}
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Source is the external job endpoint the tracker polls.
type Source interface {
	// Progress fetches the current snapshot. It must be safe to call repeatedly.
	Progress(ctx context.Context, jobID string) (Snapshot, error)
	// Cancel asks the backend to terminate the job.
	Cancel(ctx context.Context, jobID string) error
}
