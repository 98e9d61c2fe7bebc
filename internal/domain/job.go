package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusRunning  JobStatus = "running"
	JobStatusDone     JobStatus = "done"
	JobStatusFailed   JobStatus = "failed"
	JobStatusCanceled JobStatus = "canceled"
)

// Terminal reports whether no further transition is permitted from s.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// legalTransitions encodes the full lifecycle. running -> pending is the
// automatic requeue after a retryable failure; failed/canceled -> pending
// is the operator retry.
var legalTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:  {JobStatusRunning, JobStatusCanceled},
	JobStatusRunning:  {JobStatusDone, JobStatusPending, JobStatusFailed, JobStatusCanceled},
	JobStatusFailed:   {JobStatusPending},
	JobStatusCanceled: {JobStatusPending},
}

func CanTransition(from, to JobStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ExportJob is one unit of render work. The row in the job table is the
// only shared mutable state between worker processes; everything here is
// mutated exclusively through the job store's guarded operations.
type ExportJob struct {
	ID             string
	DedupeKey      string
	Request        RenderRequest
	Status         JobStatus
	RetryCount     int
	MaxRetries     int
	TimeoutSeconds int
	NextRunAt      *time.Time
	OwningWorker   string
	ErrorMessage   string
	OutputPath     string
	ManifestPath   string
	CreatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
	CanceledAt     *time.Time
}

func NewJob(req RenderRequest, maxRetries, timeoutSeconds int) (*ExportJob, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if maxRetries < 0 {
		return nil, fmt.Errorf("%w: max_retries must be >= 0", ErrMalformedRequest)
	}
	if timeoutSeconds <= 0 {
		return nil, fmt.Errorf("%w: timeout_seconds must be > 0", ErrMalformedRequest)
	}
	req.Options.ApplyDefaults()

	return &ExportJob{
		ID:             uuid.NewString(),
		DedupeKey:      req.DedupeKey(),
		Request:        req,
		Status:         JobStatusPending,
		MaxRetries:     maxRetries,
		TimeoutSeconds: timeoutSeconds,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Timeout is the hard wall-clock bound for a single render attempt.
func (j *ExportJob) Timeout() time.Duration {
	return time.Duration(j.TimeoutSeconds) * time.Second
}

// Eligible reports whether the job may be claimed at the given instant.
func (j *ExportJob) Eligible(now time.Time) bool {
	if j.Status != JobStatusPending {
		return false
	}
	return j.NextRunAt == nil || !j.NextRunAt.After(now)
}

// RetriesLeft reports whether another automatic retry is allowed.
func (j *ExportJob) RetriesLeft() bool {
	return j.RetryCount < j.MaxRetries
}
