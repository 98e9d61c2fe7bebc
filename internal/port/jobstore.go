package port

import (
	"time"

	"github.com/pawhaus/kennelcam/internal/domain"
)

// JobStore is the durable export-job table plus its transition protocol.
// It is the single coordination point between worker processes: every
// operation validates the job's prior state and fails with
// domain.ErrInvalidTransition rather than overwrite a status blindly.
type JobStore interface {
	// Enqueue persists a new pending job, or returns the existing active
	// job when one with the same dedupe key is still pending or running.
	Enqueue(req domain.RenderRequest, maxRetries, timeoutSeconds int) (*domain.ExportJob, error)

	// ClaimNext atomically moves the oldest eligible pending job to
	// running on behalf of workerID. Returns (nil, nil) when no job is
	// eligible; concurrent callers never receive the same job.
	ClaimNext(workerID string) (*domain.ExportJob, error)

	// MarkDone completes a running job with its delivered artifacts.
	MarkDone(jobID, outputPath, manifestPath string) error

	// MarkFailed records a failed attempt of a running job: requeue with
	// backoff while retries remain, terminal failed otherwise.
	MarkFailed(jobID string, cause error) error

	// Cancel terminates a pending or running job by operator intent.
	// For running jobs the in-flight render is only aborted best-effort.
	Cancel(jobID string) error

	// Retry resets a failed or canceled job to pending with a fresh
	// retry budget (retry_count returns to zero).
	Retry(jobID string) error

	Get(jobID string) (*domain.ExportJob, error)
	List(limit int) ([]*domain.ExportJob, error)

	// ReapStale requeues running jobs whose claim is older than grace,
	// recovering work stranded by a crashed worker. Returns the number
	// of jobs requeued.
	ReapStale(grace time.Duration) (int, error)
}
