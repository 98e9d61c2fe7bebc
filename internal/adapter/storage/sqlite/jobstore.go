package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"

	"github.com/pawhaus/kennelcam/internal/backoff"
	"github.com/pawhaus/kennelcam/internal/domain"
	"github.com/pawhaus/kennelcam/internal/port"
)

// JobStore implements the export-job table and its transition protocol
// on SQLite. Every transition is a single guarded UPDATE (or a short
// transaction), so the store stays correct with any number of worker
// processes sharing the database file.
type JobStore struct {
	db     *sql.DB
	policy *backoff.Policy
}

func NewJobStore(store *Store, policy *backoff.Policy) *JobStore {
	if policy == nil {
		policy = backoff.Default()
	}
	return &JobStore{db: store.db, policy: policy}
}

const jobColumns = `job_id, dedupe_key, camera_id, track_ref, kind,
	window_start, window_end, options_json, status, retry_count,
	max_retries, timeout_seconds, next_run_at, error_message, output_path,
	manifest_path, owning_worker, created_at, started_at, finished_at,
	canceled_at`

func (s *JobStore) Enqueue(req domain.RenderRequest, maxRetries, timeoutSeconds int) (*domain.ExportJob, error) {
	job, err := domain.NewJob(req, maxRetries, timeoutSeconds)
	if err != nil {
		return nil, err
	}

	optionsJSON, err := json.Marshal(job.Request.Options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}

	// A producer on another connection can commit the same dedupe key
	// between our lookup and our insert; under WAL the insert then fails
	// with a snapshot or unique-constraint error even though the
	// invariant held. Re-running the transaction once makes the second
	// lookup see the winner's row and return it like any duplicate.
	enqueued, err := s.tryEnqueue(job, string(optionsJSON))
	if err != nil && isEnqueueConflict(err) {
		enqueued, err = s.tryEnqueue(job, string(optionsJSON))
	}
	return enqueued, err
}

func (s *JobStore) tryEnqueue(job *domain.ExportJob, optionsJSON string) (*domain.ExportJob, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin enqueue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Dedupe: an active job with the same key absorbs the submission.
	var existingID string
	err = tx.QueryRow(
		`SELECT job_id FROM export_jobs
		 WHERE dedupe_key = ? AND status IN ('pending', 'running')
		 ORDER BY created_at DESC LIMIT 1`,
		job.DedupeKey,
	).Scan(&existingID)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit enqueue: %w", err)
		}
		return s.Get(existingID)
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("dedupe lookup: %w", err)
	}

	_, err = tx.Exec(
		`INSERT INTO export_jobs (
			job_id, dedupe_key, camera_id, track_ref, kind,
			window_start, window_end, options_json, status,
			retry_count, max_retries, timeout_seconds, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?, ?)`,
		job.ID, job.DedupeKey, job.Request.CameraID, job.Request.TrackRef,
		string(job.Request.Kind), job.Request.WindowStart.UnixMilli(),
		job.Request.WindowEnd.UnixMilli(), optionsJSON,
		job.MaxRetries, job.TimeoutSeconds, job.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enqueue: %w", err)
	}
	return job, nil
}

// isEnqueueConflict reports whether an enqueue attempt lost a race with
// a concurrent producer: SQLITE_BUSY (snapshot invalidated under WAL) or
// SQLITE_CONSTRAINT (the partial unique index on active dedupe keys).
func isEnqueueConflict(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case 5, 19: // SQLITE_BUSY, SQLITE_CONSTRAINT
		return true
	}
	return false
}

// ClaimNext is the sole serialization point of the queue: a single
// UPDATE picks the oldest eligible pending row and moves it to running.
// Losing callers see no row and move on; they never wait.
func (s *JobStore) ClaimNext(workerID string) (*domain.ExportJob, error) {
	now := time.Now().UTC()
	row := s.db.QueryRow(
		`UPDATE export_jobs SET
			status = 'running',
			started_at = ?,
			owning_worker = ?
		WHERE job_id = (
			SELECT job_id FROM export_jobs
			WHERE status = 'pending'
			  AND (next_run_at IS NULL OR next_run_at <= ?)
			ORDER BY created_at ASC, rowid ASC
			LIMIT 1
		)
		RETURNING `+jobColumns,
		now.UnixMilli(), workerID, now.UnixMilli(),
	)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim next: %w", err)
	}
	return job, nil
}

func (s *JobStore) MarkDone(jobID, outputPath, manifestPath string) error {
	res, err := s.db.Exec(
		`UPDATE export_jobs SET
			status = 'done',
			finished_at = ?,
			output_path = ?,
			manifest_path = ?,
			owning_worker = ''
		WHERE job_id = ? AND status = 'running'`,
		time.Now().UTC().UnixMilli(), outputPath, manifestPath, jobID,
	)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	return s.requireTransition(res, jobID, domain.JobStatusDone)
}

func (s *JobStore) MarkFailed(jobID string, cause error) error {
	message := ""
	if cause != nil {
		message = cause.Error()
	}
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin mark failed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	var retryCount, maxRetries int
	err = tx.QueryRow(
		`SELECT status, retry_count, max_retries FROM export_jobs WHERE job_id = ?`,
		jobID,
	).Scan(&status, &retryCount, &maxRetries)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load job for failure: %w", err)
	}
	if domain.JobStatus(status) != domain.JobStatusRunning {
		return fmt.Errorf("%w: cannot fail job %s in status %s",
			domain.ErrInvalidTransition, jobID, status)
	}

	if retryCount < maxRetries {
		retryCount++
		nextRunAt := now.Add(s.policy.Delay(retryCount))
		_, err = tx.Exec(
			`UPDATE export_jobs SET
				status = 'pending',
				retry_count = ?,
				next_run_at = ?,
				error_message = ?,
				owning_worker = ''
			WHERE job_id = ? AND status = 'running'`,
			retryCount, nextRunAt.UnixMilli(), message, jobID,
		)
	} else {
		_, err = tx.Exec(
			`UPDATE export_jobs SET
				status = 'failed',
				finished_at = ?,
				next_run_at = NULL,
				error_message = ?,
				owning_worker = ''
			WHERE job_id = ? AND status = 'running'`,
			now.UnixMilli(), message, jobID,
		)
	}
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark failed: %w", err)
	}
	return nil
}

func (s *JobStore) Cancel(jobID string) error {
	res, err := s.db.Exec(
		`UPDATE export_jobs SET
			status = 'canceled',
			canceled_at = ?,
			next_run_at = NULL,
			owning_worker = ''
		WHERE job_id = ? AND status IN ('pending', 'running')`,
		time.Now().UTC().UnixMilli(), jobID,
	)
	if err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	return s.requireTransition(res, jobID, domain.JobStatusCanceled)
}

// Retry gives a failed or canceled job a fresh run: retry_count resets
// to zero (a full new automatic-retry budget) and the lifecycle
// timestamps of the previous run are cleared.
func (s *JobStore) Retry(jobID string) error {
	res, err := s.db.Exec(
		`UPDATE export_jobs SET
			status = 'pending',
			retry_count = 0,
			next_run_at = NULL,
			error_message = '',
			output_path = '',
			manifest_path = '',
			owning_worker = '',
			started_at = NULL,
			finished_at = NULL,
			canceled_at = NULL
		WHERE job_id = ? AND status IN ('failed', 'canceled')`,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return s.requireTransition(res, jobID, domain.JobStatusPending)
}

func (s *JobStore) Get(jobID string) (*domain.ExportJob, error) {
	row := s.db.QueryRow(
		`SELECT `+jobColumns+` FROM export_jobs WHERE job_id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *JobStore) List(limit int) ([]*domain.ExportJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT `+jobColumns+` FROM export_jobs
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*domain.ExportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ReapStale requeues running jobs claimed longer than grace ago. A
// worker that died mid-render leaves its job running forever otherwise.
// The retry budget is untouched: a crash is not a render failure.
func (s *JobStore) ReapStale(grace time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-grace)
	res, err := s.db.Exec(
		`UPDATE export_jobs SET
			status = 'pending',
			started_at = NULL,
			next_run_at = NULL,
			owning_worker = ''
		WHERE status = 'running' AND started_at <= ?`,
		cutoff.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("reap stale: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// requireTransition turns a zero-row guarded UPDATE into the precise
// error: the job either does not exist or sits in a status the caller
// did not expect.
func (s *JobStore) requireTransition(res sql.Result, jobID string, to domain.JobStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	job, err := s.Get(jobID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s, cannot move to %s",
		domain.ErrInvalidTransition, jobID, job.Status, to)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.ExportJob, error) {
	var (
		job          domain.ExportJob
		kind         string
		status       string
		windowStart  int64
		windowEnd    int64
		optionsJSON  string
		nextRunAt    sql.NullInt64
		createdAt    int64
		startedAt    sql.NullInt64
		finishedAt   sql.NullInt64
		canceledAt   sql.NullInt64
	)

	err := row.Scan(
		&job.ID, &job.DedupeKey, &job.Request.CameraID, &job.Request.TrackRef,
		&kind, &windowStart, &windowEnd, &optionsJSON, &status,
		&job.RetryCount, &job.MaxRetries, &job.TimeoutSeconds, &nextRunAt,
		&job.ErrorMessage, &job.OutputPath, &job.ManifestPath,
		&job.OwningWorker, &createdAt, &startedAt, &finishedAt, &canceledAt,
	)
	if err != nil {
		return nil, err
	}

	job.Request.Kind = domain.ClipKind(kind)
	job.Request.WindowStart = msTime(windowStart)
	job.Request.WindowEnd = msTime(windowEnd)
	job.Status = domain.JobStatus(status)
	job.CreatedAt = msTime(createdAt)
	job.NextRunAt = msTimePtr(nextRunAt)
	job.StartedAt = msTimePtr(startedAt)
	job.FinishedAt = msTimePtr(finishedAt)
	job.CanceledAt = msTimePtr(canceledAt)

	if optionsJSON != "" {
		if err := json.Unmarshal([]byte(optionsJSON), &job.Request.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
	}
	return &job, nil
}

func msTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func msTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := msTime(v.Int64)
	return &t
}

var _ port.JobStore = (*JobStore)(nil)
