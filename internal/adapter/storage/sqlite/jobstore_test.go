package sqlite

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawhaus/kennelcam/internal/backoff"
	"github.com/pawhaus/kennelcam/internal/domain"
)

// fastPolicy keeps retry delays in the low milliseconds so tests can
// wait them out.
func fastPolicy() *backoff.Policy {
	return &backoff.Policy{Base: time.Millisecond, Max: 4 * time.Millisecond, Factor: 2.0}
}

func newTestJobStore(t *testing.T, policy *backoff.Policy) *JobStore {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewJobStore(store, policy)
}

func testRequest(camera string) domain.RenderRequest {
	start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	return domain.RenderRequest{
		CameraID:    camera,
		TrackRef:    "gt-1",
		Kind:        domain.ClipKindFull,
		WindowStart: start,
		WindowEnd:   start.Add(time.Minute),
	}
}

func TestEnqueue_PersistsPendingJob(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())

	job, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Equal(t, 3, got.MaxRetries)
	assert.Equal(t, 600, got.TimeoutSeconds)
	assert.Nil(t, got.NextRunAt)
	assert.Empty(t, got.OwningWorker)
	assert.Equal(t, "cam-a", got.Request.CameraID)
	assert.Equal(t, "gt-1", got.Request.TrackRef)
	// Options were defaulted at enqueue time and round-trip intact.
	assert.Equal(t, domain.OptionsVersion, got.Request.Options.Version)
	assert.Equal(t, 3.0, got.Request.Options.PaddingSeconds)
}

func TestEnqueue_MalformedRequestPersistsNothing(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())

	req := testRequest("cam-a")
	req.Kind = "montage"
	_, err := s.Enqueue(req, 3, 600)
	assert.ErrorIs(t, err, domain.ErrMalformedRequest)

	jobs, err := s.List(10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestEnqueue_DedupeReturnsActiveJob(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())

	first, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)

	// Same defining parameters while the first is still pending.
	second, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Still absorbed while running.
	claimed, err := s.ClaimNext("w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	third, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)

	jobs, err := s.List(10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1, "dedupe must not create extra rows")

	// After a terminal state the same key makes a fresh job.
	require.NoError(t, s.MarkDone(first.ID, "/out.mp4", "/man.json"))
	fourth, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, fourth.ID)
}

func TestEnqueue_DifferentKeysCoexist(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())

	a, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)
	b, err := s.Enqueue(testRequest("cam-b"), 3, 600)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

// Two producers on separate database connections (e.g. two CLI
// processes) submitting the same key must both get the winning job back,
// even when the loser's insert collides under WAL snapshot isolation.
func TestEnqueue_ConcurrentProducersOnSeparateConnections(t *testing.T) {
	dir := t.TempDir()
	storeA, err := NewStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storeA.Close() })
	storeB, err := NewStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storeB.Close() })

	producers := []*JobStore{
		NewJobStore(storeA, fastPolicy()),
		NewJobStore(storeB, fastPolicy()),
	}

	const rounds = 25
	for i := 0; i < rounds; i++ {
		req := testRequest(fmt.Sprintf("cam-%d", i))

		var wg sync.WaitGroup
		results := make([]*domain.ExportJob, len(producers))
		errs := make([]error, len(producers))
		for n, js := range producers {
			wg.Add(1)
			go func(n int, js *JobStore) {
				defer wg.Done()
				results[n], errs[n] = js.Enqueue(req, 3, 600)
			}(n, js)
		}
		wg.Wait()

		require.NoError(t, errs[0], "duplicate submission must resolve, not error")
		require.NoError(t, errs[1], "duplicate submission must resolve, not error")
		assert.Equal(t, results[0].ID, results[1].ID, "both producers must see the same job")
	}

	jobs, err := producers[0].List(2 * rounds)
	require.NoError(t, err)
	assert.Len(t, jobs, rounds, "one row per key despite racing producers")
}

func TestClaimNext_EmptyQueue(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())
	job, err := s.ClaimNext("w1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClaimNext_StampsOwnership(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())
	enqueued, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)

	job, err := s.ClaimNext("w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, enqueued.ID, job.ID)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
	assert.Equal(t, "w1", job.OwningWorker)
	require.NotNil(t, job.StartedAt)

	// Nothing else is eligible now.
	second, err := s.ClaimNext("w2")
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestClaimNext_OldestFirst(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())

	var ids []string
	for i := 0; i < 3; i++ {
		job, err := s.Enqueue(testRequest(fmt.Sprintf("cam-%d", i)), 3, 600)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	for i := 0; i < 3; i++ {
		job, err := s.ClaimNext("w1")
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, ids[i], job.ID, "claim order must follow enqueue order")
	}
}

func TestClaimNext_ExactlyOneWinner(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())
	_, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)

	const callers = 16
	var wg sync.WaitGroup
	results := make(chan *domain.ExportJob, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			job, err := s.ClaimNext(fmt.Sprintf("w%d", n))
			assert.NoError(t, err)
			results <- job
		}(i)
	}
	wg.Wait()
	close(results)

	winners := 0
	for job := range results {
		if job != nil {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent caller may claim the job")
}

func TestMarkDone(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())
	job, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)

	_, err = s.ClaimNext("w1")
	require.NoError(t, err)
	require.NoError(t, s.MarkDone(job.ID, "/exports/videos/x.mp4", "/exports/manifests/x.json"))

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusDone, got.Status)
	assert.Equal(t, "/exports/videos/x.mp4", got.OutputPath)
	assert.Equal(t, "/exports/manifests/x.json", got.ManifestPath)
	assert.NotNil(t, got.FinishedAt)
	assert.Empty(t, got.OwningWorker)
}

func TestMarkDone_IllegalFromNonRunning(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())
	job, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)

	err = s.MarkDone(job.ID, "/out.mp4", "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status, "failed transition must not change the row")

	assert.ErrorIs(t, s.MarkDone("no-such-job", "/out.mp4", ""), domain.ErrNotFound)
}

func TestMarkFailed_RequeuesWithBackoff(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())
	job, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)

	_, err = s.ClaimNext("w1")
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(job.ID, errors.New("encoder crashed")))

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "encoder crashed", got.ErrorMessage)
	assert.NotNil(t, got.NextRunAt)
	assert.Nil(t, got.FinishedAt)
	assert.Empty(t, got.OwningWorker)
	assert.LessOrEqual(t, got.RetryCount, got.MaxRetries)
}

func TestMarkFailed_BackoffGatesEligibility(t *testing.T) {
	// Long base so the requeued job is still waiting when we re-claim.
	slow := &backoff.Policy{Base: time.Minute, Max: time.Hour, Factor: 2.0}
	s := newTestJobStore(t, slow)

	job, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)
	_, err = s.ClaimNext("w1")
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(job.ID, errors.New("boom")))

	claimed, err := s.ClaimNext("w1")
	require.NoError(t, err)
	assert.Nil(t, claimed, "job must stay ineligible until next_run_at passes")
}

func TestMarkFailed_ExhaustsRetryBudget(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())
	job, err := s.Enqueue(testRequest("cam-a"), 2, 600)
	require.NoError(t, err)

	// Three consecutive failures with max_retries=2.
	for attempt := 0; attempt < 3; attempt++ {
		var claimed *domain.ExportJob
		deadline := time.Now().Add(time.Second)
		for claimed == nil && time.Now().Before(deadline) {
			claimed, err = s.ClaimNext("w1")
			require.NoError(t, err)
			if claimed == nil {
				time.Sleep(2 * time.Millisecond) // backoff still pending
			}
		}
		require.NotNil(t, claimed, "attempt %d never became eligible", attempt)
		require.Equal(t, job.ID, claimed.ID)
		require.NoError(t, s.MarkFailed(job.ID, errors.New("boom")))
	}

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.NotNil(t, got.FinishedAt)
	assert.Nil(t, got.NextRunAt)

	// A fourth claim never happens.
	claimed, err := s.ClaimNext("w1")
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestMarkFailed_IllegalFromNonRunning(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())
	job, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)

	assert.ErrorIs(t, s.MarkFailed(job.ID, errors.New("boom")), domain.ErrInvalidTransition)
	assert.ErrorIs(t, s.MarkFailed("no-such-job", errors.New("boom")), domain.ErrNotFound)
}

func TestCancel_PendingJobNeverClaimed(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())
	job, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)

	require.NoError(t, s.Cancel(job.ID))

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCanceled, got.Status)
	assert.NotNil(t, got.CanceledAt)

	claimed, err := s.ClaimNext("w1")
	require.NoError(t, err)
	assert.Nil(t, claimed, "canceled pending job must be immediately ineligible")
}

func TestCancel_RunningJobResultCannotOverwrite(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())
	job, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)
	_, err = s.ClaimNext("w1")
	require.NoError(t, err)

	require.NoError(t, s.Cancel(job.ID))

	// The render finished anyway; its report must bounce off the
	// terminal status.
	assert.ErrorIs(t, s.MarkDone(job.ID, "/late.mp4", ""), domain.ErrInvalidTransition)
	assert.ErrorIs(t, s.MarkFailed(job.ID, errors.New("late")), domain.ErrInvalidTransition)

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCanceled, got.Status)
	assert.Empty(t, got.OutputPath)
}

func TestCancel_IllegalFromTerminal(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())
	job, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)
	require.NoError(t, s.Cancel(job.ID))

	assert.ErrorIs(t, s.Cancel(job.ID), domain.ErrInvalidTransition)
	assert.ErrorIs(t, s.Cancel("no-such-job"), domain.ErrNotFound)
}

func TestRetry_ResetsBudgetAndTimestamps(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())
	job, err := s.Enqueue(testRequest("cam-a"), 0, 600)
	require.NoError(t, err)

	_, err = s.ClaimNext("w1")
	require.NoError(t, err)
	require.NoError(t, s.MarkFailed(job.ID, errors.New("boom"))) // max_retries=0 -> terminal

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.JobStatusFailed, got.Status)

	require.NoError(t, s.Retry(job.ID))
	got, err = s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Empty(t, got.ErrorMessage)
	assert.Nil(t, got.NextRunAt)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)

	claimed, err := s.ClaimNext("w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
}

func TestRetry_FromCanceled(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())
	job, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)
	require.NoError(t, s.Cancel(job.ID))

	require.NoError(t, s.Retry(job.ID))
	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Nil(t, got.CanceledAt)
}

func TestRetry_IllegalFromActiveOrDone(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())
	job, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Retry(job.ID), domain.ErrInvalidTransition)

	_, err = s.ClaimNext("w1")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Retry(job.ID), domain.ErrInvalidTransition)

	require.NoError(t, s.MarkDone(job.ID, "/out.mp4", ""))
	assert.ErrorIs(t, s.Retry(job.ID), domain.ErrInvalidTransition)
	assert.ErrorIs(t, s.Retry("no-such-job"), domain.ErrNotFound)
}

func TestReapStale_RequeuesCrashedWork(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())
	job, err := s.Enqueue(testRequest("cam-a"), 3, 600)
	require.NoError(t, err)
	_, err = s.ClaimNext("w1")
	require.NoError(t, err)

	// A generous grace keeps a live render untouched.
	n, err := s.ReapStale(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	time.Sleep(10 * time.Millisecond)
	n, err = s.ReapStale(time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.Empty(t, got.OwningWorker)
	assert.Equal(t, 0, got.RetryCount, "a crash must not consume retry budget")

	claimed, err := s.ClaimNext("w2")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, job.ID, claimed.ID)
}

func TestGet_NotFound(t *testing.T) {
	s := newTestJobStore(t, fastPolicy())
	_, err := s.Get("no-such-job")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
