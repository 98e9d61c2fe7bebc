package service

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/pawhaus/kennelcam/internal/domain"
	"github.com/pawhaus/kennelcam/internal/infrastructure/logger"
	"github.com/pawhaus/kennelcam/internal/port"
)

// Dispatcher is the per-process poll loop: claim a job, render it, report
// the outcome. Any number of dispatcher processes may run against the
// same store; all coordination happens through the store's atomic
// operations, never through anything in this process.
type Dispatcher struct {
	store    port.JobStore
	renderer port.ClipRenderer
	bus      *EventBus
	workerID string
	poll     time.Duration
}

func NewDispatcher(store port.JobStore, renderer port.ClipRenderer, bus *EventBus, workerID string, poll time.Duration) *Dispatcher {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Dispatcher{
		store:    store,
		renderer: renderer,
		bus:      bus,
		workerID: workerID,
		poll:     poll,
	}
}

// WorkerID builds a claim identity unique to this process.
func WorkerID(suffix string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return host + "-" + suffix
}

func (d *Dispatcher) Run(ctx context.Context) {
	logger.Info.Printf("dispatcher %s started (poll %s)", d.workerID, d.poll)
	for {
		select {
		case <-ctx.Done():
			logger.Info.Printf("dispatcher %s shutting down", d.workerID)
			return
		default:
		}

		job, err := d.store.ClaimNext(d.workerID)
		if err != nil {
			logger.Error.Printf("dispatcher %s: claim failed: %v", d.workerID, err)
			d.sleep(ctx, d.poll)
			continue
		}
		if job == nil {
			d.sleep(ctx, d.poll)
			continue
		}

		logger.Info.Printf("dispatcher %s: claimed job %s (camera=%s kind=%s attempt=%d/%d)",
			d.workerID, job.ID, job.Request.CameraID, job.Request.Kind, job.RetryCount, job.MaxRetries)
		d.publish(job.ID, JobEvent{Type: "claimed", Status: domain.JobStatusRunning})
		d.process(ctx, job)
	}
}

func (d *Dispatcher) process(ctx context.Context, job *domain.ExportJob) {
	// The claim can be overtaken before the render starts (operator
	// cancel, reaper requeue); render only if the job can still complete.
	if fresh, err := d.store.Get(job.ID); err == nil && !domain.CanTransition(fresh.Status, domain.JobStatusDone) {
		logger.Info.Printf("job %s is %s before render started, skipping", job.ID, fresh.Status)
		return
	}

	// The render is detached from the dispatcher's shutdown signal:
	// stopping gracefully means no new claims, not killing claimed work.
	// Only the cancel watch and the renderer's own timeout abort it.
	renderCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	go d.watchCancel(renderCtx, job.ID, cancel)

	outputPath, manifestPath, err := d.renderer.Render(renderCtx, job)
	cancel()

	if err != nil {
		logger.Error.Printf("job %s attempt failed: %v", job.ID, err)
		if reportErr := d.store.MarkFailed(job.ID, err); reportErr != nil {
			// The operator canceled mid-render; the terminal status wins.
			if errors.Is(reportErr, domain.ErrInvalidTransition) {
				logger.Info.Printf("job %s: failure report dropped, job already terminal", job.ID)
				return
			}
			logger.Error.Printf("job %s: failed to record failure: %v", job.ID, reportErr)
			return
		}
		d.publishOutcome(job.ID)
		return
	}

	if reportErr := d.store.MarkDone(job.ID, outputPath, manifestPath); reportErr != nil {
		if errors.Is(reportErr, domain.ErrInvalidTransition) {
			// Render finished after cancellation: drop the artifact so
			// nothing leaks past the canceled status.
			logger.Info.Printf("job %s: render finished after cancel, discarding %s", job.ID, outputPath)
			_ = os.Remove(outputPath)
			_ = os.Remove(manifestPath)
			return
		}
		logger.Error.Printf("job %s: failed to record completion: %v", job.ID, reportErr)
		return
	}
	logger.Info.Printf("job %s done: %s", job.ID, outputPath)
	d.publish(job.ID, JobEvent{Type: "done", Status: domain.JobStatusDone})
}

// watchCancel aborts the in-flight render if the job is canceled while
// it runs. Best effort only: the render may still finish, in which case
// the guarded store transitions discard its result.
func (d *Dispatcher) watchCancel(ctx context.Context, jobID string, cancel context.CancelFunc) {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := d.store.Get(jobID)
			if err != nil {
				continue
			}
			if job.Status == domain.JobStatusCanceled {
				logger.Info.Printf("job %s canceled, aborting render", jobID)
				cancel()
				return
			}
		}
	}
}

func (d *Dispatcher) publishOutcome(jobID string) {
	job, err := d.store.Get(jobID)
	if err != nil {
		return
	}
	switch job.Status {
	case domain.JobStatusPending:
		d.publish(jobID, JobEvent{Type: "requeued", Status: job.Status, Message: job.ErrorMessage})
	case domain.JobStatusFailed:
		d.publish(jobID, JobEvent{Type: "failed", Status: job.Status, Message: job.ErrorMessage})
	}
}

func (d *Dispatcher) publish(jobID string, event JobEvent) {
	if d.bus != nil {
		d.bus.Publish(jobID, event)
	}
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(dur):
	}
}

// RunReaper periodically requeues running jobs stranded by crashed
// workers. grace must exceed the largest configured render timeout.
func RunReaper(ctx context.Context, store port.JobStore, every, grace time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.ReapStale(grace)
			if err != nil {
				logger.Error.Printf("reap stale jobs: %v", err)
				continue
			}
			if n > 0 {
				logger.Warn.Printf("requeued %d stale running jobs", n)
			}
		}
	}
}
