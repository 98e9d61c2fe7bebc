package ingest

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pawhaus/kennelcam/internal/domain"
	"github.com/pawhaus/kennelcam/internal/infrastructure/logger"
	"github.com/pawhaus/kennelcam/internal/port"
)

// TrackEvent is one detection from the upstream tracking pipeline.
type TrackEvent struct {
	CameraID   string
	TrackRef   string
	At         time.Time
	BBox       [4]float64
	Confidence float64
	Identity   string
}

// Enqueuer is the slice of the job store the collector needs: submit a
// render request, get back the job (new or deduplicated).
type Enqueuer interface {
	Enqueue(req domain.RenderRequest, maxRetries, timeoutSeconds int) (*domain.ExportJob, error)
}

// Collector turns a stream of track events into render requests. Each
// observation is persisted as it arrives; when a track closes, the
// observed window becomes one enqueued export job carrying the track ref
// as a back-reference. The queue's lifecycle stays independent of the
// track's: canceling or retrying the job never touches the track data.
type Collector struct {
	store          port.SegmentStore
	queue          Enqueuer
	kind           domain.ClipKind
	maxRetries     int
	timeoutSeconds int

	mu      sync.Mutex
	windows map[string]*trackWindow
}

type trackWindow struct {
	cameraID string
	first    time.Time
	last     time.Time
	count    int
}

func NewCollector(store port.SegmentStore, queue Enqueuer, kind domain.ClipKind, maxRetries, timeoutSeconds int) *Collector {
	return &Collector{
		store:          store,
		queue:          queue,
		kind:           kind,
		maxRetries:     maxRetries,
		timeoutSeconds: timeoutSeconds,
		windows:        make(map[string]*trackWindow),
	}
}

// Observe persists one detection and widens the track's observed window.
func (c *Collector) Observe(ev TrackEvent) error {
	if ev.CameraID == "" || ev.TrackRef == "" {
		return fmt.Errorf("%w: camera_id and track_ref are required", domain.ErrMalformedRequest)
	}
	if ev.At.IsZero() {
		return fmt.Errorf("%w: observation timestamp is required", domain.ErrMalformedRequest)
	}

	if err := c.store.SaveObservation(domain.TrackObservation{
		ID:         uuid.NewString(),
		TrackRef:   ev.TrackRef,
		CameraID:   ev.CameraID,
		At:         ev.At,
		BBox:       ev.BBox,
		Confidence: ev.Confidence,
		Identity:   ev.Identity,
	}); err != nil {
		return fmt.Errorf("save observation: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[ev.TrackRef]
	if !ok {
		c.windows[ev.TrackRef] = &trackWindow{
			cameraID: ev.CameraID,
			first:    ev.At,
			last:     ev.At,
			count:    1,
		}
		return nil
	}
	if ev.At.Before(w.first) {
		w.first = ev.At
	}
	if ev.At.After(w.last) {
		w.last = ev.At
	}
	w.count++
	return nil
}

// CloseTrack ends a track and enqueues a render of its observed window.
// Returns the enqueued (possibly deduplicated) job.
func (c *Collector) CloseTrack(trackRef string) (*domain.ExportJob, error) {
	c.mu.Lock()
	w, ok := c.windows[trackRef]
	if ok {
		delete(c.windows, trackRef)
	}
	c.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: no open track %q", domain.ErrNotFound, trackRef)
	}

	end := w.last
	if !end.After(w.first) {
		// A single observation still deserves a clip around its instant.
		end = w.first.Add(time.Second)
	}

	job, err := c.queue.Enqueue(domain.RenderRequest{
		CameraID:    w.cameraID,
		TrackRef:    trackRef,
		Kind:        c.kind,
		WindowStart: w.first,
		WindowEnd:   end,
	}, c.maxRetries, c.timeoutSeconds)
	if err != nil {
		return nil, fmt.Errorf("enqueue render for track %s: %w", trackRef, err)
	}
	logger.Info.Printf("track %s closed: %d observations on %s, enqueued job %s",
		trackRef, w.count, w.cameraID, job.ID)
	return job, nil
}

// OpenTracks reports how many tracks currently have an open window.
func (c *Collector) OpenTracks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows)
}
