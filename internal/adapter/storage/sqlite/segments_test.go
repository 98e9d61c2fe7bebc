package sqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawhaus/kennelcam/internal/domain"
)

func newTestSegmentStore(t *testing.T) *SegmentStore {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewSegmentStore(store)
}

func TestSegmentStore_ListOverlapping(t *testing.T) {
	s := newTestSegmentStore(t)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveSegment(domain.Segment{
		ID: "s1", CameraID: "cam-a", Start: base, End: base.Add(time.Minute), Path: "/m/s1.mp4",
	}))
	require.NoError(t, s.SaveSegment(domain.Segment{
		ID: "s2", CameraID: "cam-a", Start: base.Add(time.Minute), End: base.Add(2 * time.Minute), Path: "/m/s2.mp4",
	}))
	require.NoError(t, s.SaveSegment(domain.Segment{
		ID: "other-camera", CameraID: "cam-b", Start: base, End: base.Add(time.Minute), Path: "/m/s3.mp4",
	}))
	// Still being written: no end yet, must never be offered for render.
	require.NoError(t, s.SaveSegment(domain.Segment{
		ID: "open", CameraID: "cam-a", Start: base.Add(2 * time.Minute), Path: "/m/open.mp4",
	}))

	segments, err := s.ListOverlapping("cam-a", base.Add(30*time.Second), base.Add(90*time.Second))
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, "s1", segments[0].ID, "ordered by start")
	assert.Equal(t, "s2", segments[1].ID)
}

func TestSegmentStore_SaveSegment_ClosesOpenSegment(t *testing.T) {
	s := newTestSegmentStore(t)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	seg := domain.Segment{ID: "s1", CameraID: "cam-a", Start: base, Path: "/m/s1.mp4"}
	require.NoError(t, s.SaveSegment(seg))

	segments, err := s.ListOverlapping("cam-a", base, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, segments, "open segment is invisible")

	seg.End = base.Add(time.Minute)
	require.NoError(t, s.SaveSegment(seg))

	segments, err = s.ListOverlapping("cam-a", base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, seg.End, segments[0].End)
}

func TestSegmentStore_SaveObservation(t *testing.T) {
	s := newTestSegmentStore(t)

	err := s.SaveObservation(domain.TrackObservation{
		ID:         "obs-1",
		TrackRef:   "gt-1",
		CameraID:   "cam-a",
		At:         time.Now().UTC(),
		BBox:       [4]float64{10, 20, 110, 220},
		Confidence: 0.92,
		Identity:   "animal-7",
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, s.db.QueryRow(
		`SELECT COUNT(*) FROM track_observations WHERE track_ref = 'gt-1'`).Scan(&count))
	assert.Equal(t, 1, count)
}
