package port

import (
	"time"

	"github.com/pawhaus/kennelcam/internal/domain"
)

// SegmentSource resolves recorded footage overlapping a time range on
// one camera, ordered by segment start. Only closed segments (with a
// known end) are returned.
type SegmentSource interface {
	ListOverlapping(cameraID string, start, end time.Time) ([]domain.Segment, error)
}

// SegmentStore is the write side used by the capture/ingestion pipeline.
type SegmentStore interface {
	SegmentSource
	SaveSegment(seg domain.Segment) error
	SaveObservation(obs domain.TrackObservation) error
}
