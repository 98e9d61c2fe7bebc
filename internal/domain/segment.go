package domain

import "time"

// Segment is a recorded slice of one camera's footage on disk. Segments
// are produced by the capture pipeline; this subsystem only reads them.
type Segment struct {
	ID       string
	CameraID string
	Start    time.Time
	End      time.Time
	Path     string
	Codec    string
}

// TrackObservation is one detection event from the upstream tracking
// pipeline: a box seen on a camera at an instant, optionally resolved to
// a known animal.
type TrackObservation struct {
	ID         string
	TrackRef   string
	CameraID   string
	At         time.Time
	BBox       [4]float64
	Confidence float64
	Identity   string
}
