package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pawhaus/kennelcam/internal/domain"
	"github.com/pawhaus/kennelcam/internal/port"
)

// SegmentStore persists recorded footage metadata and raw track
// observations. The renderer reads segments; the ingestion pipeline
// writes both.
type SegmentStore struct {
	db *sql.DB
}

func NewSegmentStore(store *Store) *SegmentStore {
	return &SegmentStore{db: store.db}
}

func (s *SegmentStore) SaveSegment(seg domain.Segment) error {
	var endMS sql.NullInt64
	if !seg.End.IsZero() {
		endMS = sql.NullInt64{Int64: seg.End.UnixMilli(), Valid: true}
	}
	_, err := s.db.Exec(
		`INSERT INTO media_segments (segment_id, camera_id, start_ms, end_ms, path, codec)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (segment_id) DO UPDATE SET end_ms = excluded.end_ms`,
		seg.ID, seg.CameraID, seg.Start.UnixMilli(), endMS, seg.Path, seg.Codec,
	)
	if err != nil {
		return fmt.Errorf("save segment: %w", err)
	}
	return nil
}

func (s *SegmentStore) ListOverlapping(cameraID string, start, end time.Time) ([]domain.Segment, error) {
	rows, err := s.db.Query(
		`SELECT segment_id, camera_id, start_ms, end_ms, path, codec
		 FROM media_segments
		 WHERE camera_id = ?
		   AND end_ms IS NOT NULL
		   AND start_ms <= ?
		   AND end_ms >= ?
		 ORDER BY start_ms ASC`,
		cameraID, end.UnixMilli(), start.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var segments []domain.Segment
	for rows.Next() {
		var seg domain.Segment
		var startMS int64
		var endMS sql.NullInt64
		if err := rows.Scan(&seg.ID, &seg.CameraID, &startMS, &endMS, &seg.Path, &seg.Codec); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.Start = msTime(startMS)
		if endMS.Valid {
			seg.End = msTime(endMS.Int64)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

func (s *SegmentStore) SaveObservation(obs domain.TrackObservation) error {
	_, err := s.db.Exec(
		`INSERT INTO track_observations (
			observation_id, track_ref, camera_id, ts_ms,
			bbox_x1, bbox_y1, bbox_x2, bbox_y2, confidence, identity
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.ID, obs.TrackRef, obs.CameraID, obs.At.UnixMilli(),
		obs.BBox[0], obs.BBox[1], obs.BBox[2], obs.BBox[3],
		obs.Confidence, obs.Identity,
	)
	if err != nil {
		return fmt.Errorf("save observation: %w", err)
	}
	return nil
}

var _ port.SegmentStore = (*SegmentStore)(nil)
