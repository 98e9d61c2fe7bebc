package domain

import (
	"sort"
	"time"
)

// Excerpt is one contiguous cut from a single segment file.
type Excerpt struct {
	CameraID      string    `json:"camera_id"`
	SegmentID     string    `json:"segment_id"`
	SegmentPath   string    `json:"segment_path"`
	Start         time.Time `json:"clip_start_ts"`
	End           time.Time `json:"clip_end_ts"`
	OffsetSeconds float64   `json:"offset_start_sec"`
	DurationSec   float64   `json:"duration_sec"`
}

// BuildExcerpts intersects the requested window with every segment that
// overlaps it. Segments without footage inside the window are skipped.
func BuildExcerpts(segments []Segment, winStart, winEnd time.Time) []Excerpt {
	var excerpts []Excerpt
	for _, seg := range segments {
		start := winStart
		if seg.Start.After(start) {
			start = seg.Start
		}
		end := winEnd
		if seg.End.Before(end) {
			end = seg.End
		}
		if !end.After(start) {
			continue
		}

		offset := start.Sub(seg.Start).Seconds()
		if offset < 0 {
			offset = 0
		}
		excerpts = append(excerpts, Excerpt{
			CameraID:      seg.CameraID,
			SegmentID:     seg.ID,
			SegmentPath:   seg.Path,
			Start:         start,
			End:           end,
			OffsetSeconds: offset,
			DurationSec:   end.Sub(start).Seconds(),
		})
	}
	return excerpts
}

// MergeExcerpts joins excerpts from the same segment that are within
// gapSeconds of each other, then drops anything shorter than minSeconds.
func MergeExcerpts(excerpts []Excerpt, gapSeconds, minSeconds float64) []Excerpt {
	if len(excerpts) == 0 {
		return nil
	}
	if gapSeconds < 0 {
		gapSeconds = 0
	}
	if minSeconds < 0 {
		minSeconds = 0
	}

	ordered := make([]Excerpt, len(excerpts))
	copy(ordered, excerpts)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start.Before(ordered[j].Start) })

	var merged []Excerpt
	current := ordered[0]
	for _, next := range ordered[1:] {
		sameSegment := current.SegmentPath == next.SegmentPath
		contiguous := next.Start.Sub(current.End).Seconds() <= gapSeconds
		if sameSegment && contiguous {
			if next.End.After(current.End) {
				current.End = next.End
			}
			current.DurationSec = current.End.Sub(current.Start).Seconds()
			continue
		}
		if current.DurationSec >= minSeconds {
			merged = append(merged, current)
		}
		current = next
	}
	if current.DurationSec >= minSeconds {
		merged = append(merged, current)
	}
	return merged
}

// HighlightPlan picks excerpts for a short reel. Selection greedily
// maximizes clip length up to perClipSeconds while penalizing repeated
// cameras and repeated minute-of-day buckets, until targetSeconds of
// footage is collected. The result is in chronological order.
func HighlightPlan(excerpts []Excerpt, targetSeconds, perClipSeconds float64) []Excerpt {
	remaining := targetSeconds
	clipCap := perClipSeconds
	if clipCap < 0.1 {
		clipCap = 0.1
	}
	if remaining <= 0 || len(excerpts) == 0 {
		return nil
	}

	candidates := make([]Excerpt, len(excerpts))
	copy(candidates, excerpts)
	cameraCount := make(map[string]int)
	bucketCount := make(map[string]int)

	var selected []Excerpt
	for len(candidates) > 0 && remaining > 0 {
		bestIdx := -1
		bestScore := -1e9
		for idx, item := range candidates {
			bucket := item.Start.UTC().Format("200601021504")
			durationScore := item.DurationSec
			if durationScore > clipCap {
				durationScore = clipCap
			}
			score := durationScore/clipCap -
				float64(cameraCount[item.CameraID])*0.25 -
				float64(bucketCount[bucket])*0.15
			if score > bestScore {
				bestScore = score
				bestIdx = idx
			}
		}
		if bestIdx < 0 {
			break
		}

		item := candidates[bestIdx]
		candidates = append(candidates[:bestIdx], candidates[bestIdx+1:]...)

		take := item.DurationSec
		if take > clipCap {
			take = clipCap
		}
		if take > remaining {
			take = remaining
		}
		if take <= 0 {
			continue
		}

		bucket := item.Start.UTC().Format("200601021504")
		selected = append(selected, Excerpt{
			CameraID:      item.CameraID,
			SegmentID:     item.SegmentID,
			SegmentPath:   item.SegmentPath,
			Start:         item.Start,
			End:           item.Start.Add(time.Duration(take * float64(time.Second))),
			OffsetSeconds: item.OffsetSeconds,
			DurationSec:   take,
		})
		cameraCount[item.CameraID]++
		bucketCount[bucket]++
		remaining -= take
	}

	sort.Slice(selected, func(i, j int) bool { return selected[i].Start.Before(selected[j].Start) })
	return selected
}
