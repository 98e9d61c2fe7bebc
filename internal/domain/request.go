package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

type ClipKind string

const (
	ClipKindFull       ClipKind = "full"
	ClipKindHighlights ClipKind = "highlights"
)

// OptionsVersion is the current RenderOptions schema version. Requests
// carrying Version 0 predate versioning and receive the full default set.
const OptionsVersion = 1

// RenderOptions tunes one render. All defaulting lives in ApplyDefaults;
// callers never fill in missing values themselves.
type RenderOptions struct {
	Version         int     `json:"version"`
	PaddingSeconds  float64 `json:"padding_seconds"`
	MergeGapSeconds float64 `json:"merge_gap_seconds"`
	MinClipSeconds  float64 `json:"min_clip_seconds"`
	TargetSeconds   float64 `json:"target_seconds"`
	PerClipSeconds  float64 `json:"per_clip_seconds"`
}

func (o *RenderOptions) ApplyDefaults() {
	if o.Version == 0 {
		o.Version = OptionsVersion
	}
	if o.PaddingSeconds <= 0 {
		o.PaddingSeconds = 3.0
	}
	if o.MergeGapSeconds <= 0 {
		o.MergeGapSeconds = 0.2
	}
	if o.MinClipSeconds <= 0 {
		o.MinClipSeconds = 0.3
	}
	if o.TargetSeconds <= 0 {
		o.TargetSeconds = 30.0
	}
	if o.PerClipSeconds <= 0 {
		o.PerClipSeconds = 4.0
	}
}

// RenderRequest describes the footage window a producer wants rendered.
// TrackRef is a non-owning reference to the upstream track that triggered
// the request; it resolves against the ingestion side and is never a copy
// of its data.
type RenderRequest struct {
	CameraID    string        `json:"camera_id"`
	TrackRef    string        `json:"track_ref,omitempty"`
	Kind        ClipKind      `json:"kind"`
	WindowStart time.Time     `json:"window_start"`
	WindowEnd   time.Time     `json:"window_end"`
	Options     RenderOptions `json:"options"`
}

func (r RenderRequest) Validate() error {
	if r.CameraID == "" {
		return fmt.Errorf("%w: camera_id is required", ErrMalformedRequest)
	}
	switch r.Kind {
	case ClipKindFull, ClipKindHighlights:
	default:
		return fmt.Errorf("%w: kind must be one of: full, highlights", ErrMalformedRequest)
	}
	if r.WindowStart.IsZero() || r.WindowEnd.IsZero() {
		return fmt.Errorf("%w: window_start and window_end are required", ErrMalformedRequest)
	}
	if !r.WindowEnd.After(r.WindowStart) {
		return fmt.Errorf("%w: window_end must be after window_start", ErrMalformedRequest)
	}
	return nil
}

// DedupeKey derives a deterministic key from the request's defining
// parameters. Two submissions for the same camera, window and clip kind
// collapse onto one active job.
func (r RenderRequest) DedupeKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d",
		r.CameraID, r.Kind, r.WindowStart.UnixMilli(), r.WindowEnd.UnixMilli())
	return hex.EncodeToString(h.Sum(nil))[:32]
}
