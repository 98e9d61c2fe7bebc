package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pawhaus/kennelcam/internal/domain"
	"github.com/pawhaus/kennelcam/internal/port"
)

// Renderer produces the delivered clip for one claimed job: it plans the
// excerpts against recorded segments, cuts each part, concatenates them,
// and writes a manifest next to the video. All intermediate files live
// in a per-attempt scratch directory that is removed on every exit path.
type Renderer struct {
	bin       string
	exportDir string
	segments  port.SegmentSource
}

func NewRenderer(bin, exportDir string, segments port.SegmentSource) *Renderer {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Renderer{bin: bin, exportDir: exportDir, segments: segments}
}

func (r *Renderer) Render(ctx context.Context, job *domain.ExportJob) (string, string, error) {
	req := job.Request
	opts := req.Options
	opts.ApplyDefaults()

	ctx, cancel := context.WithTimeout(ctx, job.Timeout())
	defer cancel()

	pad := time.Duration(opts.PaddingSeconds * float64(time.Second))
	winStart := req.WindowStart.Add(-pad)
	winEnd := req.WindowEnd.Add(pad)

	segments, err := r.segments.ListOverlapping(req.CameraID, winStart, winEnd)
	if err != nil {
		return "", "", fmt.Errorf("list segments: %w", err)
	}

	excerpts := domain.BuildExcerpts(segments, winStart, winEnd)
	excerpts = domain.MergeExcerpts(excerpts, opts.MergeGapSeconds, opts.MinClipSeconds)
	if req.Kind == domain.ClipKindHighlights {
		excerpts = domain.HighlightPlan(excerpts, opts.TargetSeconds, opts.PerClipSeconds)
	}
	if len(excerpts) == 0 {
		return "", "", fmt.Errorf("no footage overlaps the requested window on %s", req.CameraID)
	}

	videosDir := filepath.Join(r.exportDir, "videos")
	manifestsDir := filepath.Join(r.exportDir, "manifests")
	for _, dir := range []string{videosDir, manifestsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", "", fmt.Errorf("create export dir: %w", err)
		}
	}

	workDir, err := os.MkdirTemp(videosDir, job.ID+"_parts_")
	if err != nil {
		return "", "", fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	var parts []string
	for i, ex := range excerpts {
		if _, err := os.Stat(ex.SegmentPath); err != nil {
			continue // segment file gone, skip like any missing source
		}
		part := filepath.Join(workDir, fmt.Sprintf("part_%04d.mp4", i))
		args := []string{
			"-y",
			"-ss", fmt.Sprintf("%.3f", ex.OffsetSeconds),
			"-i", ex.SegmentPath,
			"-t", fmt.Sprintf("%.3f", ex.DurationSec),
			"-an",
			"-c:v", "libx264",
			"-preset", "veryfast",
			"-crf", "24",
			part,
		}
		if err := r.run(ctx, args); err != nil {
			return "", "", err
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "", "", errors.New("no valid segment files found to render")
	}

	listPath := filepath.Join(workDir, "concat.txt")
	var list strings.Builder
	for _, part := range parts {
		fmt.Fprintf(&list, "file '%s'\n", part)
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0644); err != nil {
		return "", "", fmt.Errorf("write concat list: %w", err)
	}

	outputPath := filepath.Join(videosDir, job.ID+".mp4")
	concatArgs := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outputPath,
	}
	if err := r.run(ctx, concatArgs); err != nil {
		_ = os.Remove(outputPath)
		return "", "", err
	}

	manifestPath, err := r.writeManifest(manifestsDir, job, excerpts)
	if err != nil {
		_ = os.Remove(outputPath)
		return "", "", err
	}
	return outputPath, manifestPath, nil
}

// run executes one ffmpeg invocation under ctx. When the attempt's
// deadline expires the process is killed and the error reports a render
// timeout, which the caller treats as retryable like any other failure.
func (r *Renderer) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, r.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s killed by deadline", domain.ErrRenderTimeout, r.bin)
	}
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		msg = err.Error()
	}
	return fmt.Errorf("%s: %s", r.bin, msg)
}

type manifest struct {
	JobID       string           `json:"job_id"`
	CameraID    string           `json:"camera_id"`
	TrackRef    string           `json:"track_ref,omitempty"`
	Kind        domain.ClipKind  `json:"kind"`
	WindowStart time.Time        `json:"window_start"`
	WindowEnd   time.Time        `json:"window_end"`
	CreatedAt   time.Time        `json:"created_at"`
	Excerpts    []domain.Excerpt `json:"excerpts"`
}

func (r *Renderer) writeManifest(dir string, job *domain.ExportJob, excerpts []domain.Excerpt) (string, error) {
	payload := manifest{
		JobID:       job.ID,
		CameraID:    job.Request.CameraID,
		TrackRef:    job.Request.TrackRef,
		Kind:        job.Request.Kind,
		WindowStart: job.Request.WindowStart,
		WindowEnd:   job.Request.WindowEnd,
		CreatedAt:   time.Now().UTC(),
		Excerpts:    excerpts,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}
	path := filepath.Join(dir, job.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	return path, nil
}

var _ port.ClipRenderer = (*Renderer)(nil)
