package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pawhaus/kennelcam/config"
	"github.com/pawhaus/kennelcam/internal/domain"
)

func newEnqueueCmd(cfg *config.Config) *cobra.Command {
	var (
		camera     string
		trackRef   string
		kind       string
		from       string
		to         string
		maxRetries int
		timeoutSec int
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit a render request to the export queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			windowStart, err := time.Parse(time.RFC3339, from)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			windowEnd, err := time.Parse(time.RFC3339, to)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}
			if maxRetries < 0 {
				maxRetries = cfg.DefaultMaxRetries
			}
			if timeoutSec <= 0 {
				timeoutSec = cfg.DefaultTimeoutSeconds
			}

			store, jobs, err := openStores(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = store.Close() }()

			job, err := jobs.Enqueue(domain.RenderRequest{
				CameraID:    camera,
				TrackRef:    trackRef,
				Kind:        domain.ClipKind(kind),
				WindowStart: windowStart,
				WindowEnd:   windowEnd,
			}, maxRetries, timeoutSec)
			if err != nil {
				return err
			}

			fmt.Printf("job %s  status=%s  camera=%s  kind=%s  window=%s..%s\n",
				job.ID, job.Status, job.Request.CameraID, job.Request.Kind,
				job.Request.WindowStart.Format(time.RFC3339),
				job.Request.WindowEnd.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&camera, "camera", "", "camera id (required)")
	cmd.Flags().StringVar(&trackRef, "track", "", "upstream track reference")
	cmd.Flags().StringVar(&kind, "kind", string(domain.ClipKindFull), "clip kind: full or highlights")
	cmd.Flags().StringVar(&from, "from", "", "window start, RFC3339 (required)")
	cmd.Flags().StringVar(&to, "to", "", "window end, RFC3339 (required)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", -1, "automatic retry budget (default from config)")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "render timeout in seconds (default from config)")
	_ = cmd.MarkFlagRequired("camera")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
