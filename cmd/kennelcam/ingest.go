package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pawhaus/kennelcam/config"
	"github.com/pawhaus/kennelcam/internal/adapter/storage/sqlite"
	"github.com/pawhaus/kennelcam/internal/domain"
	"github.com/pawhaus/kennelcam/internal/ingest"
)

// wireEvent is the NDJSON shape accepted on stdin, one event per line.
type wireEvent struct {
	CameraID   string     `json:"camera_id"`
	TrackRef   string     `json:"track_ref"`
	At         time.Time  `json:"at"`
	BBox       [4]float64 `json:"bbox"`
	Confidence float64    `json:"confidence"`
	Identity   string     `json:"identity,omitempty"`
}

func newIngestCmd(cfg *config.Config) *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Read track events from stdin and enqueue renders per track",
		Long: "Reads newline-delimited JSON track events from stdin, persists each\n" +
			"observation, and enqueues one render job per track when the stream ends.",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, jobs, err := openStores(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = store.Close() }()

			collector := ingest.NewCollector(
				sqlite.NewSegmentStore(store), jobs,
				domain.ClipKind(kind), cfg.DefaultMaxRetries, cfg.DefaultTimeoutSeconds)

			var tracks []string
			seen := make(map[string]bool)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			line := 0
			for scanner.Scan() {
				line++
				raw := scanner.Bytes()
				if len(raw) == 0 {
					continue
				}
				var ev wireEvent
				if err := json.Unmarshal(raw, &ev); err != nil {
					return fmt.Errorf("line %d: %w", line, err)
				}
				if err := collector.Observe(ingest.TrackEvent(ev)); err != nil {
					return fmt.Errorf("line %d: %w", line, err)
				}
				if !seen[ev.TrackRef] {
					seen[ev.TrackRef] = true
					tracks = append(tracks, ev.TrackRef)
				}
			}
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read events: %w", err)
			}

			for _, trackRef := range tracks {
				job, err := collector.CloseTrack(trackRef)
				if err != nil {
					fmt.Fprintf(os.Stderr, "track %s: %v\n", trackRef, err)
					continue
				}
				fmt.Printf("track %s -> job %s (%s)\n", trackRef, job.ID, job.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(domain.ClipKindHighlights), "clip kind for enqueued renders")
	return cmd
}
