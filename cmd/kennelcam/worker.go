package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pawhaus/kennelcam/config"
	"github.com/pawhaus/kennelcam/internal/adapter/renderer/ffmpeg"
	"github.com/pawhaus/kennelcam/internal/adapter/storage/sqlite"
	"github.com/pawhaus/kennelcam/internal/infrastructure/logger"
	"github.com/pawhaus/kennelcam/internal/service"
)

func newWorkerCmd(cfg *config.Config) *cobra.Command {
	var workers int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run dispatcher workers that claim and render export jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workers > 0 {
				cfg.Workers = workers
			}
			if cfg.Workers <= 0 {
				return fmt.Errorf("worker count must be positive, got %d", cfg.Workers)
			}

			store, jobs, err := openStores(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = store.Close() }()

			segments := sqlite.NewSegmentStore(store)
			renderer := ffmpeg.NewRenderer(cfg.FFmpegBin, cfg.ExportDir, segments)
			bus := service.NewEventBus()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			// Operator-facing event log across all workers.
			events := bus.SubscribeAll()
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case ev := <-events:
						if ev.Message != "" {
							logger.Info.Printf("event: job %s %s (%s): %s", ev.JobID, ev.Type, ev.Status, ev.Message)
							continue
						}
						logger.Info.Printf("event: job %s %s (%s)", ev.JobID, ev.Type, ev.Status)
					}
				}
			}()

			var wg sync.WaitGroup
			for i := 1; i <= cfg.Workers; i++ {
				d := service.NewDispatcher(jobs, renderer, bus,
					service.WorkerID(fmt.Sprintf("w%d", i)), cfg.PollInterval)
				wg.Add(1)
				go func() {
					defer wg.Done()
					d.Run(ctx)
				}()
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				service.RunReaper(ctx, jobs, cfg.ReapInterval, cfg.ReapGrace)
			}()

			// Graceful shutdown: stop claiming, let in-flight renders finish.
			go func() {
				sigChan := make(chan os.Signal, 1)
				signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
				sig := <-sigChan
				logger.Info.Printf("received %s, shutting down", sig)
				cancel()
			}()

			logger.Info.Printf("running %d workers (data=%s exports=%s)",
				cfg.Workers, cfg.DataDir, cfg.ExportDir)
			wg.Wait()
			logger.Info.Printf("shutdown complete")
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 0, "number of dispatcher goroutines (overrides WORKERS)")
	return cmd
}
