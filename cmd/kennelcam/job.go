package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pawhaus/kennelcam/config"
	"github.com/pawhaus/kennelcam/internal/domain"
)

func newJobCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and manage export jobs",
	}
	cmd.AddCommand(
		newJobGetCmd(cfg),
		newJobListCmd(cfg),
		newJobCancelCmd(cfg),
		newJobRetryCmd(cfg),
	)
	return cmd
}

func newJobGetCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job's full state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, jobs, err := openStores(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = store.Close() }()

			job, err := jobs.Get(args[0])
			if err != nil {
				return err
			}
			printJob(job)
			return nil
		},
	}
}

func newJobListCmd(cfg *config.Config) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, jobs, err := openStores(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = store.Close() }()

			list, err := jobs.List(limit)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("no jobs")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tCAMERA\tKIND\tRETRIES\tCREATED")
			for _, job := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\n",
					job.ID, job.Status, job.Request.CameraID, job.Request.Kind,
					job.RetryCount, job.MaxRetries,
					job.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs to show")
	return cmd
}

func newJobCancelCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, jobs, err := openStores(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = store.Close() }()

			if err := jobs.Cancel(args[0]); err != nil {
				return err
			}
			fmt.Printf("job %s canceled\n", args[0])
			return nil
		},
	}
}

func newJobRetryCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a failed or canceled job with a fresh retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, jobs, err := openStores(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer func() { _ = store.Close() }()

			if err := jobs.Retry(args[0]); err != nil {
				return err
			}
			fmt.Printf("job %s requeued\n", args[0])
			return nil
		},
	}
}

func printJob(job *domain.ExportJob) {
	fmt.Printf("id:           %s\n", job.ID)
	fmt.Printf("status:       %s\n", job.Status)
	fmt.Printf("camera:       %s\n", job.Request.CameraID)
	if job.Request.TrackRef != "" {
		fmt.Printf("track:        %s\n", job.Request.TrackRef)
	}
	fmt.Printf("kind:         %s\n", job.Request.Kind)
	fmt.Printf("window:       %s .. %s\n",
		job.Request.WindowStart.Format(time.RFC3339),
		job.Request.WindowEnd.Format(time.RFC3339))
	fmt.Printf("retries:      %d/%d\n", job.RetryCount, job.MaxRetries)
	fmt.Printf("timeout:      %ds\n", job.TimeoutSeconds)
	fmt.Printf("created:      %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.NextRunAt != nil {
		fmt.Printf("next run:     %s\n", job.NextRunAt.Format(time.RFC3339))
	}
	if job.OwningWorker != "" {
		fmt.Printf("worker:       %s\n", job.OwningWorker)
	}
	if job.StartedAt != nil {
		fmt.Printf("started:      %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.FinishedAt != nil {
		fmt.Printf("finished:     %s\n", job.FinishedAt.Format(time.RFC3339))
	}
	if job.CanceledAt != nil {
		fmt.Printf("canceled:     %s\n", job.CanceledAt.Format(time.RFC3339))
	}
	if job.ErrorMessage != "" {
		fmt.Printf("last error:   %s\n", job.ErrorMessage)
	}
	if job.OutputPath != "" {
		fmt.Printf("output:       %s\n", job.OutputPath)
	}
	if job.ManifestPath != "" {
		fmt.Printf("manifest:     %s\n", job.ManifestPath)
	}
}
