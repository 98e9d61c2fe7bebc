package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/pawhaus/kennelcam/config"
	"github.com/pawhaus/kennelcam/internal/adapter/storage/sqlite"
	"github.com/pawhaus/kennelcam/internal/backoff"
	"github.com/pawhaus/kennelcam/internal/infrastructure/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error.Printf("failed to load config: %v", err)
		os.Exit(1)
	}

	root := &cobra.Command{
		Use:           "kennelcam",
		Short:         "Export and render queue for kennel camera footage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newWorkerCmd(cfg),
		newEnqueueCmd(cfg),
		newJobCmd(cfg),
		newIngestCmd(cfg),
	)

	if err := root.Execute(); err != nil {
		logger.Error.Printf("%v", err)
		os.Exit(1)
	}
}

// openStores opens the shared database and builds the job store on top.
// Callers own closing the returned Store.
func openStores(cfg *config.Config) (*sqlite.Store, *sqlite.JobStore, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, err
	}
	store, err := sqlite.NewStore(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	policy := backoff.NewPolicy(cfg.BackoffBase, cfg.BackoffMax, 2.0)
	return store, sqlite.NewJobStore(store, policy), nil
}
