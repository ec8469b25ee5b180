package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"
	"github.com/untoldecay/imdbmart/internal/config"
	"github.com/untoldecay/imdbmart/internal/dataset"
	"github.com/untoldecay/imdbmart/internal/storage"
	"golang.org/x/term"
)

// lockFilename serializes concurrent transfer/build runs against the same
// dataset folder.
const lockFilename = ".imdbmart.lock"

var transferCmd = &cobra.Command{
	Use:   "transfer NAME...",
	Short: "Transfer downloaded dataset dumps into staging tables",
	Long: `Load the named dataset dumps from the dataset folder into staging
tables mirroring the files. Each file is loaded in a single transaction:
the staging table is cleared, rows are de-duplicated by natural key,
coerced and bulk-inserted, then committed.

NAME is a dataset name such as title.basics, or "all" for every dataset
(in which case it must be the only NAME).`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := dataset.ResolveNames(args)
		if err != nil {
			return err
		}

		unlock, err := acquireLock(config.DatasetFolder())
		if err != nil {
			return err
		}
		defer unlock()

		ctx := cmd.Context()
		db, err := storage.Open(ctx, config.EngineInfo())
		if err != nil {
			return err
		}
		defer db.Close()

		if config.DropTables() {
			if err := db.DropAllTables(ctx); err != nil {
				return err
			}
		}
		if err := db.CreateStagingTables(ctx); err != nil {
			return err
		}

		loader := &storage.Loader{
			DB:               db,
			BulkSize:         config.BulkSize(),
			Progress:         progressFunc(),
			ProgressInterval: config.ProgressInterval(),
			Logger:           logger,
		}
		if err := loader.LoadAll(ctx, config.DatasetFolder(), names); err != nil {
			return err
		}
		if loader.Coercer.NullWarningCount > 0 {
			logger.Warn("substituted zero values for null sentinels in non-null columns",
				"count", loader.Coercer.NullWarningCount)
		}
		return nil
	},
}

// progressFunc logs progress; on a terminal it additionally rewrites an
// in-place progress line.
func progressFunc() dataset.ProgressFunc {
	isTTY := term.IsTerminal(int(os.Stderr.Fd()))
	return func(rowCount, duplicateCount int) {
		if isTTY {
			fmt.Fprintf(os.Stderr, "\r  processed %d rows, ignored %d duplicates ", rowCount, duplicateCount)
			return
		}
		if duplicateCount == 0 {
			logger.Info("processed rows", "rows", rowCount)
		} else {
			logger.Info("processed rows", "rows", rowCount, "duplicates", duplicateCount)
		}
	}
}

func acquireLock(folder string) (func(), error) {
	lock := flock.New(filepath.Join(folder, lockFilename))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another imdbmart run is in progress in %q", folder)
	}
	return func() { _ = lock.Unlock() }, nil
}
