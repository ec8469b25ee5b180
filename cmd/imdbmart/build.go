package main

import (
	"github.com/spf13/cobra"
	"github.com/untoldecay/imdbmart/internal/config"
	"github.com/untoldecay/imdbmart/internal/storage"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the normalized report schema from the staging tables",
	Long: `Build every report table from the staging tables in dependency
order: key tables interning small string domains, entity tables with
surrogate ids, and ordered relation tables preserving source list order.
Each table is rebuilt from scratch inside its own transaction.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
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
		if err := db.CreateReportTables(ctx); err != nil {
			return err
		}

		builder := storage.NewBuilder(db, config.BulkSize(), logger)
		return builder.BuildAll(ctx)
	},
}
