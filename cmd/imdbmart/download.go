package main

import (
	"github.com/spf13/cobra"
	"github.com/untoldecay/imdbmart/internal/config"
	"github.com/untoldecay/imdbmart/internal/dataset"
)

var downloadCmd = &cobra.Command{
	Use:   "download NAME...",
	Short: "Download IMDb dataset dumps",
	Long: `Download the named IMDb dataset dumps into the dataset folder.

NAME is a dataset name such as title.basics, or "all" for every dataset
(in which case it must be the only NAME). Dumps whose Last-Modified header
matches the previous download are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := dataset.ResolveNames(args)
		if err != nil {
			return err
		}
		force, _ := cmd.Flags().GetBool("force")

		downloader := &dataset.Downloader{
			OnlyIfNewer: !force,
			Logger:      logger,
		}
		for _, name := range names {
			if err := downloader.Download(name, config.DatasetFolder()); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	downloadCmd.Flags().Bool("force", false, "download even when the dump is unchanged")
}
