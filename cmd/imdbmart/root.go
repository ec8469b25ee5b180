package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/untoldecay/imdbmart/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger *slog.Logger

var rootCmd = &cobra.Command{
	Use:   "imdbmart",
	Short: "Build a relational data mart from the IMDb dataset dumps",
	Long: `imdbmart ingests the publicly published IMDb dataset dumps (gzip
compressed tab-separated files) into staging tables mirroring the files,
then builds a normalized report schema with surrogate keys suitable for
analytic SQL.

Typical usage:
  imdbmart download all        # fetch the six dumps
  imdbmart transfer all        # load them into staging tables
  imdbmart build               # build the report schema`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		for _, key := range []string{
			"db", "bulk-size", "drop-tables", "dataset-folder",
			"progress-interval", "log-level", "log-file",
		} {
			if flag := cmd.Flags().Lookup(key); flag != nil {
				if err := config.BindFlag(key, flag); err != nil {
					return err
				}
			}
		}
		return setupLogging()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("db", "d", "imdb.db", "database to connect to: a SQLite file path or a sqlite:// / postgres:// URL")
	flags.IntP("bulk-size", "b", 1024, "number of rows collected before they are flushed to the database")
	flags.Bool("drop-tables", false, "drop and recreate all tables before running")
	flags.StringP("dataset-folder", "f", ".", "folder holding the dataset dump files")
	flags.Int("progress-interval", 1000000, "log progress every this many rows")
	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-file", "", "also write logs to this rotated file")

	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(versionCmd)
}

func setupLogging() error {
	var level slog.Level
	switch config.LogLevel() {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q (use debug, info, warn or error)", config.LogLevel())
	}

	var output io.Writer = os.Stderr
	if logFile := config.LogFile(); logFile != "" {
		output = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
		})
	}
	logger = slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}
