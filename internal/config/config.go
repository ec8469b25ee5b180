// Package config holds the viper-backed configuration singleton.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Call once at
// application startup.
//
// Precedence: command-line flags > environment (IMDBMART_*) > config file >
// defaults. The config file is .imdbmart/config.yaml, searched from the
// current directory upward, then in the user config directory.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".imdbmart", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "imdbmart", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
			}
		}
	}

	// Environment variables take precedence over the config file, e.g.
	// IMDBMART_DB, IMDBMART_BULK_SIZE, IMDBMART_DATASET_FOLDER.
	v.SetEnvPrefix("IMDBMART")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("db", "imdb.db")
	v.SetDefault("bulk-size", 1024)
	v.SetDefault("drop-tables", false)
	v.SetDefault("dataset-folder", ".")
	v.SetDefault("progress-interval", 1000000)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-file", "")

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return err
		}
	}
	return nil
}

// BindFlag lets a command-line flag override the config key when set.
func BindFlag(key string, flag *pflag.Flag) error {
	return v.BindPFlag(key, flag)
}

// EngineInfo is the database connection string or local SQLite file path.
func EngineInfo() string { return v.GetString("db") }

// BulkSize caps the number of rows per bulk insert.
func BulkSize() int { return v.GetInt("bulk-size") }

// DropTables reports whether the schema is dropped before being created.
func DropTables() bool { return v.GetBool("drop-tables") }

// DatasetFolder is the directory holding the dataset dump files.
func DatasetFolder() string { return v.GetString("dataset-folder") }

// ProgressInterval is the reader progress callback interval in rows.
func ProgressInterval() int { return v.GetInt("progress-interval") }

// LogLevel is one of debug, info, warn, error.
func LogLevel() string { return v.GetString("log-level") }

// LogFile is the rotated log file path; empty logs to stderr only.
func LogFile() string { return v.GetString("log-file") }
