package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BaseURL is where IMDb publishes the dataset dumps.
const BaseURL = "https://datasets.imdbws.com"

// lastModifiedFilename caches the Last-Modified header per URL so unchanged
// dumps are not downloaded again.
const lastModifiedFilename = ".imdbmart_last_modified.json"

// Downloader fetches dataset dumps into a target folder.
type Downloader struct {
	// Client defaults to http.DefaultClient.
	Client *http.Client
	// BaseURL defaults to the public IMDb dataset host.
	BaseURL string
	// OnlyIfNewer skips downloads whose Last-Modified header matches the
	// cached value from a previous run.
	OnlyIfNewer bool
	Logger      *slog.Logger
}

// Download fetches the dump for name into folder, retrying transient
// failures with exponential backoff.
func (d *Downloader) Download(name Name, folder string) error {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	baseURL := d.BaseURL
	if baseURL == "" {
		baseURL = BaseURL
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sourceURL := baseURL + "/" + name.Filename()
	targetPath := filepath.Join(folder, name.Filename())

	var lastModified *lastModifiedMap
	if d.OnlyIfNewer {
		lastModified = loadLastModifiedMap(filepath.Join(folder, lastModifiedFilename), logger)
	}

	operation := func() error {
		return d.downloadOnce(client, logger, sourceURL, targetPath, name, lastModified)
	}
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 2 * time.Minute
	return backoff.Retry(operation, policy)
}

func (d *Downloader) downloadOnce(
	client *http.Client, logger *slog.Logger, sourceURL, targetPath string, name Name, lastModified *lastModifiedMap,
) error {
	response, err := client.Get(sourceURL)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode >= 500 {
		return fmt.Errorf("GET %s: %s", sourceURL, response.Status)
	}
	if response.StatusCode != http.StatusOK {
		// Client errors will not heal on retry.
		return backoff.Permanent(fmt.Errorf("GET %s: %s", sourceURL, response.Status))
	}

	currentLastModified := response.Header.Get("Last-Modified")
	if lastModified != nil && !lastModified.isChanged(sourceURL, currentLastModified) {
		logger.Info("dataset is up to date, skipping download", "dataset", string(name), "url", sourceURL)
		return nil
	}

	logger.Info("downloading dataset", "url", sourceURL, "target", targetPath,
		"size", response.Header.Get("Content-Length"))
	target, err := os.Create(targetPath)
	if err != nil {
		return backoff.Permanent(err)
	}
	if _, err := io.Copy(target, response.Body); err != nil {
		target.Close()
		os.Remove(targetPath)
		return fmt.Errorf("downloading %s: %w", sourceURL, err)
	}
	if err := target.Close(); err != nil {
		return backoff.Permanent(err)
	}

	if lastModified != nil {
		lastModified.update(sourceURL, currentLastModified)
		if err := lastModified.write(); err != nil {
			logger.Warn("cannot write last modified map", "path", lastModified.path, "error", err)
		}
	}
	return nil
}

// lastModifiedMap persists URL → Last-Modified header values as JSON.
type lastModifiedMap struct {
	path   string
	values map[string]string
}

func loadLastModifiedMap(path string, logger *slog.Logger) *lastModifiedMap {
	result := &lastModifiedMap{path: path, values: map[string]string{}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		// Nothing cached yet, every download proceeds.
		return result
	}
	if err != nil {
		logger.Warn("cannot read last modified map, enforcing downloads", "path", path, "error", err)
		return result
	}
	if err := json.Unmarshal(data, &result.values); err != nil {
		logger.Warn("cannot parse last modified map, enforcing downloads", "path", path, "error", err)
		result.values = map[string]string{}
	}
	return result
}

func (m *lastModifiedMap) isChanged(url, currentLastModified string) bool {
	return m.values[url] != currentLastModified || currentLastModified == ""
}

func (m *lastModifiedMap) update(url, lastModified string) {
	m.values[url] = lastModified
}

func (m *lastModifiedMap) write() error {
	data, err := json.Marshal(m.values)
	if err != nil {
		return err
	}
	return os.WriteFile(m.path, data, 0o644)
}
