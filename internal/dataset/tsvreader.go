package dataset

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxLineBytes bounds a single TSV line. The longest observed IMDb rows are
// well under 64 KiB; anything bigger indicates a corrupt download.
const maxLineBytes = 1 << 20

// ProgressFunc is invoked periodically while reading with the number of rows
// processed so far and the number of duplicate rows dropped.
type ProgressFunc func(rowCount, duplicateCount int)

// TSVReader streams rows from a gzip-compressed tab-separated file with a
// header line. It is a forward-only reader: rows are consumed exactly once
// and there is no rewind.
//
// When key columns are given, a row whose key tuple was already emitted is
// silently dropped. The dedup set is held in memory; IMDb keys are short
// fixed-width strings so this stays within a few hundred MB even for the
// largest dumps.
type TSVReader struct {
	path             string
	file             *os.File
	gz               *gzip.Reader
	scanner          *bufio.Scanner
	columns          []string
	keyIndexes       []int
	seenKeys         map[string]bool
	rowNumber        int
	duplicateCount   int
	progress         ProgressFunc
	progressInterval int
}

// NewTSVReader opens path and reads the header line. keyColumns names the
// natural-key columns used for de-duplication; empty means no dedup.
// progress may be nil.
func NewTSVReader(path string, keyColumns []string, progress ProgressFunc, progressInterval int) (*TSVReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: cannot open gzip stream: %w", path, err)
	}
	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	if !scanner.Scan() {
		err := scanner.Err()
		gz.Close()
		file.Close()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%s: cannot read header line: %w", path, err)
	}
	columns := strings.Split(scanner.Text(), "\t")

	reader := &TSVReader{
		path:             path,
		file:             file,
		gz:               gz,
		scanner:          scanner,
		columns:          columns,
		progress:         progress,
		progressInterval: progressInterval,
	}
	if len(keyColumns) > 0 {
		reader.seenKeys = make(map[string]bool)
		for _, keyColumn := range keyColumns {
			index := -1
			for i, column := range columns {
				if column == keyColumn {
					index = i
					break
				}
			}
			if index < 0 {
				gz.Close()
				file.Close()
				return nil, fmt.Errorf("%s: key column %q not found in header %v", path, keyColumn, columns)
			}
			reader.keyIndexes = append(reader.keyIndexes, index)
		}
	}
	return reader, nil
}

// Columns returns the column names from the header line.
func (r *TSVReader) Columns() []string {
	return r.columns
}

// RowNumber is the 1-based number of the most recently read data row.
func (r *TSVReader) RowNumber() int {
	return r.rowNumber
}

// DuplicateCount is the number of rows dropped because their key tuple was
// already seen.
func (r *TSVReader) DuplicateCount() int {
	return r.duplicateCount
}

// Next returns the next row as a map from column name to raw string value.
// The null sentinel `\N` is passed through untouched; empty strings stay
// empty. Next returns io.EOF once the file is exhausted.
func (r *TSVReader) Next() (map[string]string, error) {
	for {
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return nil, fmt.Errorf("%s (%d): %w", r.path, r.rowNumber+1, err)
			}
			return nil, io.EOF
		}
		r.rowNumber++
		fields := strings.Split(r.scanner.Text(), "\t")
		if len(fields) != len(r.columns) {
			return nil, fmt.Errorf("%s (%d): row must have %d fields separated by tabs but has %d",
				r.path, r.rowNumber, len(r.columns), len(fields))
		}

		if r.seenKeys != nil {
			key := r.keyOf(fields)
			if r.seenKeys[key] {
				r.duplicateCount++
				r.maybeReportProgress()
				continue
			}
			r.seenKeys[key] = true
		}

		row := make(map[string]string, len(r.columns))
		for i, column := range r.columns {
			row[column] = fields[i]
		}
		r.maybeReportProgress()
		return row, nil
	}
}

// Close releases the underlying gzip stream and file.
func (r *TSVReader) Close() error {
	gzErr := r.gz.Close()
	fileErr := r.file.Close()
	if gzErr != nil {
		return gzErr
	}
	return fileErr
}

func (r *TSVReader) keyOf(fields []string) string {
	if len(r.keyIndexes) == 1 {
		return fields[r.keyIndexes[0]]
	}
	var key strings.Builder
	for i, index := range r.keyIndexes {
		if i > 0 {
			// Tabs cannot occur inside a field, so this join is unambiguous.
			key.WriteByte('\t')
		}
		key.WriteString(fields[index])
	}
	return key.String()
}

func (r *TSVReader) maybeReportProgress() {
	if r.progress != nil && r.progressInterval > 0 && (r.rowNumber%r.progressInterval) == 0 {
		r.progress(r.rowNumber, r.duplicateCount)
	}
}
