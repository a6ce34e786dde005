package fileio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/penwyp/peakcat/logging"
	"github.com/penwyp/peakcat/models"
)

// Format is the on-disk layout of a local source file.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// DetectFormat picks a format from the file extension. Unknown extensions
// are read as CSV.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL
	default:
		return FormatCSV
	}
}

// Reader reads raw rows from a header-described CSV file or a JSON-lines file.
type Reader struct {
	file     *os.File
	filepath string
	format   Format
	skipped  int
}

func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	return &Reader{file: file, filepath: path, format: DetectFormat(path)}, nil
}

// Skipped reports lines that could not be decoded at all. Rows that decode
// but fail schema checks are the normalizer's business.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Each calls fn for every row. Reading stops at the first error from fn or
// when ctx is done.
func (r *Reader) Each(ctx context.Context, fn func(models.RawRow) error) error {
	switch r.format {
	case FormatJSONL:
		return r.eachJSONL(ctx, fn)
	default:
		return r.eachCSV(ctx, fn)
	}
}

func (r *Reader) eachCSV(ctx context.Context, fn func(models.RawRow) error) error {
	cr := csv.NewReader(bufio.NewReader(r.file))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read header of %s: %w", r.filepath, err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			if _, ok := err.(*csv.ParseError); ok {
				r.skipped++
				logging.LogDebugf("Skipping malformed CSV line %d in %s: %v", line, r.filepath, err)
				continue
			}
			return fmt.Errorf("failed to read %s: %w", r.filepath, err)
		}

		row := make(models.RawRow, len(columns))
		for i, col := range columns {
			if i >= len(rec) || col == "" {
				continue
			}
			if v := strings.TrimSpace(rec[i]); v != "" {
				row[col] = v
			}
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

func (r *Reader) eachJSONL(ctx context.Context, fn func(models.RawRow) error) error {
	scanner := bufio.NewScanner(r.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 64KB initial, 1MB max

	lineNum := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNum++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var row map[string]any
		if err := sonic.Unmarshal(line, &row); err != nil {
			r.skipped++
			continue // Skip invalid JSON lines
		}
		if err := fn(models.RawRow(row)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error at line %d: %w", lineNum, err)
	}
	return nil
}

// ReadAll collects every row.
func (r *Reader) ReadAll(ctx context.Context) ([]models.RawRow, error) {
	var rows []models.RawRow
	err := r.Each(ctx, func(row models.RawRow) error {
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// ReadFile is a convenience function to read an entire file.
func ReadFile(ctx context.Context, path string) ([]models.RawRow, int, error) {
	reader, err := NewReader(path)
	if err != nil {
		return nil, 0, err
	}
	defer reader.Close()

	rows, err := reader.ReadAll(ctx)
	return rows, reader.Skipped(), err
}
