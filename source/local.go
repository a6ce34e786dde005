package source

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"

	"github.com/penwyp/peakcat/errors"
	"github.com/penwyp/peakcat/fileio"
	"github.com/penwyp/peakcat/logging"
	"github.com/penwyp/peakcat/models"
)

var localExtensions = []string{".csv", ".jsonl", ".ndjson"}

// Local resolves logical source names to files and reads them.
type Local struct {
	dir   string
	files map[string]string
}

// NewLocal builds a local source. files maps a source name to an explicit
// path; relative paths are taken from dir. Unmapped names resolve to
// <dir>/<name>.csv, then .jsonl and .ndjson.
func NewLocal(dir string, files map[string]string) *Local {
	copied := make(map[string]string, len(files))
	for k, v := range files {
		copied[k] = v
	}
	return &Local{dir: dir, files: copied}
}

// Path returns the file backing a source name.
func (l *Local) Path(name string) (string, error) {
	if p, ok := l.files[name]; ok && p != "" {
		if !filepath.IsAbs(p) && l.dir != "" {
			p = filepath.Join(l.dir, p)
		}
		if _, err := os.Stat(p); err != nil {
			return "", errors.NewSourceUnavailable(err, "local file for %s not found", name).With("path", p)
		}
		return p, nil
	}
	for _, ext := range localExtensions {
		p := filepath.Join(l.dir, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errors.NewSourceUnavailable(nil, "no local file for %s in %s", name, l.dir).With("source", name)
}

// Rows reads every row of a source. Unparseable lines are skipped and
// counted, never fatal.
func (l *Local) Rows(ctx context.Context, name string) ([]models.RawRow, int, error) {
	path, err := l.Path(name)
	if err != nil {
		return nil, 0, err
	}
	rows, skipped, err := fileio.ReadFile(ctx, path)
	if err != nil {
		if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
			return nil, skipped, err
		}
		return nil, skipped, errors.NewSourceUnavailable(err, "failed to read local %s", name).With("path", path)
	}
	if skipped > 0 {
		logging.LogDebugf("Local source %s: skipped %d unparseable lines in %s", name, skipped, path)
	}
	return rows, skipped, nil
}
