package cache

import (
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/penwyp/peakcat/logging"
	"github.com/penwyp/peakcat/models"
	"github.com/penwyp/peakcat/output"
)

const (
	currentFile   = "current"
	entryFile     = "entry.json"
	rawFile       = "raw.json"
	bucketsFile   = "buckets.csv"
	summaryFile   = "summary.csv"
	generationPfx = "gen-"
	tmpPfx        = ".tmp-"
)

// FileStore persists entries under <dir>/<question>/<digest>/. Each write
// goes to a fresh generation directory; the entry becomes visible only when
// the "current" pointer is renamed over the old one, so readers see the old
// entry or the new one, never a mix.
type FileStore struct {
	baseDir string
	codec   *Codec
	mu      sync.RWMutex
}

// NewFileStore creates the cache directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	// Expand home directory if needed
	if strings.HasPrefix(baseDir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, baseDir[2:])
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", baseDir, err)
	}

	logging.LogInfof("File cache initialized: dir=%s", baseDir)
	return &FileStore{baseDir: baseDir, codec: NewJSONCodec()}, nil
}

// Dir returns the root directory.
func (s *FileStore) Dir() string {
	return s.baseDir
}

func (s *FileStore) entryDir(question, digest string) string {
	return filepath.Join(s.baseDir, question, digest)
}

// Get loads the current generation for key.
func (s *FileStore) Get(key models.QueryKey) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := s.entryDir(key.Question, key.Digest())
	pointer, err := os.ReadFile(filepath.Join(dir, currentFile))
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cache pointer: %w", err)
	}
	gen := filepath.Join(dir, strings.TrimSpace(string(pointer)))

	data, err := os.ReadFile(filepath.Join(gen, entryFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry %s: %w", gen, err)
	}
	var e Entry
	if err := s.codec.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to decode cache entry %s: %w", gen, err)
	}
	if e.Key != key.String() {
		logging.LogWarnf("Cache digest collision at %s: stored %q, wanted %q", dir, e.Key, key.String())
		return nil, ErrNotFound
	}

	raw, err := os.ReadFile(filepath.Join(gen, rawFile))
	if err != nil && !stderrors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read raw snapshot %s: %w", gen, err)
	}
	e.Raw = raw
	return &e, nil
}

// Put writes a new generation and swings the pointer to it.
func (s *FileStore) Put(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.entryDir(e.Question, e.Digest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	id := fmt.Sprintf("%d-%s", time.Now().UnixNano(), uuid.NewString()[:8])
	tmp := filepath.Join(dir, tmpPfx+id)
	gen := generationPfx + id
	if err := os.Mkdir(tmp, 0755); err != nil {
		return fmt.Errorf("failed to create generation directory: %w", err)
	}
	if err := s.writeGeneration(tmp, e); err != nil {
		os.RemoveAll(tmp)
		return err
	}
	if err := os.Rename(tmp, filepath.Join(dir, gen)); err != nil {
		os.RemoveAll(tmp)
		return fmt.Errorf("failed to publish generation: %w", err)
	}

	pointerTmp := filepath.Join(dir, tmpPfx+currentFile+"-"+id)
	if err := os.WriteFile(pointerTmp, []byte(gen+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write cache pointer: %w", err)
	}
	if err := os.Rename(pointerTmp, filepath.Join(dir, currentFile)); err != nil {
		os.Remove(pointerTmp)
		return fmt.Errorf("failed to rename cache pointer: %w", err)
	}

	s.pruneGenerations(dir, gen)
	return nil
}

func (s *FileStore) writeGeneration(dir string, e *Entry) error {
	data, err := s.codec.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, entryFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if e.Raw != nil {
		if err := os.WriteFile(filepath.Join(dir, rawFile), e.Raw, 0644); err != nil {
			return fmt.Errorf("failed to write raw snapshot: %w", err)
		}
	}
	if e.Result == nil {
		return nil
	}
	if err := writeCSV(filepath.Join(dir, bucketsFile), output.BucketRows(e.Result)); err != nil {
		return err
	}
	return writeCSV(filepath.Join(dir, summaryFile), output.SummaryRows(e.Result))
}

// pruneGenerations removes every generation except keep, and any leftovers
// from interrupted writes.
func (s *FileStore) pruneGenerations(dir, keep string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, de := range entries {
		name := de.Name()
		if name == keep || name == currentFile {
			continue
		}
		if strings.HasPrefix(name, generationPfx) || strings.HasPrefix(name, tmpPfx) {
			if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
				logging.LogDebugf("Failed to prune cache generation %s: %v", name, err)
			}
		}
	}
}

// Delete removes every generation for key.
func (s *FileStore) Delete(key models.QueryKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return os.RemoveAll(s.entryDir(key.Question, key.Digest()))
}

// Clear removes every cached entry but keeps the root directory.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if stderrors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, de := range entries {
		if err := os.RemoveAll(filepath.Join(s.baseDir, de.Name())); err != nil {
			return fmt.Errorf("failed to clear %s: %w", de.Name(), err)
		}
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
