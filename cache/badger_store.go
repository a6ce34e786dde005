package cache

import (
	stderrors "errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"

	"github.com/penwyp/peakcat/logging"
	"github.com/penwyp/peakcat/models"
)

const (
	badgerRawPrefix     = "raw/"
	badgerTablesPrefix  = "tables/"
	badgerSummaryPrefix = "summary/"
)

// BadgerConfig configures the BadgerDB store
type BadgerConfig struct {
	DBPath         string        `json:"db_path"`
	InMemory       bool          `json:"in_memory"`
	MaxMemoryUsage int64         `json:"max_memory_usage"` // Memory usage limit in bytes
	ValueThreshold int64         `json:"value_threshold"`  // Values larger than this are stored separately
	Compression    int           `json:"compression"`      // 0 none, 1 snappy, 2 zstd
	GCDiscardRatio float64       `json:"gc_discard_ratio"`
	GCInterval     time.Duration `json:"gc_interval"`
	LogLevel       string        `json:"log_level"` // DEBUG, INFO, WARNING, ERROR
}

// BadgerStore persists entries in BadgerDB. The raw snapshot, the tables
// and the summary of an entry are written in one transaction.
type BadgerStore struct {
	db         *badger.DB
	config     BadgerConfig
	codec      *Codec
	mu         sync.RWMutex
	closed     bool
	stopGC     chan struct{}
	gcDone     chan struct{}
}

// badgerTables is the document stored under tables/<digest>.
type badgerTables struct {
	Tables     map[string][]models.Bucket `json:"tables"`
	TableOrder []string                   `json:"table_order"`
}

// NewBadgerStore opens (or creates) the database.
func NewBadgerStore(config BadgerConfig) (*BadgerStore, error) {
	if config.DBPath == "" && !config.InMemory {
		return nil, fmt.Errorf("badger store needs a path unless in memory")
	}
	if config.MaxMemoryUsage <= 0 {
		config.MaxMemoryUsage = 64 * 1024 * 1024
	}
	if config.ValueThreshold <= 0 {
		config.ValueThreshold = 1024
	}
	if config.GCDiscardRatio <= 0 {
		config.GCDiscardRatio = 0.5
	}
	if config.GCInterval <= 0 {
		config.GCInterval = 5 * time.Minute
	}
	if config.LogLevel == "" {
		config.LogLevel = "WARNING"
	}

	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(config.DBPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		opts = badger.DefaultOptions(config.DBPath)
	}
	opts = opts.WithValueThreshold(config.ValueThreshold)
	opts = opts.WithCompression(compressionType(config.Compression))
	opts = opts.WithMemTableSize(config.MaxMemoryUsage / 4)
	opts = opts.WithNumMemtables(3)
	opts = opts.WithLogger(newBadgerLogger(config.LogLevel))

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	s := &BadgerStore{
		db:         db,
		config:     config,
		codec:      NewGzipCodec(0),
		stopGC:     make(chan struct{}),
		gcDone:     make(chan struct{}),
	}
	if config.InMemory {
		close(s.gcDone)
	} else {
		go s.runGC()
	}
	return s, nil
}

// Get reads the three documents of an entry in one read transaction.
func (s *BadgerStore) Get(key models.QueryKey) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("cache is closed")
	}

	digest := key.Digest()
	var e Entry
	err := s.db.View(func(txn *badger.Txn) error {
		summary, err := valueOf(txn, badgerSummaryPrefix+digest)
		if err != nil {
			return err
		}
		if err := s.codec.Unmarshal(summary, &e); err != nil {
			return fmt.Errorf("failed to decode summary: %w", err)
		}
		if e.Key != key.String() {
			logging.LogWarnf("Cache digest collision for %s: stored %q, wanted %q", digest, e.Key, key.String())
			return ErrNotFound
		}

		tables, err := valueOf(txn, badgerTablesPrefix+digest)
		if err != nil {
			return err
		}
		var doc badgerTables
		if err := s.codec.Unmarshal(tables, &doc); err != nil {
			return fmt.Errorf("failed to decode tables: %w", err)
		}
		if e.Result != nil {
			e.Result.Tables = doc.Tables
			e.Result.TableOrder = doc.TableOrder
		}

		raw, err := valueOf(txn, badgerRawPrefix+digest)
		switch {
		case stderrors.Is(err, ErrNotFound):
		case err != nil:
			return err
		default:
			if e.Raw, err = s.codec.Decompress(raw); err != nil {
				return fmt.Errorf("failed to decode raw snapshot: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Put replaces an entry in a single transaction.
func (s *BadgerStore) Put(e *Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("cache is closed")
	}

	head := *e
	head.Raw = nil
	var doc badgerTables
	if e.Result != nil {
		r := *e.Result
		doc = badgerTables{Tables: r.Tables, TableOrder: r.TableOrder}
		r.Tables, r.TableOrder = nil, nil
		head.Result = &r
	}

	summary, err := s.codec.Marshal(&head)
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}
	tables, err := s.codec.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to encode tables: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(badgerSummaryPrefix+e.Digest), summary); err != nil {
			return err
		}
		if err := txn.Set([]byte(badgerTablesPrefix+e.Digest), tables); err != nil {
			return err
		}
		if e.Raw == nil {
			return txn.Delete([]byte(badgerRawPrefix + e.Digest))
		}
		raw, err := s.codec.Compress(e.Raw)
		if err != nil {
			return err
		}
		return txn.Set([]byte(badgerRawPrefix+e.Digest), raw)
	})
}

// Delete removes an entry's documents together.
func (s *BadgerStore) Delete(key models.QueryKey) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("cache is closed")
	}

	digest := key.Digest()
	return s.db.Update(func(txn *badger.Txn) error {
		for _, prefix := range []string{badgerSummaryPrefix, badgerTablesPrefix, badgerRawPrefix} {
			if err := txn.Delete([]byte(prefix + digest)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear removes all entries from the store
func (s *BadgerStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("cache is closed")
	}
	return s.db.DropAll()
}

// Close stops garbage collection and closes the database.
func (s *BadgerStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stopGC)
	s.mu.Unlock()

	<-s.gcDone
	return s.db.Close()
}

// runGC periodically reclaims value log space until Close.
func (s *BadgerStore) runGC() {
	defer close(s.gcDone)
	ticker := time.NewTicker(s.config.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(s.config.GCDiscardRatio)
			if err != nil && !stderrors.Is(err, badger.ErrNoRewrite) {
				logging.LogWarnf("BadgerStore GC error: %v", err)
			}
		}
	}
}

func valueOf(txn *badger.Txn, key string) ([]byte, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

// compressionType returns compression options based on level
func compressionType(level int) options.CompressionType {
	switch level {
	case 0:
		return options.None
	case 2:
		return options.ZSTD
	default:
		return options.Snappy
	}
}

// badgerLogger routes badger's logs through the global logger.
type badgerLogger struct {
	level int
}

const (
	badgerDebug = iota
	badgerInfo
	badgerWarning
	badgerError
)

func newBadgerLogger(level string) *badgerLogger {
	switch level {
	case "DEBUG":
		return &badgerLogger{level: badgerDebug}
	case "INFO":
		return &badgerLogger{level: badgerInfo}
	case "ERROR":
		return &badgerLogger{level: badgerError}
	default:
		return &badgerLogger{level: badgerWarning}
	}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	if l.level <= badgerError {
		logging.LogErrorf("[badger] "+format, args...)
	}
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	if l.level <= badgerWarning {
		logging.LogWarnf("[badger] "+format, args...)
	}
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	if l.level <= badgerInfo {
		logging.LogInfof("[badger] "+format, args...)
	}
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	if l.level <= badgerDebug {
		logging.LogDebugf("[badger] "+format, args...)
	}
}
