package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/penwyp/peakcat/cache"
	"github.com/penwyp/peakcat/config"
	"github.com/penwyp/peakcat/logging"
	"github.com/penwyp/peakcat/orchestrator"
	"github.com/penwyp/peakcat/source"
)

// application is the wired object graph behind every command.
type application struct {
	cfg     *config.Config
	manager *cache.Manager
	orch    *orchestrator.Orchestrator
}

func newApplication(cfg *config.Config) (*application, error) {
	periods, err := cfg.Analysis.PeriodSet()
	if err != nil {
		return nil, fmt.Errorf("invalid windows: %w", err)
	}

	var remote orchestrator.Fetcher
	if cfg.Source.BaseURL != "" {
		r, err := source.NewRemote(source.RemoteOptions{
			BaseURL:  cfg.Source.BaseURL,
			Timeout:  cfg.Source.Timeout,
			Retries:  cfg.Source.Retries,
			PageSize: cfg.Source.PageSize,
			Breaker: source.BreakerConfig{
				MaxFailures: cfg.Source.BreakerFailures,
				Cooldown:    cfg.Source.BreakerCooldown,
			},
		})
		if err != nil {
			return nil, err
		}
		remote = r
	} else {
		logging.LogInfof("No remote backend configured; answering from local files")
	}

	var local orchestrator.RowSource
	if cfg.Source.LocalDir != "" || len(cfg.Source.LocalFiles) > 0 {
		local = source.NewLocal(cfg.Source.LocalDir, cfg.Source.LocalFiles)
	}

	manager, err := newCacheManager(cfg.Cache)
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(remote, local, manager, orchestrator.Options{
		DefaultWindow:        cfg.Analysis.DefaultWindow(),
		DefaultOffsetMinutes: cfg.Analysis.TimezoneOffsetMinutes,
		DefaultLimit:         cfg.Analysis.CategoryLimit,
		Periods:              periods,
		Quantile:             cfg.Analysis.PeakQuantile,
		Workers:              cfg.Analysis.Workers,
		Strict:               cfg.Analysis.Strict,
	})

	return &application{cfg: cfg, manager: manager, orch: orch}, nil
}

func newCacheManager(cfg config.CacheConfig) (*cache.Manager, error) {
	opts := []cache.Option{cache.WithTimeout(cfg.ComputeTimeout)}

	switch cfg.Backend {
	case config.CacheFile:
		store, err := cache.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cache.WithPersistent(store))
	case config.CacheBadger:
		store, err := cache.NewBadgerStore(cache.BadgerConfig{
			DBPath:      filepath.Join(expandHome(cfg.Dir), "badger"),
			Compression: 1,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, cache.WithPersistent(store))
	}

	return cache.NewManager(cache.NewMemoryStore(cfg.MemoryEntries), opts...), nil
}

func (a *application) Close() error {
	return a.manager.Close()
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
