package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/penwyp/peakcat/calculations"
	"github.com/penwyp/peakcat/logging"
)

// Source represents a configuration source
type Source interface {
	Name() string
	Load() (*Config, error)
	Priority() int
}

// Validator validates configuration
type Validator interface {
	Validate(cfg *Config) error
}

// Merger merges configurations from multiple sources
type Merger interface {
	Merge(base, override *Config) *Config
}

// Loader loads configuration from multiple sources
type Loader struct {
	sources    []Source
	validators []Validator
	merger     Merger
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		sources:    make([]Source, 0),
		validators: make([]Validator, 0),
		merger:     &DefaultMerger{},
	}
}

// AddSource adds a configuration source
func (l *Loader) AddSource(source Source) {
	l.sources = append(l.sources, source)
}

// AddValidator adds a configuration validator
func (l *Loader) AddValidator(validator Validator) {
	l.validators = append(l.validators, validator)
}

// SetMerger sets the configuration merger
func (l *Loader) SetMerger(merger Merger) {
	l.merger = merger
}

// Load loads configuration from all sources
func (l *Loader) Load() (*Config, error) {
	// Sort sources by priority
	sort.Slice(l.sources, func(i, j int) bool {
		return l.sources[i].Priority() < l.sources[j].Priority()
	})

	var config *Config
	for _, source := range l.sources {
		cfg, err := source.Load()
		if err != nil {
			// Log error but continue with other sources
			continue
		}

		if config == nil {
			config = cfg
		} else {
			config = l.merger.Merge(config, cfg)
		}
	}

	if config == nil {
		return nil, fmt.Errorf("no valid configuration sources found")
	}

	// Validate final configuration
	for _, validator := range l.validators {
		if err := validator.Validate(config); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return config, nil
}

// LoadWithDefaults loads configuration with defaults as base
func (l *Loader) LoadWithDefaults() (*Config, error) {
	defaultConfig := DefaultConfig()

	// Sort sources by priority
	sort.Slice(l.sources, func(i, j int) bool {
		return l.sources[i].Priority() < l.sources[j].Priority()
	})

	config := defaultConfig
	for _, source := range l.sources {
		cfg, err := source.Load()
		if err != nil {
			logging.LogDebugf("config source %s skipped: %v", source.Name(), err)
			continue
		}

		config = l.merger.Merge(config, cfg)
	}

	// Validate final configuration
	for _, validator := range l.validators {
		if err := validator.Validate(config); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return config, nil
}

// zeroableKeys are the settings where zero or false is a real choice rather
// than "not set".
var zeroableKeys = []string{
	"app.log_json",
	"app.verbose",
	"source.retries",
	"source.breaker_failures",
	"analysis.timezone_offset_minutes",
	"analysis.strict",
	"debug.enabled",
}

func (c *Config) markExplicit(key string) {
	if c.explicit == nil {
		c.explicit = make(map[string]bool)
	}
	c.explicit[key] = true
}

func (c *Config) isExplicit(key string) bool {
	return c.explicit[key]
}

// envKey is the variable viper binds for a dotted key.
func envKey(prefix, key string) string {
	return prefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// FileSource loads configuration from a file
type FileSource struct {
	path   string
	format Format
}

// NewFileSource creates a new file configuration source
func NewFileSource(path string) *FileSource {
	format := FormatYAML
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		format = FormatJSON
	case ".toml":
		format = FormatTOML
	case ".yaml", ".yml":
		format = FormatYAML
	}

	return &FileSource{
		path:   path,
		format: format,
	}
}

// Name returns the source name
func (f *FileSource) Name() string {
	return fmt.Sprintf("file:%s", f.path)
}

// Priority returns the source priority (lower = higher priority)
func (f *FileSource) Priority() int {
	return 100
}

// Load loads configuration from the file
func (f *FileSource) Load() (*Config, error) {
	// Expand environment variables in path
	expandedPath := os.ExpandEnv(f.path)

	// Check if file exists
	if _, err := os.Stat(expandedPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", expandedPath)
	}

	v := viper.New()
	v.SetConfigFile(expandedPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", expandedPath, err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from %s: %w", expandedPath, err)
	}
	for _, key := range zeroableKeys {
		if v.IsSet(key) {
			config.markExplicit(key)
		}
	}

	return &config, nil
}

// EnvSource loads configuration from environment variables
type EnvSource struct {
	prefix string
}

// NewEnvSource creates a new environment variable configuration source
func NewEnvSource(prefix string) *EnvSource {
	return &EnvSource{
		prefix: prefix,
	}
}

// Name returns the source name
func (e *EnvSource) Name() string {
	return fmt.Sprintf("env:%s", e.prefix)
}

// Priority returns the source priority (lower = higher priority)
func (e *EnvSource) Priority() int {
	return 200
}

// Load loads configuration from environment variables
func (e *EnvSource) Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(e.prefix)
	v.AutomaticEnv()

	// Replace dots and dashes with underscores for env vars
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	// Set all possible config keys to enable env var reading
	e.setAllKeys(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config from environment: %w", err)
	}
	// Every key has a viper default here, so IsSet cannot tell us anything.
	for _, key := range zeroableKeys {
		if _, ok := os.LookupEnv(envKey(e.prefix, key)); ok {
			config.markExplicit(key)
		}
	}

	if err := NewEnvMapper(e.prefix).Apply(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// setAllKeys sets all possible configuration keys for environment variable reading
func (e *EnvSource) setAllKeys(v *viper.Viper) {
	// App config
	v.SetDefault("app.name", "")
	v.SetDefault("app.log_level", "")
	v.SetDefault("app.log_file", "")
	v.SetDefault("app.log_json", false)
	v.SetDefault("app.verbose", false)

	// Source config
	v.SetDefault("source.base_url", "")
	v.SetDefault("source.timeout", time.Duration(0))
	v.SetDefault("source.retries", 0)
	v.SetDefault("source.local_dir", "")
	v.SetDefault("source.breaker_failures", 0)
	v.SetDefault("source.breaker_cooldown", time.Duration(0))
	v.SetDefault("source.page_size", 0)

	// Cache config
	v.SetDefault("cache.backend", "")
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.memory_entries", 0)
	v.SetDefault("cache.compute_timeout", time.Duration(0))

	// Analysis config; windows are list-valued and go through EnvMapper
	v.SetDefault("analysis.timezone_offset_minutes", 0)
	v.SetDefault("analysis.default_window_days", 0)
	v.SetDefault("analysis.default_period_label", "")
	v.SetDefault("analysis.peak_quantile", 0.0)
	v.SetDefault("analysis.strict", false)
	v.SetDefault("analysis.workers", 0)
	v.SetDefault("analysis.category_limit", 0)

	// Server config
	v.SetDefault("server.addr", "")
	v.SetDefault("server.read_timeout", time.Duration(0))
	v.SetDefault("server.write_timeout", time.Duration(0))

	// Debug config
	v.SetDefault("debug.enabled", false)
}

// FlagSource loads configuration from command-line flags
type FlagSource struct {
	flags *pflag.FlagSet
}

// NewFlagSource creates a new flag configuration source
func NewFlagSource(flags *pflag.FlagSet) *FlagSource {
	return &FlagSource{
		flags: flags,
	}
}

// Name returns the source name
func (f *FlagSource) Name() string {
	return "flags"
}

// Priority returns the source priority (lower = higher priority)
func (f *FlagSource) Priority() int {
	return 300
}

// Load loads configuration from command-line flags. Only flags the user set
// take part, so defaults never mask file or environment values.
func (f *FlagSource) Load() (*Config, error) {
	config := &Config{}
	var loadErr error

	f.flags.VisitAll(func(flag *pflag.Flag) {
		if !flag.Changed || loadErr != nil {
			return
		}

		switch flag.Name {
		case "debug":
			if val, err := f.flags.GetBool("debug"); err == nil {
				config.Debug.Enabled = val
				config.markExplicit("debug.enabled")
			}
		case "log-level":
			if val, err := f.flags.GetString("log-level"); err == nil {
				config.App.LogLevel = val
			}
		case "log-file":
			if val, err := f.flags.GetString("log-file"); err == nil {
				config.App.LogFile = val
			}
		case "verbose":
			if val, err := f.flags.GetBool("verbose"); err == nil {
				config.App.Verbose = val
				config.markExplicit("app.verbose")
			}
		case "base-url":
			if val, err := f.flags.GetString("base-url"); err == nil {
				config.Source.BaseURL = val
			}
		case "local-dir":
			if val, err := f.flags.GetString("local-dir"); err == nil {
				config.Source.LocalDir = val
			}
		case "cache-backend":
			if val, err := f.flags.GetString("cache-backend"); err == nil {
				config.Cache.Backend = CacheBackend(val)
			}
		case "cache-dir":
			if val, err := f.flags.GetString("cache-dir"); err == nil {
				config.Cache.Dir = val
			}
		case "window":
			if vals, err := f.flags.GetStringSlice("window"); err == nil {
				windows, err := ParseWindows(strings.Join(vals, ","))
				if err != nil {
					loadErr = err
					return
				}
				config.Analysis.Windows = windows
			}
		case "addr":
			if val, err := f.flags.GetString("addr"); err == nil {
				config.Server.Addr = val
			}
		}
	})

	return config, loadErr
}

// DefaultMerger is the default configuration merger
type DefaultMerger struct{}

// Merge merges two configurations, with override taking precedence. Zero
// values in override mean "not set" unless the source marked the key as
// explicitly set.
func (m *DefaultMerger) Merge(base, override *Config) *Config {
	if base == nil {
		return override
	}
	if override == nil {
		return base
	}

	result := *base
	result.explicit = nil
	set := override.isExplicit

	// Merge App config
	if override.App.Name != "" {
		result.App.Name = override.App.Name
	}
	if override.App.Version != "" {
		result.App.Version = override.App.Version
	}
	if override.App.LogLevel != "" {
		result.App.LogLevel = override.App.LogLevel
	}
	if override.App.LogFile != "" {
		result.App.LogFile = override.App.LogFile
	}
	if set("app.log_json") {
		result.App.LogJSON = override.App.LogJSON
	} else {
		result.App.LogJSON = result.App.LogJSON || override.App.LogJSON
	}
	if set("app.verbose") {
		result.App.Verbose = override.App.Verbose
	} else {
		result.App.Verbose = result.App.Verbose || override.App.Verbose
	}

	// Merge Source config
	if override.Source.BaseURL != "" {
		result.Source.BaseURL = override.Source.BaseURL
	}
	if override.Source.Timeout > 0 {
		result.Source.Timeout = override.Source.Timeout
	}
	if override.Source.Retries > 0 || set("source.retries") {
		result.Source.Retries = override.Source.Retries
	}
	if override.Source.LocalDir != "" {
		result.Source.LocalDir = override.Source.LocalDir
	}
	if override.Source.BreakerFailures > 0 || set("source.breaker_failures") {
		result.Source.BreakerFailures = override.Source.BreakerFailures
	}
	if override.Source.BreakerCooldown > 0 {
		result.Source.BreakerCooldown = override.Source.BreakerCooldown
	}
	if override.Source.PageSize > 0 {
		result.Source.PageSize = override.Source.PageSize
	}
	if len(override.Source.LocalFiles) > 0 {
		files := make(map[string]string, len(base.Source.LocalFiles)+len(override.Source.LocalFiles))
		for k, v := range base.Source.LocalFiles {
			files[k] = v
		}
		for k, v := range override.Source.LocalFiles {
			files[k] = v
		}
		result.Source.LocalFiles = files
	}

	// Merge Cache config
	if override.Cache.Backend != "" {
		result.Cache.Backend = override.Cache.Backend
	}
	if override.Cache.Dir != "" {
		result.Cache.Dir = override.Cache.Dir
	}
	if override.Cache.MemoryEntries > 0 {
		result.Cache.MemoryEntries = override.Cache.MemoryEntries
	}
	if override.Cache.ComputeTimeout > 0 {
		result.Cache.ComputeTimeout = override.Cache.ComputeTimeout
	}

	// Merge Analysis config
	if override.Analysis.TimezoneOffsetMinutes != 0 || set("analysis.timezone_offset_minutes") {
		result.Analysis.TimezoneOffsetMinutes = override.Analysis.TimezoneOffsetMinutes
	}
	if override.Analysis.DefaultWindowDays > 0 {
		result.Analysis.DefaultWindowDays = override.Analysis.DefaultWindowDays
	}
	if len(override.Analysis.Windows) > 0 {
		result.Analysis.Windows = append([]calculations.Window(nil), override.Analysis.Windows...)
	}
	if override.Analysis.DefaultPeriodLabel != "" {
		result.Analysis.DefaultPeriodLabel = override.Analysis.DefaultPeriodLabel
	}
	if override.Analysis.PeakQuantile > 0 {
		result.Analysis.PeakQuantile = override.Analysis.PeakQuantile
	}
	if set("analysis.strict") {
		result.Analysis.Strict = override.Analysis.Strict
	} else {
		result.Analysis.Strict = result.Analysis.Strict || override.Analysis.Strict
	}
	if override.Analysis.Workers > 0 {
		result.Analysis.Workers = override.Analysis.Workers
	}
	if override.Analysis.CategoryLimit > 0 {
		result.Analysis.CategoryLimit = override.Analysis.CategoryLimit
	}

	// Merge Server config
	if override.Server.Addr != "" {
		result.Server.Addr = override.Server.Addr
	}
	if override.Server.ReadTimeout > 0 {
		result.Server.ReadTimeout = override.Server.ReadTimeout
	}
	if override.Server.WriteTimeout > 0 {
		result.Server.WriteTimeout = override.Server.WriteTimeout
	}

	// Merge Debug config
	if set("debug.enabled") {
		result.Debug.Enabled = override.Debug.Enabled
	} else {
		result.Debug.Enabled = result.Debug.Enabled || override.Debug.Enabled
	}

	return &result
}

// FindConfigFile returns the first existing path from ConfigPaths, or "".
func FindConfigFile() string {
	for _, p := range ConfigPaths() {
		if _, err := os.Stat(os.ExpandEnv(p)); err == nil {
			return p
		}
	}
	return ""
}

// Load builds the standard loader: defaults, then the config file (explicit
// path or the first one found), then PEAKCAT_ environment, then flags.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	loader := NewLoader()
	if path == "" {
		path = FindConfigFile()
	}
	if path != "" {
		if _, err := os.Stat(os.ExpandEnv(path)); err != nil {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		loader.AddSource(NewFileSource(path))
	}
	loader.AddSource(NewEnvSource(EnvPrefix))
	if flags != nil {
		loader.AddSource(NewFlagSource(flags))
	}
	loader.AddValidator(NewStandardValidator())
	return loader.LoadWithDefaults()
}
