package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/penwyp/peakcat/calculations"
)

// Config represents the complete application configuration
type Config struct {
	// Application
	App AppConfig `yaml:"app" json:"app" mapstructure:"app"`

	// Remote and local record sources
	Source SourceConfig `yaml:"source" json:"source" mapstructure:"source"`

	// Result cache
	Cache CacheConfig `yaml:"cache" json:"cache" mapstructure:"cache"`

	// Bucketing and peak rules
	Analysis AnalysisConfig `yaml:"analysis" json:"analysis" mapstructure:"analysis"`

	// HTTP surface
	Server ServerConfig `yaml:"server" json:"server" mapstructure:"server"`

	// Debug
	Debug DebugConfig `yaml:"debug" json:"debug" mapstructure:"debug"`

	// explicit records keys a source set even when the value is zero, so a
	// file's "retries: 0" is not mistaken for an absent key.
	explicit map[string]bool
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name     string `yaml:"name" json:"name" mapstructure:"name"`
	Version  string `yaml:"version" json:"version" mapstructure:"version"`
	LogLevel string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file" mapstructure:"log_file"`
	LogJSON  bool   `yaml:"log_json" json:"log_json" mapstructure:"log_json"`
	Verbose  bool   `yaml:"verbose" json:"verbose" mapstructure:"verbose"`
}

// SourceConfig controls where records come from. BaseURL empty means every
// question is answered from local files.
type SourceConfig struct {
	BaseURL    string            `yaml:"base_url" json:"base_url" mapstructure:"base_url"`
	Timeout    time.Duration     `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
	Retries    int               `yaml:"retries" json:"retries" mapstructure:"retries"`
	LocalDir   string            `yaml:"local_dir" json:"local_dir" mapstructure:"local_dir"`
	LocalFiles map[string]string `yaml:"local_files" json:"local_files" mapstructure:"local_files"`

	// BreakerFailures consecutive remote failures skip the backend for
	// BreakerCooldown. Zero disables the breaker.
	BreakerFailures int           `yaml:"breaker_failures" json:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" json:"breaker_cooldown" mapstructure:"breaker_cooldown"`

	// PageSize is the per-page limit for paginated endpoints, 1..1000.
	PageSize int `yaml:"page_size" json:"page_size" mapstructure:"page_size"`
}

// CacheBackend names the persistent tier behind the in-memory cache.
type CacheBackend string

const (
	CacheMemory CacheBackend = "memory"
	CacheFile   CacheBackend = "file"
	CacheBadger CacheBackend = "badger"
)

// CacheConfig contains result cache settings
type CacheConfig struct {
	Backend        CacheBackend  `yaml:"backend" json:"backend" mapstructure:"backend"`
	Dir            string        `yaml:"dir" json:"dir" mapstructure:"dir"`
	MemoryEntries  int           `yaml:"memory_entries" json:"memory_entries" mapstructure:"memory_entries"`
	ComputeTimeout time.Duration `yaml:"compute_timeout" json:"compute_timeout" mapstructure:"compute_timeout"`
}

// AnalysisConfig contains the bucketing and classification defaults
type AnalysisConfig struct {
	TimezoneOffsetMinutes int                   `yaml:"timezone_offset_minutes" json:"timezone_offset_minutes" mapstructure:"timezone_offset_minutes"`
	DefaultWindowDays     int                   `yaml:"default_window_days" json:"default_window_days" mapstructure:"default_window_days"`
	Windows               []calculations.Window `yaml:"windows" json:"windows" mapstructure:"windows"`
	DefaultPeriodLabel    string                `yaml:"default_period_label" json:"default_period_label" mapstructure:"default_period_label"`
	PeakQuantile          float64               `yaml:"peak_quantile" json:"peak_quantile" mapstructure:"peak_quantile"`
	Strict                bool                  `yaml:"strict" json:"strict" mapstructure:"strict"`
	Workers               int                   `yaml:"workers" json:"workers" mapstructure:"workers"`
	CategoryLimit         int                   `yaml:"category_limit" json:"category_limit" mapstructure:"category_limit"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr         string        `yaml:"addr" json:"addr" mapstructure:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout" mapstructure:"write_timeout"`
}

// DebugConfig contains debugging settings
type DebugConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
}

// Format represents configuration file format
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatTOML Format = "toml"
)

// Version is set at build time
var Version = "dev"

// ConfigPaths returns the default configuration file search paths
func ConfigPaths() []string {
	paths := []string{"./peakcat.yaml", "./peakcat.json"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "peakcat", "config.yaml"),
			filepath.Join(home, ".peakcat.yaml"),
		)
	}
	return append(paths, "/etc/peakcat/config.yaml")
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:     "peakcat",
			Version:  Version,
			LogLevel: "info",
		},
		Source: SourceConfig{
			Timeout:  10 * time.Second,
			Retries:  2,
			LocalDir: "./data",

			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
			PageSize:        1000,
		},
		Cache: CacheConfig{
			Backend:        CacheMemory,
			Dir:            "~/.cache/peakcat",
			MemoryEntries:  256,
			ComputeTimeout: 30 * time.Second,
		},
		Analysis: AnalysisConfig{
			DefaultWindowDays: 30,
			Windows: []calculations.Window{
				{Name: "lunch", Start: 12, End: 14},
				{Name: "dinner", Start: 19, End: 21},
			},
			DefaultPeriodLabel: calculations.DefaultPeriodLabel,
			PeakQuantile:       calculations.DefaultPeakQuantile,
			Workers:            runtime.NumCPU(),
			CategoryLimit:      5,
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
	}
}

// PeriodSet builds the configured meal windows.
func (a AnalysisConfig) PeriodSet() (*calculations.PeriodSet, error) {
	return calculations.NewPeriodSet(a.Windows, a.DefaultPeriodLabel)
}

// DefaultWindow is the query range used when a request names no start.
func (a AnalysisConfig) DefaultWindow() time.Duration {
	if a.DefaultWindowDays <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(a.DefaultWindowDays) * 24 * time.Hour
}
