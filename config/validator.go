package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/penwyp/peakcat/calculations"
	"github.com/penwyp/peakcat/errors"
)

// ValidationRule represents a single custom validation rule
type ValidationRule struct {
	Field   string
	Check   func(cfg *Config) error
	Message string
}

// StandardValidator provides standard configuration validation
type StandardValidator struct {
	rules []ValidationRule
}

// NewStandardValidator creates a new standard validator
func NewStandardValidator() *StandardValidator {
	return &StandardValidator{
		rules: make([]ValidationRule, 0),
	}
}

// AddRule adds a custom validation rule
func (v *StandardValidator) AddRule(rule ValidationRule) {
	v.rules = append(v.rules, rule)
}

// Validate validates the entire configuration. All problems are reported in
// one config error.
func (v *StandardValidator) Validate(cfg *Config) error {
	var problems []string

	if err := v.validateApp(&cfg.App); err != nil {
		problems = append(problems, fmt.Sprintf("app: %v", err))
	}
	if err := v.validateSource(&cfg.Source); err != nil {
		problems = append(problems, fmt.Sprintf("source: %v", err))
	}
	if err := v.validateCache(&cfg.Cache); err != nil {
		problems = append(problems, fmt.Sprintf("cache: %v", err))
	}
	if err := v.validateAnalysis(&cfg.Analysis); err != nil {
		problems = append(problems, fmt.Sprintf("analysis: %v", err))
	}
	if err := v.validateServer(&cfg.Server); err != nil {
		problems = append(problems, fmt.Sprintf("server: %v", err))
	}

	for _, rule := range v.rules {
		if err := rule.Check(cfg); err != nil {
			msg := rule.Message
			if msg == "" {
				msg = err.Error()
			}
			problems = append(problems, fmt.Sprintf("%s: %s", rule.Field, msg))
		}
	}

	if len(problems) > 0 {
		return errors.NewConfig("", "validation errors: %s", strings.Join(problems, "; "))
	}
	return nil
}

// validateApp validates application configuration
func (v *StandardValidator) validateApp(app *AppConfig) error {
	var problems []string

	if err := ValidateLogLevel(app.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}

	if app.LogFile != "" {
		dir := filepath.Dir(os.ExpandEnv(app.LogFile))
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				problems = append(problems, fmt.Sprintf("log_file: directory does not exist: %s", dir))
			}
		}
	}

	return joinProblems(problems)
}

// validateSource validates record source configuration
func (v *StandardValidator) validateSource(src *SourceConfig) error {
	var problems []string

	if src.BaseURL != "" {
		if err := ValidateBaseURL(src.BaseURL); err != nil {
			problems = append(problems, fmt.Sprintf("base_url: %v", err))
		}
	}
	if src.Timeout <= 0 || src.Timeout > 5*time.Minute {
		problems = append(problems, "timeout: must be between 0 and 5m")
	}
	if src.Retries < 0 || src.Retries > 10 {
		problems = append(problems, "retries: must be between 0 and 10")
	}
	if src.PageSize < 1 || src.PageSize > 1000 {
		problems = append(problems, "page_size: must be between 1 and 1000")
	}
	if src.BreakerFailures < 0 {
		problems = append(problems, "breaker_failures: must be non-negative")
	}
	if src.BreakerFailures > 0 && src.BreakerCooldown <= 0 {
		problems = append(problems, "breaker_cooldown: must be positive when the breaker is enabled")
	}
	if src.BaseURL == "" && src.LocalDir == "" && len(src.LocalFiles) == 0 {
		problems = append(problems, "at least one of base_url, local_dir or local_files is required")
	}

	return joinProblems(problems)
}

// validateCache validates cache configuration
func (v *StandardValidator) validateCache(c *CacheConfig) error {
	var problems []string

	switch c.Backend {
	case CacheMemory:
	case CacheFile, CacheBadger:
		if c.Dir == "" {
			problems = append(problems, fmt.Sprintf("dir: required for the %s backend", c.Backend))
		}
	default:
		problems = append(problems, fmt.Sprintf("backend: invalid backend %q (valid: memory, file, badger)", c.Backend))
	}
	if c.MemoryEntries <= 0 {
		problems = append(problems, "memory_entries: must be positive")
	}
	if c.ComputeTimeout <= 0 {
		problems = append(problems, "compute_timeout: must be positive")
	}

	return joinProblems(problems)
}

// validateAnalysis validates bucketing and peak settings
func (v *StandardValidator) validateAnalysis(a *AnalysisConfig) error {
	var problems []string

	if err := calculations.ValidateOffset(a.TimezoneOffsetMinutes); err != nil {
		problems = append(problems, fmt.Sprintf("timezone_offset_minutes: %v", err))
	}
	if a.DefaultWindowDays < 1 || a.DefaultWindowDays > 366 {
		problems = append(problems, "default_window_days: must be between 1 and 366")
	}
	if _, err := a.PeriodSet(); err != nil {
		problems = append(problems, fmt.Sprintf("windows: %v", err))
	}
	if a.PeakQuantile <= 0 || a.PeakQuantile > 100 {
		problems = append(problems, "peak_quantile: must be in (0, 100]")
	}
	if a.Workers < 0 {
		problems = append(problems, "workers: must be non-negative")
	}
	if a.CategoryLimit < 1 || a.CategoryLimit > 50 {
		problems = append(problems, "category_limit: must be between 1 and 50")
	}

	return joinProblems(problems)
}

// validateServer validates HTTP server configuration
func (v *StandardValidator) validateServer(s *ServerConfig) error {
	var problems []string

	if s.Addr == "" {
		problems = append(problems, "addr: must not be empty")
	}
	if s.ReadTimeout < 0 || s.WriteTimeout < 0 {
		problems = append(problems, "timeouts: must be non-negative")
	}

	return joinProblems(problems)
}

func joinProblems(problems []string) error {
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// ValidateLogLevel validates log level
func ValidateLogLevel(level string) error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[strings.ToLower(level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", level)
	}
	return nil
}

// ValidateBaseURL checks that a backend URL is absolute http(s).
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}
