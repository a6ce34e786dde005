package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/penwyp/peakcat/calculations"
)

// EnvPrefix is the prefix for every environment variable the loader reads.
const EnvPrefix = "PEAKCAT"

var windowSliceType = reflect.TypeOf([]calculations.Window(nil))

// EnvMapper maps environment variables that do not follow the
// PEAKCAT_<SECTION>_<KEY> pattern onto configuration fields.
type EnvMapper struct {
	prefix   string
	mappings map[string]string
}

// NewEnvMapper creates a new environment variable mapper
func NewEnvMapper(prefix string) *EnvMapper {
	return &EnvMapper{
		prefix:   prefix,
		mappings: make(map[string]string),
	}
}

// Map adds a mapping from a prefixed environment key to a configuration path
func (e *EnvMapper) Map(envKey, configPath string) {
	e.mappings[envKey] = configPath
}

// Apply applies environment variable mappings to configuration
func (e *EnvMapper) Apply(cfg *Config) error {
	for envKey, configPath := range StandardEnvMappings {
		if value := os.Getenv(envKey); value != "" {
			if err := e.setFieldByPath(cfg, configPath, value); err != nil {
				return fmt.Errorf("failed to set %s from %s: %w", configPath, envKey, err)
			}
			cfg.markExplicit(configPath)
		}
	}

	for envKey, configPath := range e.mappings {
		fullEnvKey := e.prefix + "_" + envKey
		if value := os.Getenv(fullEnvKey); value != "" {
			if err := e.setFieldByPath(cfg, configPath, value); err != nil {
				return fmt.Errorf("failed to set %s from %s: %w", configPath, fullEnvKey, err)
			}
			cfg.markExplicit(configPath)
		}
	}

	return nil
}

// setFieldByPath sets a configuration field by its dot-separated path
func (e *EnvMapper) setFieldByPath(cfg *Config, path, value string) error {
	parts := strings.Split(path, ".")
	if len(parts) < 2 {
		return fmt.Errorf("invalid path: %s", path)
	}

	v := reflect.ValueOf(cfg).Elem()
	for i, part := range parts[:len(parts)-1] {
		field := v.FieldByName(e.toCamelCase(part))
		if !field.IsValid() {
			return fmt.Errorf("invalid field path at %s: %s", strings.Join(parts[:i+1], "."), part)
		}
		v = field
	}

	fieldName := e.toCamelCase(parts[len(parts)-1])
	field := v.FieldByName(fieldName)
	if !field.IsValid() {
		return fmt.Errorf("invalid field: %s", fieldName)
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", fieldName)
	}

	return e.setFieldValue(field, value)
}

// setFieldValue sets a field value based on its type
func (e *EnvMapper) setFieldValue(field reflect.Value, value string) error {
	if field.Type() == windowSliceType {
		windows, err := ParseWindows(value)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(windows))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Bool:
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid bool value: %s", value)
		}
		field.SetBool(boolVal)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			duration, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration value: %s", value)
			}
			field.SetInt(int64(duration))
		} else {
			intVal, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid int value: %s", value)
			}
			if field.OverflowInt(intVal) {
				return fmt.Errorf("int value overflow: %s", value)
			}
			field.SetInt(intVal)
		}

	case reflect.Float64:
		floatVal, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value: %s", value)
		}
		field.SetFloat(floatVal)

	default:
		return fmt.Errorf("unsupported field type: %s", field.Type())
	}

	return nil
}

// toCamelCase converts snake_case to CamelCase with proper casing
func (e *EnvMapper) toCamelCase(s string) string {
	parts := strings.Split(s, "_")
	for i, part := range parts {
		if len(part) == 0 {
			continue
		}
		switch strings.ToLower(part) {
		case "url":
			parts[i] = "URL"
		case "json":
			parts[i] = "JSON"
		default:
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, "")
}

// ParseWindows parses a comma-separated list such as "lunch=12-14,dinner=19-21".
// An empty string yields no windows.
func ParseWindows(s string) ([]calculations.Window, error) {
	var windows []calculations.Window
	for _, item := range strings.Split(s, ",") {
		if strings.TrimSpace(item) == "" {
			continue
		}
		w, err := calculations.ParseWindow(item)
		if err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// StandardEnvMappings holds the aliases and list-valued settings that viper's
// automatic env binding cannot express.
var StandardEnvMappings = map[string]string{
	"BACKEND_BASE_URL":         "source.base_url",
	"PEAKCAT_BASE_URL":         "source.base_url",
	"PEAKCAT_WINDOWS":          "analysis.windows",
	"PEAKCAT_ANALYSIS_WINDOWS": "analysis.windows",
	"PEAKCAT_TZ_OFFSET":        "analysis.timezone_offset_minutes",
	"PEAKCAT_LOG_LEVEL":        "app.log_level",
	"PEAKCAT_DEBUG":            "debug.enabled",
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvInt gets an environment variable as integer
func GetEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
