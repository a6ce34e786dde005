package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorType 错误类型
type ErrorType string

const (
	// 调用方错误，不重试
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConfig     ErrorType = "config"

	// 数据源错误，触发本地回退
	ErrorTypeSourceUnavailable ErrorType = "source_unavailable"
	ErrorTypeTimeout           ErrorType = "timeout"

	// 数据错误
	ErrorTypeSchemaViolation ErrorType = "schema_violation"

	// 缓存错误
	ErrorTypeCache ErrorType = "cache"
)

// PipelineError 管道错误
type PipelineError struct {
	Type      ErrorType
	Field     string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Timestamp time.Time
}

func (e *PipelineError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Type))
	if e.Field != "" {
		b.WriteString(" (")
		b.WriteString(e.Field)
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// With attaches a context value and returns the same error.
func (e *PipelineError) With(key string, value interface{}) *PipelineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ContextString renders the context map in key order, for log lines.
func (e *PipelineError) ContextString() string {
	if len(e.Context) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Context[k]))
	}
	return strings.Join(parts, " ")
}

func newError(t ErrorType, field string, cause error, format string, args ...interface{}) *PipelineError {
	return &PipelineError{
		Type:      t,
		Field:     field,
		Message:   fmt.Sprintf(format, args...),
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// NewValidation reports a bad query parameter. Never retried.
func NewValidation(field string, format string, args ...interface{}) *PipelineError {
	return newError(ErrorTypeValidation, field, nil, format, args...)
}

// NewConfig reports an invalid configuration value.
func NewConfig(field string, format string, args ...interface{}) *PipelineError {
	return newError(ErrorTypeConfig, field, nil, format, args...)
}

// NewSourceUnavailable wraps a remote failure.
func NewSourceUnavailable(cause error, format string, args ...interface{}) *PipelineError {
	return newError(ErrorTypeSourceUnavailable, "", cause, format, args...)
}

// NewTimeout wraps a deadline hit while reading a source.
func NewTimeout(cause error, format string, args ...interface{}) *PipelineError {
	return newError(ErrorTypeTimeout, "", cause, format, args...)
}

// NewSchemaViolation reports a batch that failed normalization as a whole.
func NewSchemaViolation(format string, args ...interface{}) *PipelineError {
	return newError(ErrorTypeSchemaViolation, "", nil, format, args...)
}

// NewCache wraps a cache tier failure.
func NewCache(cause error, format string, args ...interface{}) *PipelineError {
	return newError(ErrorTypeCache, "", cause, format, args...)
}

// TypeOf returns the type of the first PipelineError in the chain, or "".
func TypeOf(err error) ErrorType {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Type
	}
	return ""
}

func IsValidation(err error) bool {
	return TypeOf(err) == ErrorTypeValidation
}

func IsConfig(err error) bool {
	return TypeOf(err) == ErrorTypeConfig
}

func IsSourceUnavailable(err error) bool {
	t := TypeOf(err)
	return t == ErrorTypeSourceUnavailable || t == ErrorTypeTimeout
}

func IsSchemaViolation(err error) bool {
	return TypeOf(err) == ErrorTypeSchemaViolation
}

// IsFatal reports whether err must be surfaced without trying the fallback
// source. Validation, config and strict-mode schema errors are fatal; anything
// else (including untyped errors) is treated as a source failure.
func IsFatal(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeValidation, ErrorTypeConfig, ErrorTypeSchemaViolation:
		return true
	}
	return false
}

// Is and As re-export the standard helpers so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

func New(text string) error { return stderrors.New(text) }

// Join concatenates validation messages the way the config validator reports them.
func Join(msgs []string) error {
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}
