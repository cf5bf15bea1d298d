package rag

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline. Components wrap these with
// fmt.Errorf("...: %w", ...) so callers can classify with errors.Is.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrIndexLoad         = errors.New("index load failed")
	ErrTimeout           = errors.New("query deadline exceeded")
)

// ConfigError reports an invalid configuration value, caught before the
// offending component is ever used.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// EmbeddingError wraps a failure of the external embedding service.
// Embedded counts the inputs that succeeded before the failing batch,
// so the caller can decide whether to retry just the remainder.
type EmbeddingError struct {
	Err       error
	Embedded  int
	Transient bool
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding service: %v (embedded %d before failure)", e.Err, e.Embedded)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// GenerationError wraps a failure of the external generation service.
type GenerationError struct {
	Err       error
	Transient bool
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation service: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a service failure worth retrying
// (timeouts, rate limits). Permanent failures such as auth errors or
// malformed input return false. Only the orchestrator consults this;
// individual components never retry.
func IsTransient(err error) bool {
	var ee *EmbeddingError
	if errors.As(err, &ee) {
		return ee.Transient
	}
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Transient
	}
	return false
}
