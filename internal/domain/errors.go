package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable means the graph store cannot be reached.
	ErrStoreUnavailable = errors.New("graph store unavailable")
	// ErrQuery wraps a failed store statement.
	ErrQuery = errors.New("query failed")
	// ErrInvalidInput rejects malformed loader or API input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrMissingScores is returned when a phase needs scores a previous run
	// should have written.
	ErrMissingScores = errors.New("missing anomaly scores")
	// ErrUnknownWeight rejects a weight key outside the feature set.
	ErrUnknownWeight = errors.New("unknown weight key")
	// ErrEmptyGraph reports that there is nothing to score.
	ErrEmptyGraph = errors.New("graph has no transfers")
	// ErrInvalidConfig rejects configuration that fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrRunInProgress rejects a second concurrent pipeline run.
	ErrRunInProgress = errors.New("pipeline run already in progress")
)

// ConfigError describes a single invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidConfig.
func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// PhaseError records which pipeline phase failed.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }
