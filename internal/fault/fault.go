// Package fault defines the error taxonomy shared by the relocation packages.
//
// Configuration errors are fatal and reported before any work starts. Data
// errors are logged and cause a single cluster or event to be skipped.
// Interruption is reported through ErrInterrupted so callers can tell a
// cancelled run apart from a failed one.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// ErrInterrupted is returned when a run is cancelled cooperatively.
var ErrInterrupted = errors.New("interrupted")

// ConfigError reports an invalid or incomplete configuration value.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Key, e.Reason)
}

// NewConfigError builds a ConfigError for the given key.
func NewConfigError(key, format string, args ...any) *ConfigError {
	return &ConfigError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// DataError wraps a problem with one input item (a cluster, an event or a
// file) that should be skipped without aborting the run.
type DataError struct {
	Subject string
	Err     error
}

func (e *DataError) Error() string {
	return e.Subject + ": " + e.Err.Error()
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError wraps err as a data error about subject.
func NewDataError(subject string, err error) *DataError {
	return &DataError{Subject: subject, Err: err}
}

// IsConfig reports whether err (or any error in its chain) is a ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsData reports whether err (or any error in its chain) is a DataError.
func IsData(err error) bool {
	var de *DataError
	return errors.As(err, &de)
}

// IsInterrupted reports whether err represents a cancelled run. Context
// cancellation that escaped without being translated counts as well.
func IsInterrupted(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled)
}

// Interrupted translates a context error into ErrInterrupted, keeping the
// original cause in the chain. It returns nil when ctx is still live.
func Interrupted(ctx context.Context, where string) error {
	if ctx.Err() == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", where, ErrInterrupted, ctx.Err())
}
