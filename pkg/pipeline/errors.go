package pipeline

import (
	"errors"
	"fmt"

	"github.com/cyclopcam/roadscan/pkg/defects"
	"github.com/cyclopcam/roadscan/pkg/geo"
)

// ErrEmptyLog is returned when the GPS log has no samples
var ErrEmptyLog = geo.ErrEmptyLog

// ErrMalformedSeverity is recoverable: it is logged and the default table is used instead
var ErrMalformedSeverity = defects.ErrMalformedSeverity

// ConfigurationError means the run cannot start because of its inputs
type ConfigurationError struct {
	Msg string
	Err error // May be nil
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%v: %v", e.Msg, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func configErrorf(err error, format string, a ...any) *ConfigurationError {
	return &ConfigurationError{Msg: fmt.Sprintf(format, a...), Err: err}
}

// InvalidVideoError means the video source could not be opened or reports no frames
type InvalidVideoError struct {
	Path string
	Err  error
}

func (e *InvalidVideoError) Error() string {
	return fmt.Sprintf("Invalid video '%v': %v", e.Path, e.Err)
}

func (e *InvalidVideoError) Unwrap() error {
	return e.Err
}

// IsFatal is true for every error that ends a run in the Failed state
func IsFatal(err error) bool {
	var ce *ConfigurationError
	var ve *InvalidVideoError
	return errors.As(err, &ce) || errors.As(err, &ve) || errors.Is(err, ErrEmptyLog)
}
