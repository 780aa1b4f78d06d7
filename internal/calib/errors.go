package calib

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/prism/internal/frame"
)

// ConfigError reports a Manager that is not set up for the requested work:
// Configure was never called, a required field was never supplied, or the
// configuration itself is inconsistent.
type ConfigError struct {
	// Field names the missing or bad piece of configuration.
	Field string

	// Message is a human-readable description.
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("calibration config: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("calibration config: %s", e.Message)
}

// IsConfigError returns true if the error is a configuration error.
// Uses errors.As to handle wrapped errors.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// MissingUpstreamError reports a getter invoked before the upstream
// products or master keys it consumes exist. It is fatal: getters with
// degrade semantics (flats, wavelength image) warn instead of returning it.
type MissingUpstreamError struct {
	// Step is the step that could not proceed.
	Step Step

	// Missing names the absent upstream artifacts or keys.
	Missing []string

	// RunFirst lists the steps that would supply them.
	RunFirst []Step
}

func (e *MissingUpstreamError) Error() string {
	hint := ""
	if len(e.RunFirst) > 0 {
		names := make([]string, len(e.RunFirst))
		for i, s := range e.RunFirst {
			names[i] = string(s)
		}
		hint = fmt.Sprintf("; run %s first", strings.Join(names, ", "))
	}
	return fmt.Sprintf("%s: missing upstream %s%s",
		e.Step, strings.Join(e.Missing, ", "), hint)
}

// IsMissingUpstream returns true if the error is a missing-upstream error.
// Uses errors.As to handle wrapped errors.
func IsMissingUpstream(err error) bool {
	var me *MissingUpstreamError
	return errors.As(err, &me)
}

// NoFramesError reports a frame query that found nothing for a role whose
// getter cannot degrade (tilt frames, notably).
type NoFramesError struct {
	Role  frame.Role
	Group int
	Step  Step
}

func (e *NoFramesError) Error() string {
	return fmt.Sprintf("%s: no %s frames in calibration group %d",
		e.Step, e.Role, e.Group)
}

// IsNoFrames returns true if the error is a no-frames error.
// Uses errors.As to handle wrapped errors.
func IsNoFrames(err error) bool {
	var ne *NoFramesError
	return errors.As(err, &ne)
}

// BuildError reports a builder that failed to load, build, or save a
// product. Saved is true when partial work was persisted before the
// failure propagated (the slit-trace crash path).
type BuildError struct {
	Step  Step
	Key   string
	Saved bool
	Err   error
}

func (e *BuildError) Error() string {
	msg := fmt.Sprintf("%s: build failed for %s: %v", e.Step, e.Key, e.Err)
	if e.Saved {
		msg += " (partial results saved to disk; they need fixing before reuse)"
	}
	return msg
}

func (e *BuildError) Unwrap() error { return e.Err }

// IsBuildError returns true if the error is a build error.
// Uses errors.As to handle wrapped errors.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}

// UserInputError reports a user-supplied value that cannot be honored,
// e.g. a flat-field file that exists at none of the candidate locations.
type UserInputError struct {
	// Field is the parameter at fault.
	Field string

	// Value is what the user supplied.
	Value string

	// Tried lists every location or interpretation attempted.
	Tried []string
}

func (e *UserInputError) Error() string {
	if len(e.Tried) > 0 {
		return fmt.Sprintf("%s: %q not found (tried %s)",
			e.Field, e.Value, strings.Join(e.Tried, ", "))
	}
	return fmt.Sprintf("%s: cannot use %q", e.Field, e.Value)
}

// IsUserInputError returns true if the error is a user-input error.
// Uses errors.As to handle wrapped errors.
func IsUserInputError(err error) bool {
	var ue *UserInputError
	return errors.As(err, &ue)
}
