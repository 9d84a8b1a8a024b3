// Package config parses Klipper-style printer.cfg files with option access
// tracking and bounds-checked getters.
package config

import (
	"fmt"

	"klipper-go-transform/pkg/errors"
)

// ConfigError is a configuration problem tied to a section and option.
type ConfigError struct {
	Section string
	Option  string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Option != "" {
		return fmt.Sprintf("Option '%s' in section '%s': %s", e.Option, e.Section, e.Message)
	}
	if e.Section != "" {
		return fmt.Sprintf("Section '%s': %s", e.Section, e.Message)
	}
	return e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// HostError converts the error into the host-wide error taxonomy.
func (e *ConfigError) HostError() *errors.HostError {
	code := errors.ErrConfigValidation
	if e.Option == "" && e.Section != "" {
		code = errors.ErrConfigSection
	}
	return errors.Wrap(e, code, "invalid configuration").SetSection(e.Section).SetOption(e.Option)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(section, option, message string) *ConfigError {
	return &ConfigError{Section: section, Option: option, Message: message}
}

// ErrMissingOption reports a required option that is absent.
func ErrMissingOption(section, option string) *ConfigError {
	return NewConfigError(section, option, "must be specified")
}

// ErrMissingSection reports a required section that is absent.
func ErrMissingSection(section string) *ConfigError {
	return NewConfigError(section, "", "section not found")
}

// ErrInvalidValue reports a value that cannot be parsed.
func ErrInvalidValue(section, option, value, expected string) *ConfigError {
	return NewConfigError(section, option, fmt.Sprintf("invalid value '%s', expected %s", value, expected))
}

// ErrOutOfRange reports a value outside its bounds.
func ErrOutOfRange(section, option string, value float64, constraint string) *ConfigError {
	return NewConfigError(section, option, fmt.Sprintf("value %v %s", value, constraint))
}
