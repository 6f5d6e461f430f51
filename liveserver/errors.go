package liveserver

import (
	"errors"
	"fmt"
)

// ConfigurationError marks a server configuration the session must refuse
// before spawning anything. In-memory storage is the canonical case: the
// child forks away from the host, so it would serve requests from a copy of
// the store instead of the store itself.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("live server configuration: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a new ConfigurationError
func NewConfigurationError(err error) *ConfigurationError {
	return &ConfigurationError{Err: err}
}

// IsConfigurationError checks if the error is or wraps a ConfigurationError
func IsConfigurationError(err error) bool {
	var confErr *ConfigurationError
	return err != nil && errors.As(err, &confErr)
}

// ChildStartupError reports the server child failing before it became
// ready. An error the child sends on its boot channel lands here verbatim.
type ChildStartupError struct {
	Err error
}

func (e *ChildStartupError) Error() string {
	return fmt.Sprintf("live server startup: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *ChildStartupError) Unwrap() error {
	return e.Err
}

// NewChildStartupError creates a new ChildStartupError
func NewChildStartupError(err error) *ChildStartupError {
	return &ChildStartupError{Err: err}
}

// IsChildStartupError checks if the error is or wraps a ChildStartupError
func IsChildStartupError(err error) bool {
	var startErr *ChildStartupError
	return err != nil && errors.As(err, &startErr)
}
