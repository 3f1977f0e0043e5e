// ABOUTME: Error taxonomy shared by the engine components
// ABOUTME: Transient failures are retried, configuration and isolation failures never are
package models

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks fatal configuration problems (missing template, invalid threshold)
	ErrConfiguration = errors.New("configuration error")
	// ErrDataIsolation marks an attempt to put one user's profile data into another user's prompt
	ErrDataIsolation = errors.New("data isolation violation")
	// ErrProfileNotFound is returned by profile stores for unknown users
	ErrProfileNotFound = errors.New("profile not found")
	// ErrEscalationNotFound is returned for unknown escalation ids
	ErrEscalationNotFound = errors.New("escalation not found")
	// ErrConversationNotFound is returned by read-only lookups; ingestion never returns it
	ErrConversationNotFound = errors.New("conversation not found")
)

// TransientError wraps failures of external services that are worth retrying
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is marked as transient
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ConfigError builds an error that matches ErrConfiguration
func ConfigError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
