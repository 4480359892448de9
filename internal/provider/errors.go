package provider

import (
	"errors"
	"fmt"
)

// Failure classes for provider calls. Match with errors.Is.
var (
	ErrUnreachable = errors.New("provider unreachable")
	ErrAuthFailed  = errors.New("provider rejected credentials")
	ErrProtocol    = errors.New("provider response malformed")
	ErrPersistence = errors.New("persistence failure")
)

// Error carries the failure class plus upstream detail. StatusCode is zero
// when no HTTP response was received.
type Error struct {
	Kind       error
	StatusCode int
	Message    string
	cause      error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%v: status %d: %s", e.Kind, e.StatusCode, e.Message)
	}
	if e.cause != nil {
		return fmt.Sprintf("%v: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Kind }

// Unreachable wraps a transport-level failure.
func Unreachable(cause error) error {
	return &Error{Kind: ErrUnreachable, cause: cause}
}

// AuthFailed records a credential rejection with the upstream status code.
func AuthFailed(statusCode int, message string) error {
	return &Error{Kind: ErrAuthFailed, StatusCode: statusCode, Message: message}
}

// Protocol wraps a response-shape failure.
func Protocol(cause error) error {
	return &Error{Kind: ErrProtocol, cause: cause}
}

// Persistence wraps a build-store write failure.
func Persistence(cause error) error {
	return &Error{Kind: ErrPersistence, cause: cause}
}
