// Package errors provides the error taxonomy for broker operations.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNoCredentials     = errors.New("no credentials found")
	ErrTokenExpired      = errors.New("session token expired")
	ErrNotSupported      = errors.New("operation not supported by broker")
	ErrInvalidOrder      = errors.New("invalid order")
	ErrStreamClosed      = errors.New("tick stream closed")
	ErrStrategyNotFound  = errors.New("strategy not found")
	ErrAccountNotFound   = errors.New("broker account not found")
	ErrInsufficientData  = errors.New("insufficient candle data")
	ErrInvalidPeriod     = errors.New("invalid indicator period")
	ErrInvalidConfig     = errors.New("invalid configuration")
)

// AuthError represents a login or session failure. It is never silently
// retried more than once per call.
type AuthError struct {
	BrokerID  string
	AccountID string
	Reason    string
	Err       error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error [%s/%s]: %s: %v", e.BrokerID, e.AccountID, e.Reason, e.Err)
	}
	return fmt.Sprintf("auth error [%s/%s]: %s", e.BrokerID, e.AccountID, e.Reason)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates a new AuthError.
func NewAuthError(brokerID, accountID, reason string, err error) *AuthError {
	return &AuthError{BrokerID: brokerID, AccountID: accountID, Reason: reason, Err: err}
}

// ValidationError represents a broker rejecting the semantic content of a
// request. The broker's own message is surfaced verbatim, never swallowed.
type ValidationError struct {
	BrokerID string
	Field    string
	Message  string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error [%s] %s: %s", e.BrokerID, e.Field, e.Message)
	}
	return fmt.Sprintf("validation error [%s]: %s", e.BrokerID, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(brokerID, field, message string) *ValidationError {
	return &ValidationError{BrokerID: brokerID, Field: field, Message: message}
}

// ProtocolError represents a transport or decoding failure talking to a
// broker endpoint. It degrades the specific call only.
type ProtocolError struct {
	BrokerID   string
	Operation  string
	StatusCode int
	Err        error
}

func (e *ProtocolError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("protocol error [%s] %s: status %d: %v", e.BrokerID, e.Operation, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("protocol error [%s] %s: %v", e.BrokerID, e.Operation, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(brokerID, operation string, statusCode int, err error) *ProtocolError {
	return &ProtocolError{BrokerID: brokerID, Operation: operation, StatusCode: statusCode, Err: err}
}

// UnknownBrokerError is a caller error: the broker id is not present in the
// registry's configured set. Fail fast, no fallback broker selection.
type UnknownBrokerError struct {
	BrokerID string
}

func (e *UnknownBrokerError) Error() string {
	return fmt.Sprintf("unknown broker: %s", e.BrokerID)
}

// NewUnknownBrokerError creates a new UnknownBrokerError.
func NewUnknownBrokerError(brokerID string) *UnknownBrokerError {
	return &UnknownBrokerError{BrokerID: brokerID}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
