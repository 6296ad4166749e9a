package bulletin

import (
	"errors"
	"fmt"

	"github.com/maorm36/bulletin/store"
)

// Sentinel errors for the bulletin package.
// Use errors.Is() to check for these errors.
var (
	// ErrInvalidInput is matched by every *ValidationError.
	ErrInvalidInput = errors.New("bulletin: invalid input")

	// ErrStoreFailure is matched by every *StoreError.
	ErrStoreFailure = errors.New("bulletin: store failure")

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("bulletin: store is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	// Wraps store.ErrNotConnected for consistent error checking.
	ErrNotConnected = fmt.Errorf("bulletin: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	// Wraps store.ErrAlreadyConnected for consistent error checking.
	ErrAlreadyConnected = fmt.Errorf("bulletin: %w", store.ErrAlreadyConnected)

	// ErrStreamOutOfBounds is returned when Message() is called without a successful Next().
	ErrStreamOutOfBounds = errors.New("bulletin: stream out of bounds - call Next() first")
)

// ValidationError provides details about a validation failure.
// It is always raised before any store call is made.
type ValidationError struct {
	Field   string // The field or parameter that failed validation
	Message string // Human-readable error message
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("bulletin: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// StoreError reports a failure of the underlying store.
// Both ErrStoreFailure and the store's own error match via errors.Is.
type StoreError struct {
	Op  string // The operation that failed (e.g., "save", "find_page")
	Err error  // The underlying store error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("bulletin: store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreFailure, e.Err}
}

// storeError wraps err as a *StoreError unless it is nil or already one.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// IsValidationError checks if the error is a validation error and returns details.
func IsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// IsStoreError checks if the error is a store error and returns details.
func IsStoreError(err error) (*StoreError, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// EventPublishError is returned when event publishing fails but the operation succeeded.
// The message was created (or the store cleared), but the event notification failed.
type EventPublishError struct {
	Event     string // The event name (e.g., "MessageCreated")
	MessageID string // The message ID the event was for, empty for bulk events
	Err       error  // The underlying publish error
}

func (e *EventPublishError) Error() string {
	if e.MessageID == "" {
		return fmt.Sprintf("bulletin: event %s publish failed: %v", e.Event, e.Err)
	}
	return fmt.Sprintf("bulletin: event %s publish failed for message %s: %v", e.Event, e.MessageID, e.Err)
}

func (e *EventPublishError) Unwrap() error {
	return e.Err
}

// IsEventPublishError checks if the error is an event publish error and returns details.
// This is useful when eventErrorsFatal=true but you still want to know the write happened.
func IsEventPublishError(err error) (*EventPublishError, bool) {
	var epe *EventPublishError
	if errors.As(err, &epe) {
		return epe, true
	}
	return nil, false
}
