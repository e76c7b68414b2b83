package registry

import (
	"errors"
	"fmt"
)

// Domain errors. All of them are recoverable: the Registry stays usable.
var (
	// ErrAlreadyRegistered is returned when Register targets a key that is present.
	ErrAlreadyRegistered = errors.New("land record already registered")

	// ErrNotFound is returned when Verify or Lookup targets an absent key.
	ErrNotFound = errors.New("land record not found")

	// ErrInvalidKey is returned for empty or oversized keys.
	ErrInvalidKey = errors.New("invalid record key")

	// ErrUnauthenticated is returned when the host passes an empty Identity.
	ErrUnauthenticated = errors.New("caller identity required")
)

// OpError records the operation and key that failed.
type OpError struct {
	Op  string
	Key RecordKey
	Err error
}

func (e *OpError) Error() string {
	if len(e.Key) == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Key.Abbrev(), e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// NotifyError is returned when the state change succeeded but the event sink
// rejected the notification. For Register the record is already stored.
type NotifyError struct {
	Event Event
	Err   error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("emit %s event: %v", e.Event.Kind, e.Err)
}

func (e *NotifyError) Unwrap() error {
	return e.Err
}

// IsAlreadyRegistered reports whether err is an insert-once rejection.
func IsAlreadyRegistered(err error) bool {
	return errors.Is(err, ErrAlreadyRegistered)
}

// IsNotFound reports whether err means nothing is registered under the key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsNotifyError reports whether err came from the event sink.
func IsNotifyError(err error) bool {
	var notify *NotifyError
	return errors.As(err, &notify)
}
