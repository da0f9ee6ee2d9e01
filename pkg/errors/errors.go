package errors

import (
	"errors"
	"fmt"
)

// Sentinels for domain errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrValidation  = errors.New("validation error")
	ErrUnavailable = errors.New("service unavailable")

	// ErrConfiguration marks missing credentials or required settings.
	// Fatal for the operation, never retried.
	ErrConfiguration = errors.New("configuration error")

	// ErrDestinationResolution marks a destination handle that cannot be
	// resolved to a dial string.
	ErrDestinationResolution = errors.New("destination resolution error")

	// ErrDecryptionPending is a sub-case of destination resolution: the
	// external decryption of the destination has not completed yet. It must
	// surface as "decryption pending", not as a generic carrier failure.
	ErrDecryptionPending = fmt.Errorf("%w: decryption pending", ErrDestinationResolution)

	// ErrCarrier marks transient telephony transport failures, retried on
	// the compliance schedule.
	ErrCarrier = errors.New("carrier error")

	// ErrNoOutput marks a generation call that succeeded at the transport
	// level but produced nothing usable. Distinct from ErrUnavailable so
	// callers can tell a down collaborator from an empty result.
	ErrNoOutput = errors.New("no usable output")

	// ErrDataConsistency marks a record whose status claims readiness while
	// a required precondition is absent. Reported, never retried.
	ErrDataConsistency = errors.New("data consistency fault")
)

// Is reports whether err is one of the sentinels.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Wrap adds context to an error.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return errors.Join(errors.New(message), err)
}

// StepError identifies the media pipeline step that failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Step wraps an error with the pipeline step that produced it.
func Step(step string, err error) error {
	if err == nil {
		return nil
	}
	return &StepError{Step: step, Err: err}
}
