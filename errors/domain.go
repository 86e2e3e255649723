package errors

import (
	"errors"
	"fmt"
)

// InvalidInputError reports a request whose data could not be accepted.
// Slot is the offending input position, or -1 when the arity was wrong.
type InvalidInputError struct {
	Slot   int
	Reason string
	Err    error
}

// NewInvalidInput builds an InvalidInputError for slot.
func NewInvalidInput(slot int, reason string, err error) *InvalidInputError {
	return &InvalidInputError{Slot: slot, Reason: reason, Err: err}
}

func (e *InvalidInputError) Error() string {
	msg := "invalid input"
	if e.Slot >= 0 {
		msg = fmt.Sprintf("invalid input at slot %d", e.Slot)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidInputError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidInput}
	}
	return []error{ErrInvalidInput, e.Err}
}

// ConfigurationError is raised while constructing an interface whose
// declaration is malformed.
type ConfigurationError struct {
	Reason string
}

// NewConfiguration formats a ConfigurationError.
func NewConfiguration(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// PredictionError wraps a failure raised by the user function at FnIndex.
// Stack is only populated when debug reporting is enabled.
type PredictionError struct {
	FnIndex int
	Err     error
	Stack   string
}

func (e *PredictionError) Error() string {
	return fmt.Sprintf("prediction failed in function %d: %v", e.FnIndex, e.Err)
}

func (e *PredictionError) Unwrap() []error {
	return []error{ErrPredictionFailed, e.Err}
}

// FlagWriteError reports that a flag record could not be persisted.
type FlagWriteError struct {
	Err error
}

func (e *FlagWriteError) Error() string {
	return "flag write failed: " + e.Err.Error()
}

func (e *FlagWriteError) Unwrap() []error {
	return []error{ErrFlagWriteFailed, e.Err}
}

// SlotOf returns the input slot carried by an InvalidInputError in err's
// chain, and false if there is none.
func SlotOf(err error) (int, bool) {
	var ie *InvalidInputError
	if errors.As(err, &ie) {
		return ie.Slot, true
	}
	return 0, false
}
