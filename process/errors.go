package process

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorType tells the operator whether the input or the system is at fault
type ErrorType string

const (
	ErrorTypeContent ErrorType = "CONTENT_ERROR"
	ErrorTypeUnknown ErrorType = "UNKNOWN_ERROR"
)

var (
	// ErrTimeout a polled operation did not finish within the step timeout
	ErrTimeout = errors.New("operation timed out")
	// ErrPollingFailed at least one polled operation reported an error
	ErrPollingFailed = errors.New("polling failed")
)

// StepError failure of one step invocation.
// Message is the user-facing text, it names the resource the step was working on.
type StepError struct {
	ErrorType ErrorType
	Retriable bool
	Message   string
	cause     error
}

func (e *StepError) Error() string {
	if e.cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.cause)
}

func (e *StepError) Unwrap() error {
	return e.cause
}

// NewStepError fatal failure
func NewStepError(cause error, format string, args ...any) *StepError {
	return &StepError{
		ErrorType: ErrorTypeUnknown,
		Message:   fmt.Sprintf(format, args...),
		cause:     cause,
	}
}

// NewRetriableError the step may succeed when invoked again
func NewRetriableError(cause error, format string, args ...any) *StepError {
	return &StepError{
		ErrorType: ErrorTypeUnknown,
		Retriable: true,
		Message:   fmt.Sprintf(format, args...),
		cause:     cause,
	}
}

// NewContentError invalid input, never retried
func NewContentError(format string, args ...any) *StepError {
	return &StepError{
		ErrorType: ErrorTypeContent,
		Message:   fmt.Sprintf(format, args...),
	}
}

// AsContentError keeps err as the cause of a content error
func AsContentError(err error, format string, args ...any) *StepError {
	return &StepError{
		ErrorType: ErrorTypeContent,
		Message:   fmt.Sprintf(format, args...),
		cause:     err,
	}
}
