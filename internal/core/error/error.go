package errx

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// RedisNotFoundMessage describes missing Redis keys.
	RedisNotFoundMessage = "redis key not found"
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError with the provided information.
func New(err error, status int, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Message: message,
	}
}

// Is reports whether the target matches the underlying error or the AppError itself.
func (e *AppError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// As allows casting to AppError or the wrapped error in a chain.
func (e *AppError) As(target any) bool {
	if errors.As(e.Err, target) {
		return true
	}
	if t, ok := target.(**AppError); ok {
		*t = e
		return true
	}
	return false
}

// Pipeline outcome errors. Every terminal path of the pipeline maps to
// exactly one of these; stages convert faults into state fields instead of
// letting them cross the stage boundary, so these surface in terminal
// messages and logs rather than as panics.
var (
	// ErrNotRelevant marks a question or instruction deemed unanswerable
	// against the schema or table. Never retried.
	ErrNotRelevant = errors.New("not relevant")
	// ErrValidationFailure marks a query still invalid after all retry rounds.
	ErrValidationFailure = errors.New("query validation failed")
	// ErrExecution marks query or transformation code that raised at runtime.
	ErrExecution = errors.New("execution error")
	// ErrUnsafeOperation marks code rejected by the risk gate before running.
	ErrUnsafeOperation = errors.New("unsafe operation")
	// ErrInfeasibleVisualization marks a table unsuitable for any chart.
	ErrInfeasibleVisualization = errors.New("infeasible visualization")
	// ErrInvalidOutput marks sandbox code that did not rebind the table name.
	ErrInvalidOutput = errors.New("invalid sandbox output")
)

// WrapParse converts a structured-output parse failure into an AppError so a
// malformed model response is never mistaken for a valid verdict.
func WrapParse(err error) *AppError {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, "malformed model response")
}
