package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
)

// Sentinel errors for error classification.
var (
	// ErrConstruction indicates the unit could not be evaluated or the
	// entry point binding is missing.
	ErrConstruction = errors.New("construction error")

	// ErrTimeout indicates the wall-clock budget expired.
	ErrTimeout = errors.New("execution timed out")

	// ErrCanceled indicates the caller abandoned the evaluation.
	ErrCanceled = errors.New("execution canceled")
)

// ConstructionError reports a failure while materializing a sandbox
type ConstructionError struct {
	Message string
	Err     error
}

// Error returns the message, including the cause if any
func (e *ConstructionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// Is matches ErrConstruction
func (e *ConstructionError) Is(target error) bool {
	return target == ErrConstruction
}

// ThrownError is a value thrown by submitted code
type ThrownError struct {
	Message string
}

func (e *ThrownError) Error() string {
	return e.Message
}

// unprintable stands in for a value whose string conversion threw
const unprintable = "[unprintable value]"

// classify converts an interpreter error into one of the package errors.
// It renders thrown values with interpreted code and so must run under guard.
func (s *Sandbox) classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if ctx.Err() != nil {
			return contextError(ctx)
		}
		return &ThrownError{Message: fmt.Sprintf("interrupted: %v", interrupted.Value())}
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		message, renderErr := s.render(exception.Value())
		if renderErr == nil {
			return &ThrownError{Message: message}
		}
		if errors.As(renderErr, &interrupted) && ctx.Err() != nil {
			return contextError(ctx)
		}
		return &ThrownError{Message: "uncaught exception " + unprintable}
	}

	return &ThrownError{Message: err.Error()}
}

// contextError maps a finished context onto ErrTimeout or ErrCanceled
func contextError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrCanceled
}
