package rag

import (
	"github.com/pkg/errors"
)

// Error kinds. Components wrap these with context; callers classify with errors.Is.
var (
	ErrParse              = errors.New("parse error")
	ErrEmbed              = errors.New("embed error")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrLLMUnavailable     = errors.New("llm unavailable")
	ErrInvalidScope       = errors.New("invalid scope")
	ErrCancelledStream    = errors.New("stream cancelled")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrNotFound           = errors.New("not found")
)

// kindError keeps the kind reachable through errors.Is while carrying
// a human message and the underlying cause.
type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.kind.Error() + ": " + e.msg
	}
	return e.kind.Error() + ": " + e.msg + ": " + e.cause.Error()
}

func (e *kindError) Is(target error) bool {
	return target == e.kind
}

func (e *kindError) Unwrap() error {
	return e.cause
}

// NewError tags cause (may be nil) with an error kind.
func NewError(kind error, cause error, msg string) error {
	return errors.WithStack(&kindError{kind: kind, msg: msg, cause: cause})
}

// Errorf is NewError with formatting.
func Errorf(kind error, cause error, format string, args ...any) error {
	return NewError(kind, cause, errors.Errorf(format, args...).Error())
}
