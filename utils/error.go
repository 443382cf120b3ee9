package utils

import (
	"errors"
	"fmt"
)

var ErrorRecordNotFound = errors.New("record not found")

// ErrorKind is the category callers branch on.
type ErrorKind string

const (
	ErrorKindValidation       ErrorKind = "validation"
	ErrorKindReportFinalized  ErrorKind = "report_finalized"
	ErrorKindLimitExceeded    ErrorKind = "limit_exceeded"
	ErrorKindInvalidOperation ErrorKind = "invalid_operation"
	ErrorKindConflict         ErrorKind = "conflict"
	ErrorKindNotFound         ErrorKind = "not_found"
	ErrorKindInternal         ErrorKind = "internal"
)

// Base errors, one per kind. errors.Is(err, ErrReportFinalized) holds for any *Error of that kind.
var (
	ErrValidation       = errors.New("validation failed")
	ErrReportFinalized  = errors.New("report is finalized")
	ErrLimitExceeded    = errors.New("limit exceeded")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrConflict         = errors.New("conflict")
	ErrNotFound         = errors.New("not found")
)

// Error carries a kind plus the operation that produced it.
type Error struct {
	Kind    ErrorKind
	Op      string // e.g. "report.approve", "attachment.stage"
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	switch target {
	case ErrValidation:
		return e.Kind == ErrorKindValidation
	case ErrReportFinalized:
		return e.Kind == ErrorKindReportFinalized
	case ErrLimitExceeded:
		return e.Kind == ErrorKindLimitExceeded
	case ErrInvalidOperation:
		return e.Kind == ErrorKindInvalidOperation
	case ErrConflict:
		return e.Kind == ErrorKindConflict
	case ErrNotFound, ErrorRecordNotFound:
		return e.Kind == ErrorKindNotFound
	}
	return false
}

func NewError(kind ErrorKind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func WrapError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func ValidationError(op, format string, args ...any) *Error {
	return NewError(ErrorKindValidation, op, fmt.Sprintf(format, args...))
}

func FinalizedError(op string) *Error {
	return NewError(ErrorKindReportFinalized, op, "report is finalized and read-only")
}

func NotFoundError(op, format string, args ...any) *Error {
	return NewError(ErrorKindNotFound, op, fmt.Sprintf(format, args...))
}

func InvalidOperationError(op, format string, args ...any) *Error {
	return NewError(ErrorKindInvalidOperation, op, fmt.Sprintf(format, args...))
}

func ConflictError(op, format string, args ...any) *Error {
	return NewError(ErrorKindConflict, op, fmt.Sprintf(format, args...))
}

// KindOf returns the kind of the first *Error in err's chain, or ErrorKindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrorRecordNotFound) {
		return ErrorKindNotFound
	}
	return ErrorKindInternal
}

// IsRetryable reports whether an automatic retry may be attempted.
// Finalized, conflicting and missing reports always need an explicit caller decision.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case ErrorKindReportFinalized, ErrorKindConflict, ErrorKindNotFound, ErrorKindValidation, ErrorKindInvalidOperation:
		return false
	case ErrorKindLimitExceeded:
		// the batch was rejected as a whole; a smaller batch can be retried
		return true
	}
	return err != nil
}
