package store

import (
	"fmt"

	"emperror.dev/errors"
	"github.com/apex/log"
)

type ErrorCode string

const (
	ErrCodeNotFound         ErrorCode = "E_NOTFOUND"
	ErrCodeExists           ErrorCode = "E_EXISTS"
	ErrCodeNotAFile         ErrorCode = "E_NOTAFILE"
	ErrCodeNotADirectory    ErrorCode = "E_NOTADIR"
	ErrCodeNotEmpty         ErrorCode = "E_NOTEMPTY"
	ErrCodeNoSpace          ErrorCode = "E_NOSPACE"
	ErrCodeInvalidOperation ErrorCode = "E_INVALIDOP"
	ErrCodeSecurityRejected ErrorCode = "E_SECURITY"
	ErrCodeFailed           ErrorCode = "E_FAILED"
	ErrCodeUnknownError     ErrorCode = "E_UNKNOWN"
)

type Error struct {
	code ErrorCode

	// The virtual path the operation was addressing when the error occurred.
	path string

	// The underlying cause, if any.
	err error
}

// newStoreError returns a new error instance with a stack trace associated
// with it at the point this function was called.
func newStoreError(code ErrorCode, err error, path string) error {
	return errors.WithStackDepth(&Error{code: code, err: err, path: path}, 1)
}

// IsErrorCode checks if err is a store Error and matches the provided code.
func IsErrorCode(err error, code ErrorCode) bool {
	var serr *Error
	if err != nil && errors.As(err, &serr) {
		return serr.code == code
	}
	return false
}

// Code returns the ErrorCode associated with this error instance.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Path returns the virtual path associated with this error.
func (e *Error) Path() string {
	return e.path
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Error() string {
	switch e.code {
	case ErrCodeNotFound:
		return fmt.Sprintf("store: entry not found: %s", e.pathOrEmpty())
	case ErrCodeExists:
		return fmt.Sprintf("store: entry already exists: %s", e.pathOrEmpty())
	case ErrCodeNotAFile:
		return fmt.Sprintf("store: entry is not a file: %s", e.pathOrEmpty())
	case ErrCodeNotADirectory:
		return fmt.Sprintf("store: entry is not a directory: %s", e.pathOrEmpty())
	case ErrCodeNotEmpty:
		return fmt.Sprintf("store: directory is not empty: %s", e.pathOrEmpty())
	case ErrCodeNoSpace:
		return "store: not enough quota space"
	case ErrCodeInvalidOperation:
		return fmt.Sprintf("store: invalid operation on path: %s", e.pathOrEmpty())
	case ErrCodeSecurityRejected:
		return fmt.Sprintf("store: path rejected for security reasons: %s", e.pathOrEmpty())
	case ErrCodeFailed:
		return fmt.Sprintf("store: internal invariant violated: %s", e.pathOrEmpty())
	}
	if e.err != nil {
		return fmt.Sprintf("store: an error occurred: %s", e.err)
	}
	return "store: an unhandled error occurred"
}

func (e *Error) pathOrEmpty() string {
	if e.path == "" {
		return "<root>"
	}
	return e.path
}

// Generates an error logger instance with some basic information.
func (s *Store) error(err error) *log.Entry {
	return log.WithField("subsystem", "store").WithField("root", s.root).WithField("error", err)
}
