package mirror

import (
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
)

// ErrorCode classifies storage failures.
type ErrorCode string

const (
	CodeNotInitialized    ErrorCode = "NOT_INITIALIZED"
	CodeQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"
	CodeConstraint        ErrorCode = "CONSTRAINT"
	CodeMalformedRecord   ErrorCode = "MALFORMED_RECORD"
	CodeUnknownCollection ErrorCode = "UNKNOWN_COLLECTION"
	CodeInvalidQuery      ErrorCode = "INVALID_QUERY"
	CodeIO                ErrorCode = "IO"
)

// StorageError is returned by every failing mirror operation.
type StorageError struct {
	Code ErrorCode
	Op   string
	Kind string
	Err  error
}

func (e *StorageError) Error() string {
	target := e.Op
	if e.Kind != "" {
		target = e.Op + " " + e.Kind
	}
	if e.Err == nil {
		return fmt.Sprintf("mirror: %s: %s", target, e.Code)
	}
	return fmt.Sprintf("mirror: %s: %s: %v", target, e.Code, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// HasCode reports whether err wraps a *StorageError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// wrapErr classifies a driver error. Existing *StorageError values pass
// through unchanged.
func wrapErr(op, kind string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Code: classify(err), Op: op, Kind: kind, Err: err}
}

func classify(err error) ErrorCode {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrFull:
			return CodeQuotaExceeded
		case sqlite3.ErrConstraint:
			return CodeConstraint
		}
	}
	return CodeIO
}
