package arbor

import (
	"errors"
	"fmt"
)

// Common sentinel errors
var (
	ErrDataFileEmpty    = errors.New("data file has no trees")
	ErrDataFileMissing  = errors.New("data file missing")
	ErrFormatMismatch   = errors.New("format marker not found")
	ErrSchemaResolution = errors.New("field cannot be resolved")
	ErrConcurrentRun    = errors.New("another field read is running on this arbor")
	ErrUnknownFormat    = errors.New("no frontend recognises this file")
)

// Error provides structured error information for arbor operations.
type Error struct {
	Op     string // Operation that failed (e.g., "plant", "read")
	Path   string // File involved, if any
	FileID int    // Data file id, -1 if not applicable
	Field  string // Field name, if any
	Cause  error  // Underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.FileID >= 0 {
		msg += fmt.Sprintf(" (file %d)", e.FileID)
	}
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %s)", e.Field)
	}
	return fmt.Sprintf("%s: %v", msg, e.Cause)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target error matches this error's cause.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	return errors.Is(e.Cause, target)
}

// ErrorBuilder provides a fluent interface for building Errors.
type ErrorBuilder struct {
	err Error
}

// NewError creates a new error builder with the given operation.
func NewError(op string) *ErrorBuilder {
	return &ErrorBuilder{err: Error{Op: op, FileID: -1}}
}

// Path sets the file path.
func (b *ErrorBuilder) Path(p string) *ErrorBuilder {
	b.err.Path = p
	return b
}

// File sets the data file id.
func (b *ErrorBuilder) File(id int) *ErrorBuilder {
	b.err.FileID = id
	return b
}

// Field sets the field name.
func (b *ErrorBuilder) Field(name string) *ErrorBuilder {
	b.err.Field = name
	return b
}

// Cause sets the underlying error cause.
func (b *ErrorBuilder) Cause(err error) *ErrorBuilder {
	b.err.Cause = err
	return b
}

// Build returns the constructed Error.
func (b *ErrorBuilder) Build() *Error {
	return &b.err
}

// Err returns the error as an error interface.
func (b *ErrorBuilder) Err() error {
	return &b.err
}

// emptyError reports a source without trees.
func emptyError(path string) error {
	return NewError("plant").Path(path).Cause(ErrDataFileEmpty).Err()
}

// missingError reports a data file that cannot be resolved.
func missingError(path string, fileID int, cause error) error {
	if cause == nil {
		cause = ErrDataFileMissing
	} else {
		cause = errors.Join(ErrDataFileMissing, cause)
	}
	return NewError("plant").Path(path).File(fileID).Cause(cause).Err()
}

// schemaError reports a field with no schema entry.
func schemaError(field string, cause error) error {
	return NewError("resolve").Field(field).Cause(errors.Join(ErrSchemaResolution, cause)).Err()
}
