package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies parse, mapping and row errors.
type ErrorKind string

const (
	// Parse errors (fatal)
	KindEmptyFile        ErrorKind = "empty_file"
	KindMalformedQuoting ErrorKind = "malformed_quoting"

	// Mapping errors (recoverable by re-mapping)
	KindMissingRequiredField ErrorKind = "missing_required_field"
	KindDuplicateColumnUse   ErrorKind = "duplicate_column_use"
	KindColumnOutOfRange     ErrorKind = "column_out_of_range"
	KindUnknownField         ErrorKind = "unknown_field"

	// Row errors
	KindInvalidEmail     ErrorKind = "invalid_email"
	KindSubmissionFailed ErrorKind = "submission_failed"

	// Row warnings
	KindTruncated               ErrorKind = "truncated"
	KindInconsistentColumnCount ErrorKind = "inconsistent_column_count"
)

// RowField is used as RowError.Field for errors that concern the whole row.
const RowField = "row"

var (
	// ErrInvalidState is returned when a session operation is called in a
	// state that does not allow it.
	ErrInvalidState = errors.New("invalid session state")

	// ErrSessionNotFound is returned for unknown or expired session ids.
	ErrSessionNotFound = errors.New("import session not found")

	// ErrImportRunning is returned when a report is requested before the
	// session reached a terminal state.
	ErrImportRunning = errors.New("import still in progress")

	// ErrFileTooLarge is returned when the input exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrNoFile is returned when the request carried no file.
	ErrNoFile = errors.New("no file provided")

	// ErrBatchRejected marks a batch failure that retrying cannot fix,
	// such as a 4xx response from a backend.
	ErrBatchRejected = errors.New("batch rejected by backend")

	// ErrUnsupportedSeparator is returned by ParseSeparatorName.
	ErrUnsupportedSeparator = errors.New("unsupported separator")
)

// ParseError is a fatal failure to read the file as CSV.
type ParseError struct {
	Kind ErrorKind
	Line int // 0 when not tied to a line
	Err  error
}

func (e *ParseError) Error() string {
	msg := "empty file"
	if e.Kind == KindMalformedQuoting {
		msg = "malformed quoting"
	}
	if e.Line > 0 {
		msg = fmt.Sprintf("%s on line %d", msg, e.Line)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// MappingError rejects a column mapping. The session stays in the mapping
// state so the caller can correct it.
type MappingError struct {
	Kind   ErrorKind
	Field  Field
	Column int
	Other  Field // the field already using Column, for DuplicateColumnUse
}

func (e *MappingError) Error() string {
	switch e.Kind {
	case KindMissingRequiredField:
		return fmt.Sprintf("mapping: required field %s is not mapped", e.Field)
	case KindDuplicateColumnUse:
		return fmt.Sprintf("mapping: column %d is used by both %s and %s", e.Column, e.Other, e.Field)
	case KindColumnOutOfRange:
		return fmt.Sprintf("mapping: column %d for %s is out of range", e.Column, e.Field)
	case KindUnknownField:
		return fmt.Sprintf("mapping: unknown field %q", e.Field)
	default:
		return "mapping: " + string(e.Kind)
	}
}

// RowError records a problem with one row. The same shape is used for
// warnings, which never exclude the row.
type RowError struct {
	Row     int       `json:"row"`
	Field   string    `json:"field"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Message)
}

// IsParseError reports whether err is a *ParseError of the given kind.
func IsParseError(err error, kind ErrorKind) bool {
	var pe *ParseError
	return errors.As(err, &pe) && pe.Kind == kind
}

// IsMappingError reports whether err is a *MappingError of the given kind.
func IsMappingError(err error, kind ErrorKind) bool {
	var me *MappingError
	return errors.As(err, &me) && me.Kind == kind
}
