package core

// error_messages.go turns technical errors into messages with support codes.
//
// # Error Codes Reference
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: the file exceeds the configured size limit
//	          Action: Split the file into smaller files
//	FILE002 - Malformed CSV: a quoted field is never closed or has stray quotes
//	          Action: Re-export the file from your spreadsheet program
//	FILE003 - Encoding error: the file is not in a supported text encoding
//	          Action: Save the file as UTF-8
//	FILE004 - No file: no file was selected
//	          Action: Please select a CSV file
//	FILE005 - Empty file: the file has no data rows
//	          Action: Upload a CSV file with a header and at least one row
//
// # Mapping Errors (MAP001-MAP099)
//
//	MAP001 - Email not mapped
//	MAP002 - Column used twice
//	MAP003 - Column out of range
//	MAP004 - Unknown field
//
// # Import Errors (UPL001-UPL099)
//
//	UPL001 - Import cancelled
//	UPL002 - System busy: too many imports running
//	UPL003 - Session not found or expired
//	UPL004 - Request cancelled
//	UPL005 - Request timed out
//	UPL006 - Action not allowed in the session's current state
//	UPL007 - Import still running
//
// # Submission Errors (SUB001-SUB099)
//
//	SUB001 - Batch rejected by the subscriber backend
//	SUB002 - Subscriber backend unreachable
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error; check application logs for the technical error
//
// # Matching
//
// Typed errors (*ParseError, *MappingError) and sentinels are matched with
// errors.As and errors.Is first. Anything else falls back to
// case-insensitive substring patterns; the first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var kindMessages = map[ErrorKind]UserMessage{
	KindEmptyFile: {
		Message: "The uploaded file has no data rows",
		Action:  "Upload a CSV file with a header and at least one row",
		Code:    "FILE005",
	},
	KindMalformedQuoting: {
		Message: "The file is not valid CSV",
		Action:  "Check for unclosed quotes or re-export the file from your spreadsheet program",
		Code:    "FILE002",
	},
	KindMissingRequiredField: {
		Message: "The email column is not mapped",
		Action:  "Choose which column holds email addresses",
		Code:    "MAP001",
	},
	KindDuplicateColumnUse: {
		Message: "The same column is mapped to more than one field",
		Action:  "Map each column to at most one field",
		Code:    "MAP002",
	},
	KindColumnOutOfRange: {
		Message: "A mapped column does not exist in the file",
		Action:  "Pick a column from the file's header",
		Code:    "MAP003",
	},
	KindUnknownField: {
		Message: "The mapping names a field that does not exist",
		Action:  "Use one of: email, firstName, lastName, tags",
		Code:    "MAP004",
	},
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

var sentinelMessages = []sentinelMessage{
	{ErrFileTooLarge, UserMessage{
		Message: "File exceeds the maximum size",
		Action:  "Split the file into smaller files",
		Code:    "FILE001",
	}},
	{ErrNoFile, UserMessage{
		Message: "No file was selected",
		Action:  "Please select a CSV file",
		Code:    "FILE004",
	}},
	{ErrTooManySessions, UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "UPL002",
	}},
	{ErrSessionNotFound, UserMessage{
		Message: "Import session not found",
		Action:  "The session may have expired. Please upload the file again",
		Code:    "UPL003",
	}},
	{ErrInvalidState, UserMessage{
		Message: "This action is not possible at the current step of the import",
		Action:  "Refresh the import status and continue from there",
		Code:    "UPL006",
	}},
	{ErrImportRunning, UserMessage{
		Message: "The import is still running",
		Action:  "Wait for the import to finish, then ask for the report again",
		Code:    "UPL007",
	}},
	{ErrBatchRejected, UserMessage{
		Message: "The subscriber service rejected the data",
		Action:  "Download the failed rows and review them",
		Code:    "SUB001",
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL004",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or check your connection",
		Code:    "UPL005",
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns catches errors that lost their type on the way, such as
// messages relayed from a backend. Order matters: specific before general.
var errorPatterns = []errorPattern{
	{"file too large", sentinelMessages[0].msg},
	{"encoding error", UserMessage{
		Message: "File is not in a supported text encoding",
		Action:  "Save the file as UTF-8",
		Code:    "FILE003",
	}},
	{"no file provided", sentinelMessages[1].msg},
	{"empty file", kindMessages[KindEmptyFile]},
	{"malformed quoting", kindMessages[KindMalformedQuoting]},
	{"import cancelled", UserMessage{
		Message: "Import was cancelled",
		Action:  "Start a new import when ready",
		Code:    "UPL001",
	}},
	{"too many concurrent imports", sentinelMessages[2].msg},
	{"session not found", sentinelMessages[3].msg},
	{"batch rejected", sentinelMessages[6].msg},
	{"connection refused", UserMessage{
		Message: "Unable to reach the subscriber service",
		Action:  "Please try again in a few moments",
		Code:    "SUB002",
	}},
	{"no such host", UserMessage{
		Message: "Unable to reach the subscriber service",
		Action:  "Please try again in a few moments",
		Code:    "SUB002",
	}},
	{"context canceled", sentinelMessages[7].msg},
	{"context deadline exceeded", sentinelMessages[8].msg},
	{"rate limit", UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message. A nil
// error maps to the zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ue *UserError
	if errors.As(err, &ue) {
		return ue.User
	}
	var pe *ParseError
	if errors.As(err, &pe) {
		if msg, ok := kindMessages[pe.Kind]; ok {
			return msg
		}
	}
	var me *MappingError
	if errors.As(err, &me) {
		if msg, ok := kindMessages[me.Kind]; ok {
			return msg
		}
	}
	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError formats err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with the message
// shown to users.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
