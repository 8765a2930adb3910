package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"empty file", &ParseError{Kind: KindEmptyFile}, "FILE005"},
		{"malformed quoting", &ParseError{Kind: KindMalformedQuoting, Line: 3}, "FILE002"},
		{"wrapped parse error", fmt.Errorf("load: %w", &ParseError{Kind: KindEmptyFile}), "FILE005"},
		{"file too large", fmt.Errorf("%w: exceeds 10 bytes", ErrFileTooLarge), "FILE001"},
		{"no file", ErrNoFile, "FILE004"},
		{"missing email", &MappingError{Kind: KindMissingRequiredField, Field: FieldEmail}, "MAP001"},
		{"duplicate column", &MappingError{Kind: KindDuplicateColumnUse, Field: FieldTags, Other: FieldFirstName}, "MAP002"},
		{"out of range", &MappingError{Kind: KindColumnOutOfRange, Field: FieldTags, Column: 9}, "MAP003"},
		{"unknown field", &MappingError{Kind: KindUnknownField, Field: "phone"}, "MAP004"},
		{"busy", ErrTooManySessions, "UPL002"},
		{"not found", fmt.Errorf("get %s: %w", "abc", ErrSessionNotFound), "UPL003"},
		{"context canceled", context.Canceled, "UPL004"},
		{"deadline", fmt.Errorf("submit: %w", context.DeadlineExceeded), "UPL005"},
		{"invalid state", ErrInvalidState, "UPL006"},
		{"still running", ErrImportRunning, "UPL007"},
		{"batch rejected", fmt.Errorf("%w: 400 Bad Request", ErrBatchRejected), "SUB001"},
		{"encoding pattern", errors.New("encoding error: unsupported encoding \"ebcdic\""), "FILE003"},
		{"connection refused pattern", errors.New("dial tcp 127.0.0.1:8080: connect: connection refused"), "SUB002"},
		{"pattern is case-insensitive", errors.New("RATE LIMIT exceeded"), "RATE001"},
		{"unknown", errors.New("random internal error xyz"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if tt.err != nil && (got.Message == "" || got.Action == "") {
				t.Errorf("MapError() = %+v, want message and action", got)
			}
		})
	}
}

func TestErrorCodesUnique(t *testing.T) {
	seen := map[string]string{}
	check := func(msg UserMessage) {
		if prev, ok := seen[msg.Code]; ok && prev != msg.Message {
			t.Errorf("code %s used for %q and %q", msg.Code, prev, msg.Message)
		}
		seen[msg.Code] = msg.Message
	}
	for _, m := range kindMessages {
		check(m)
	}
	for _, s := range sentinelMessages {
		check(s.msg)
	}
	for _, p := range errorPatterns {
		check(p.msg)
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrTooManySessions)
	want := "System is busy processing other imports (Code: UPL002). Please wait a moment and try again"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"typed error is user facing", &ParseError{Kind: KindEmptyFile}, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := fmt.Errorf("%w: exceeds 20971520 bytes", ErrFileTooLarge)
		userErr := NewUserError(techErr)

		if !strings.HasPrefix(userErr.Error(), "File exceeds") {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if !errors.Is(userErr, ErrFileTooLarge) {
			t.Error("Unwrap() should return original error")
		}
		if got := MapError(userErr); got.Code != "FILE001" {
			t.Errorf("MapError(UserError) code = %q, want FILE001", got.Code)
		}
	})
}
