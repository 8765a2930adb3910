package core

// validation.go normalizes and validates one raw row against a mapping.
//
// Rules run in a fixed order so the errors for a row are deterministic:
//
//  1. cells are extracted for every mapped field (padded cells are empty)
//  2. email is trimmed, lower-cased and checked; a bad email rejects the row
//  3. first and last names are trimmed and truncated to MaxNameLength runes
//  4. tags are split, trimmed, emptied out and deduplicated
//
// Rows the parser had to pad or truncate carry a warning. Warnings never
// reject a row.

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

// Default validation settings.
const (
	DefaultMaxNameLength = 255
	DefaultTagDelimiter  = "|"
)

var validate = validator.New()

// ValidationRules configures a RowValidator.
type ValidationRules struct {
	MaxNameLength int    // rune limit for names; <= 0 uses DefaultMaxNameLength
	TagDelimiter  string // empty uses DefaultTagDelimiter
}

// RowResult holds exactly one of Record or a non-empty Errors.
type RowResult struct {
	Record   *Record
	Errors   []RowError
	Warnings []RowError
}

// OK reports whether the row produced a record.
func (r RowResult) OK() bool {
	return r.Record != nil
}

// RowValidator validates rows for a confirmed mapping.
type RowValidator struct {
	mapping FieldMapping
	width   int
	rules   ValidationRules
}

// NewRowValidator creates a validator. width is the header width, used to
// detect rows the parser padded or truncated.
func NewRowValidator(mapping FieldMapping, width int, rules ValidationRules) *RowValidator {
	if rules.MaxNameLength <= 0 {
		rules.MaxNameLength = DefaultMaxNameLength
	}
	if rules.TagDelimiter == "" {
		rules.TagDelimiter = DefaultTagDelimiter
	}
	return &RowValidator{mapping: mapping, width: width, rules: rules}
}

// Validate checks one row. It does not modify row.
func (v *RowValidator) Validate(row RawRow) RowResult {
	var res RowResult

	if row.Width != v.width {
		res.Warnings = append(res.Warnings, RowError{
			Row:     row.Index,
			Field:   RowField,
			Kind:    KindInconsistentColumnCount,
			Message: fmt.Sprintf("expected %d columns, got %d", v.width, row.Width),
		})
	}

	email := strings.ToLower(strings.TrimSpace(v.cell(row, FieldEmail)))
	if msg := checkEmail(email); msg != "" {
		res.Errors = append(res.Errors, RowError{
			Row:     row.Index,
			Field:   string(FieldEmail),
			Kind:    KindInvalidEmail,
			Message: msg,
		})
		return res
	}

	rec := &Record{RowIndex: row.Index, Email: email}

	if _, ok := v.mapping.Column(FieldFirstName); ok {
		rec.FirstName = v.name(row, FieldFirstName, &res)
	}
	if _, ok := v.mapping.Column(FieldLastName); ok {
		rec.LastName = v.name(row, FieldLastName, &res)
	}
	if _, ok := v.mapping.Column(FieldTags); ok {
		rec.Tags = SplitTags(v.cell(row, FieldTags), v.rules.TagDelimiter)
	}

	res.Record = rec
	return res
}

func (v *RowValidator) cell(row RawRow, f Field) string {
	col, ok := v.mapping.Column(f)
	if !ok || col >= len(row.Cells) {
		return ""
	}
	return row.Cells[col]
}

func (v *RowValidator) name(row RawRow, f Field, res *RowResult) string {
	s := strings.TrimSpace(v.cell(row, f))
	if utf8.RuneCountInString(s) <= v.rules.MaxNameLength {
		return s
	}
	res.Warnings = append(res.Warnings, RowError{
		Row:     row.Index,
		Field:   string(f),
		Kind:    KindTruncated,
		Message: fmt.Sprintf("truncated to %d characters", v.rules.MaxNameLength),
	})
	return strings.TrimSpace(string([]rune(s)[:v.rules.MaxNameLength]))
}

// checkEmail returns an empty string for a usable address, otherwise a
// message describing the problem. email must already be normalized.
func checkEmail(email string) string {
	if email == "" {
		return "email is empty"
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || domain == "" || strings.Contains(domain, "@") {
		return fmt.Sprintf("%q is missing a local part or domain", email)
	}
	if strings.ContainsFunc(email, unicode.IsSpace) {
		return fmt.Sprintf("%q contains whitespace", email)
	}
	if !strings.Contains(domain, ".") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return fmt.Sprintf("%q has no dotted domain", email)
	}
	if err := validate.Var(email, "email"); err != nil {
		return fmt.Sprintf("%q is not a valid email address", email)
	}
	return ""
}

// SplitTags splits s on delim, trims each tag, drops empty ones and keeps
// the first occurrence of each (case-sensitive). Returns nil when no tags
// remain.
func SplitTags(s, delim string) []string {
	var tags []string
	seen := map[string]bool{}
	for _, t := range strings.Split(s, delim) {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	return tags
}
