package core

import "time"

// Field is a canonical subscriber field a CSV column can be mapped to.
type Field string

const (
	FieldEmail     Field = "email"
	FieldFirstName Field = "firstName"
	FieldLastName  Field = "lastName"
	FieldTags      Field = "tags"
)

// CanonicalFields lists every field in the order suggestions are resolved.
var CanonicalFields = []Field{FieldEmail, FieldFirstName, FieldLastName, FieldTags}

// Required reports whether the field must be mapped before import.
func (f Field) Required() bool {
	return f == FieldEmail
}

// Valid reports whether f is one of CanonicalFields.
func (f Field) Valid() bool {
	for _, c := range CanonicalFields {
		if c == f {
			return true
		}
	}
	return false
}

// FieldInfo describes a canonical field for clients building a mapping UI.
type FieldInfo struct {
	Name     Field  `json:"name"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

var fieldLabels = map[Field]string{
	FieldEmail:     "Email",
	FieldFirstName: "First name",
	FieldLastName:  "Last name",
	FieldTags:      "Tags",
}

// Fields returns display information for every canonical field.
func Fields() []FieldInfo {
	out := make([]FieldInfo, len(CanonicalFields))
	for i, f := range CanonicalFields {
		out[i] = FieldInfo{Name: f, Label: fieldLabels[f], Required: f.Required()}
	}
	return out
}

// Header is the ordered list of unique column labels.
type Header []string

// RawRow is one data row as read from the file. Cells always has exactly
// len(Header) entries; Width keeps the count the file actually had.
type RawRow struct {
	Index int      `json:"row"`  // 1-based, header excluded
	Line  int      `json:"line"` // physical line the row starts on
	Cells []string `json:"cells"`
	Width int      `json:"-"`
}

// Table is the parsed form of one CSV file.
type Table struct {
	Header    Header
	Rows      []RawRow
	Separator rune
}

// Record is a validated subscriber ready for submission. Optional fields
// that were not mapped stay at their zero value.
type Record struct {
	RowIndex  int      `json:"row"`
	Email     string   `json:"email"`
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// State is a position in the import session lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateParsing    State = "parsing"
	StateMapping    State = "mapping"
	StateValidating State = "validating"
	StateSubmitting State = "submitting"
	StateCompleted  State = "completed"
	StateCancelled  State = "cancelled"
	StateAborted    State = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateAborted
}

// Status is the outcome recorded on a finished report.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusAborted   Status = "aborted"
)

// Progress is emitted after parsing, after validation and after every batch.
type Progress struct {
	SessionID string `json:"sessionId"`
	State     State  `json:"state"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
}

// Percent returns submission progress as 0-100.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		if p.State.Terminal() {
			return 100
		}
		return 0
	}
	pct := p.Processed * 100 / p.Total
	if pct > 100 {
		return 100
	}
	return pct
}

// ImportReport is the only artifact an import returns. Errors are ordered
// by row; a row appears at most once per error kind and field.
type ImportReport struct {
	SessionID  string     `json:"sessionId"`
	FileName   string     `json:"fileName,omitempty"`
	Status     Status     `json:"status"`
	Total      int        `json:"total"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Errors     []RowError `json:"errors"`
	Warnings   []RowError `json:"warnings"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
}

// Duration returns the wall time the import took.
func (r *ImportReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedRows returns the distinct row numbers that carry at least one error.
func (r *ImportReport) FailedRows() []int {
	seen := make(map[int]bool, len(r.Errors))
	var rows []int
	for _, e := range r.Errors {
		if !seen[e.Row] {
			seen[e.Row] = true
			rows = append(rows, e.Row)
		}
	}
	return rows
}
