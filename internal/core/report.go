package core

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// addError records a row that will not be imported. Each failing row is
// reported through exactly one error, so Failed counts rows.
func (r *ImportReport) addError(e RowError) {
	r.Errors = append(r.Errors, e)
	r.Failed++
}

// addRowErrors records every error of one rejected row, counting the row once.
func (r *ImportReport) addRowErrors(errs []RowError) {
	if len(errs) == 0 {
		return
	}
	r.Errors = append(r.Errors, errs...)
	r.Failed++
}

func (r *ImportReport) addWarnings(ws []RowError) {
	r.Warnings = append(r.Warnings, ws...)
}

// sortByRow orders errors and warnings by row, keeping insertion order
// within a row.
func (r *ImportReport) sortByRow() {
	sort.SliceStable(r.Errors, func(i, j int) bool { return r.Errors[i].Row < r.Errors[j].Row })
	sort.SliceStable(r.Warnings, func(i, j int) bool { return r.Warnings[i].Row < r.Warnings[j].Row })
}

// clone returns a copy that shares no slices with r.
func (r *ImportReport) clone() *ImportReport {
	c := *r
	c.Errors = append([]RowError{}, r.Errors...)
	c.Warnings = append([]RowError{}, r.Warnings...)
	return &c
}

// errorsCSVHeader is the header row written by WriteErrorsCSV.
var errorsCSVHeader = []string{"row", "severity", "field", "kind", "message"}

// WriteErrorsCSV writes the report's errors followed by its warnings as
// CSV, one line per entry.
func WriteErrorsCSV(w io.Writer, report *ImportReport) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(errorsCSVHeader); err != nil {
		return fmt.Errorf("write errors csv: %w", err)
	}

	write := func(severity string, entries []RowError) error {
		for _, e := range entries {
			rec := []string{strconv.Itoa(e.Row), severity, e.Field, string(e.Kind), e.Message}
			if err := cw.Write(rec); err != nil {
				return fmt.Errorf("write errors csv: %w", err)
			}
		}
		return nil
	}
	if err := write("error", report.Errors); err != nil {
		return err
	}
	if err := write("warning", report.Warnings); err != nil {
		return err
	}

	cw.Flush()
	return cw.Error()
}
