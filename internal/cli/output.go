package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/subimport/internal/core"
)

func printMapping(w io.Writer, header core.Header, choices core.Choices) {
	fmt.Fprintln(w, "mapping:")
	for _, f := range core.CanonicalFields {
		col, ok := choices[f]
		switch {
		case !ok || col == core.Unmapped:
			fmt.Fprintf(w, "  %-10s (not mapped)\n", f)
		case col >= 0 && col < len(header):
			fmt.Fprintf(w, "  %-10s <- %q\n", f, header[col])
		default:
			fmt.Fprintf(w, "  %-10s <- column %d\n", f, col)
		}
	}
}

func printReport(w io.Writer, report *core.ImportReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "file:\t%s\n", report.FileName)
	fmt.Fprintf(tw, "status:\t%s\n", report.Status)
	fmt.Fprintf(tw, "rows:\t%d\n", report.Total)
	fmt.Fprintf(tw, "imported:\t%d\n", report.Succeeded)
	fmt.Fprintf(tw, "failed:\t%d\n", report.Failed)
	fmt.Fprintf(tw, "duration:\t%s\n", report.Duration().Round(time.Millisecond))
	if err := tw.Flush(); err != nil {
		return err
	}

	printEntries(w, "errors", report.Errors)
	printEntries(w, "warnings", report.Warnings)
	return nil
}

func printEntries(w io.Writer, title string, entries []core.RowError) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for _, e := range entries {
		fmt.Fprintf(w, "  row %d  %s: %s\n", e.Row, e.Field, e.Message)
	}
}

func printReportJSON(w io.Writer, report *core.ImportReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// reportError prints err with its support code when it is one users can
// act on. Failed rows were already listed with the report.
func reportError(w io.Writer, err error) {
	switch {
	case errors.Is(err, ErrRowsFailed):
		fmt.Fprintf(w, "error: %v\n", err)
	case core.IsUserFacing(err):
		fmt.Fprintf(w, "error: %s\n", core.FormatUserError(err))
	default:
		fmt.Fprintf(w, "error: %v\n", err)
	}
}
