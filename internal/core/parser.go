package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// SeparatorCandidates are the separators DetectSeparator chooses from,
// in tie-break order.
var SeparatorCandidates = []rune{',', ';', '\t'}

// ParseOptions controls Parse.
type ParseOptions struct {
	// NoHeader declares that the first row is data; labels Column 1..N are
	// synthesized instead.
	NoHeader bool

	// Separator overrides detection when non-zero.
	Separator rune
}

// Parse splits content into a header and data rows.
//
// Quoting follows RFC 4180: quoted fields may contain the separator and
// newlines, and "" is a literal quote. Stray quotes are read leniently and
// kept as text; only a quoted field still open at the end of content is an
// error. Rows whose cells are all blank are skipped. Rows shorter than the header are padded with empty cells and
// longer rows are truncated; RawRow.Width keeps the original cell count so
// validation can warn about it.
func Parse(content string, opts ParseOptions) (*Table, error) {
	sep := opts.Separator
	if sep == 0 {
		sep = DetectSeparator(content)
	}
	if line, open := unclosedQuote(content, sep); open {
		return nil, &ParseError{Kind: KindMalformedQuoting, Line: line, Err: csv.ErrQuote}
	}

	r := csv.NewReader(strings.NewReader(content))
	r.Comma = sep
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var (
		records [][]string
		lines   []int
	)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, toParseError(err)
		}
		if isEmptyRow(rec) {
			continue
		}
		line, _ := r.FieldPos(0)
		records = append(records, rec)
		lines = append(lines, line)
	}

	var header Header
	if opts.NoHeader {
		header = syntheticHeader(maxWidth(records))
	} else if len(records) > 0 {
		header = uniqueLabels(records[0])
		records, lines = records[1:], lines[1:]
	}

	if len(records) == 0 {
		return nil, &ParseError{Kind: KindEmptyFile}
	}

	rows := make([]RawRow, len(records))
	for i, rec := range records {
		rows[i] = RawRow{
			Index: i + 1,
			Line:  lines[i],
			Cells: fitWidth(rec, len(header)),
			Width: len(rec),
		}
	}

	return &Table{Header: header, Rows: rows, Separator: sep}, nil
}

// DetectSeparator counts each candidate outside quotes on the first
// non-empty line and returns the most frequent one. Ties and lines with no
// candidate at all resolve to ','.
func DetectSeparator(content string) rune {
	line := firstNonEmptyLine(content)

	counts := make(map[rune]int, len(SeparatorCandidates))
	inQuotes := false
scan:
	for _, c := range line {
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == '\n' && !inQuotes:
			break scan
		case !inQuotes:
			counts[c]++
		}
	}

	best := SeparatorCandidates[0]
	for _, c := range SeparatorCandidates[1:] {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}

// ParseSeparatorName resolves a separator given as ",", ";", a tab (or the
// escape \t) or by the names comma, semicolon and tab. An empty name
// returns 0 so Parse detects the separator.
func ParseSeparatorName(name string) (rune, error) {
	switch strings.ToLower(name) {
	case "":
		return 0, nil
	case ",", "comma":
		return ',', nil
	case ";", "semicolon":
		return ';', nil
	case "\t", `\t`, "tab":
		return '\t', nil
	default:
		return 0, fmt.Errorf("%w %q", ErrUnsupportedSeparator, name)
	}
}

// firstNonEmptyLine returns content starting at the first line holding
// anything but whitespace. The caller stops scanning at the first newline
// outside quotes, so a quoted field spanning lines is counted whole.
func firstNonEmptyLine(content string) string {
	for content != "" {
		line, rest, _ := strings.Cut(content, "\n")
		if strings.TrimSpace(line) != "" {
			return content
		}
		content = rest
	}
	return ""
}

// unclosedQuote reports the line where a quoted field opens that is never
// closed before content ends. Quotes are tracked as a lenient csv.Reader
// reads them: a quote opens a field only at its start, "" inside it is a
// literal quote, and a quote not followed by the separator or a line end
// stays part of the field.
func unclosedQuote(content string, sep rune) (int, bool) {
	line, start := 1, 0
	inQuotes, fieldStart := false, true
	for i := 0; i < len(content); {
		c, size := utf8.DecodeRuneInString(content[i:])
		i += size
		if c == '\n' {
			line++
		}

		if !inQuotes {
			switch {
			case c == '"' && fieldStart:
				inQuotes, start = true, line
			case c == sep || c == '\n':
				fieldStart = true
				continue
			}
			fieldStart = false
			continue
		}

		if c != '"' {
			continue
		}
		next, n := utf8.DecodeRuneInString(content[i:])
		switch {
		case n == 0 || next == sep || next == '\n' || next == '\r':
			inQuotes = false
		case next == '"':
			i += n
		}
	}
	if !inQuotes {
		return 0, false
	}
	return start, true
}

func toParseError(err error) error {
	var csvErr *csv.ParseError
	if errors.As(err, &csvErr) {
		return &ParseError{Kind: KindMalformedQuoting, Line: csvErr.StartLine, Err: csvErr.Err}
	}
	return fmt.Errorf("parse csv: %w", err)
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func maxWidth(records [][]string) int {
	n := 0
	for _, rec := range records {
		if len(rec) > n {
			n = len(rec)
		}
	}
	return n
}

func syntheticHeader(n int) Header {
	h := make(Header, n)
	for i := range h {
		h[i] = fmt.Sprintf("Column %d", i+1)
	}
	return h
}

// uniqueLabels cleans header labels, names empty ones after their position
// and suffixes repeats with " (2)", " (3)", ...
func uniqueLabels(raw []string) Header {
	h := make(Header, len(raw))
	taken := make(map[string]bool, len(raw))
	for i, label := range raw {
		label = cleanLabel(label)
		if label == "" {
			label = fmt.Sprintf("Column %d", i+1)
		}
		base := label
		for n := 2; taken[strings.ToLower(label)]; n++ {
			label = fmt.Sprintf("%s (%d)", base, n)
		}
		taken[strings.ToLower(label)] = true
		h[i] = label
	}
	return h
}

// cleanLabel trims whitespace and unwraps Excel's ="..." text guard.
func cleanLabel(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) && len(s) >= 3 {
		s = strings.TrimSpace(s[2 : len(s)-1])
	}
	return s
}

func fitWidth(rec []string, width int) []string {
	cells := make([]string, width)
	copy(cells, rec)
	return cells
}
