package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JonMunkholm/subimport/internal/core"
)

func parseSeparator(v string) (rune, error) {
	sep, err := core.ParseSeparatorName(v)
	if err != nil {
		return 0, fmt.Errorf("%w: use comma, semicolon or tab", err)
	}
	return sep, nil
}

// applyMappings overrides the suggestion with --map field=column flags.
// The column is a header label (case-insensitive) or a 0-based index; an
// empty column removes the field. Unknown fields are passed through so the
// mapper reports them.
func applyMappings(header core.Header, suggestion core.Choices, flags []string) (core.Choices, error) {
	choices := make(core.Choices, len(suggestion))
	for f, col := range suggestion {
		choices[f] = col
	}

	for _, flag := range flags {
		name, column, ok := strings.Cut(flag, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --map %q: want field=column", flag)
		}
		field := core.Field(strings.TrimSpace(name))
		column = strings.TrimSpace(column)
		if column == "" {
			delete(choices, field)
			continue
		}
		idx, err := columnIndex(header, column)
		if err != nil {
			return nil, fmt.Errorf("invalid --map %q: %w", flag, err)
		}
		choices[field] = idx
	}
	return choices, nil
}

func columnIndex(header core.Header, column string) (int, error) {
	for i, label := range header {
		if strings.EqualFold(label, column) {
			return i, nil
		}
	}
	if idx, err := strconv.Atoi(column); err == nil {
		return idx, nil
	}
	return 0, fmt.Errorf("no column named %q", column)
}
