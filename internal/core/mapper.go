package core

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Unmapped marks a field the caller chose not to import.
const Unmapped = -1

// SuggestThreshold is the minimum score for a suggestion to be made.
const SuggestThreshold = 0.5

// Choices is the caller's selection: field to column index or Unmapped.
// Fields missing from the map are unmapped.
type Choices map[Field]int

// FieldMapping is a validated mapping. It only holds mapped fields; every
// index is within the header and no two fields share a column.
type FieldMapping map[Field]int

// Column returns the column mapped to f.
func (m FieldMapping) Column(f Field) (int, bool) {
	col, ok := m[f]
	return col, ok
}

// Synonyms lists the header labels recognised for each field.
type Synonyms map[Field][]string

//go:embed synonyms.yaml
var defaultSynonymsYAML []byte

// DefaultSynonyms returns the built-in synonym table.
func DefaultSynonyms() Synonyms {
	syn, err := ParseSynonyms(defaultSynonymsYAML)
	if err != nil {
		panic(fmt.Sprintf("core: embedded synonyms.yaml: %v", err))
	}
	return syn
}

// ParseSynonyms decodes a YAML synonym table keyed by field name.
func ParseSynonyms(data []byte) (Synonyms, error) {
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode synonyms: %w", err)
	}

	syn := make(Synonyms, len(raw))
	for name, labels := range raw {
		f := Field(name)
		if !f.Valid() {
			return nil, fmt.Errorf("decode synonyms: unknown field %q", name)
		}
		syn[f] = labels
	}
	return syn, nil
}

// LoadSynonyms reads a YAML synonym file. Fields it lists replace the
// built-in entries; fields it omits keep them. An empty path returns the
// built-in table.
func LoadSynonyms(path string) (Synonyms, error) {
	syn := DefaultSynonyms()
	if path == "" {
		return syn, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read synonyms: %w", err)
	}
	override, err := ParseSynonyms(data)
	if err != nil {
		return nil, err
	}
	for f, labels := range override {
		syn[f] = labels
	}
	return syn, nil
}

// FieldMapper suggests and validates column mappings.
type FieldMapper struct {
	synonyms map[Field][]string // normalized
}

// NewFieldMapper creates a mapper over the given synonym table. A field's
// own name is always treated as one of its synonyms.
func NewFieldMapper(syn Synonyms) *FieldMapper {
	norm := make(map[Field][]string, len(CanonicalFields))
	for _, f := range CanonicalFields {
		seen := map[string]bool{}
		for _, label := range append([]string{string(f)}, syn[f]...) {
			n := normalizeLabel(label)
			if n != "" && !seen[n] {
				seen[n] = true
				norm[f] = append(norm[f], n)
			}
		}
	}
	return &FieldMapper{synonyms: norm}
}

// Score rates how well a header label matches a field, from 0 to 1.
// An exact synonym match scores 1; a label containing a synonym scores
// 0.5 plus half the share of the label the synonym covers.
func (m *FieldMapper) Score(label string, f Field) float64 {
	n := normalizeLabel(label)
	if n == "" {
		return 0
	}

	best := 0.0
	for _, syn := range m.synonyms[f] {
		var s float64
		switch {
		case n == syn:
			s = 1
		case strings.Contains(n, syn):
			s = 0.5 + 0.5*float64(len(syn))/float64(len(n))
		}
		if s > best {
			best = s
		}
	}
	return best
}

// Suggest proposes a column for every canonical field. Candidates are
// assigned greedily by descending score, then canonical field order, then
// column position; each field and each column is used at most once.
// The result is advisory; Build decides what is valid.
func (m *FieldMapper) Suggest(header Header) Choices {
	type candidate struct {
		field int
		col   int
		score float64
	}

	var cands []candidate
	for fi, f := range CanonicalFields {
		for col, label := range header {
			if s := m.Score(label, f); s >= SuggestThreshold {
				cands = append(cands, candidate{field: fi, col: col, score: s})
			}
		}
	}

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.field != b.field {
			return a.field < b.field
		}
		return a.col < b.col
	})

	choices := make(Choices, len(CanonicalFields))
	for _, f := range CanonicalFields {
		choices[f] = Unmapped
	}
	usedCol := make(map[int]bool)
	for _, c := range cands {
		f := CanonicalFields[c.field]
		if choices[f] != Unmapped || usedCol[c.col] {
			continue
		}
		choices[f] = c.col
		usedCol[c.col] = true
	}
	return choices
}

// Build validates choices against header. Checks run in a fixed order so
// the same input always yields the same error:
//
//  1. email unmapped: MissingRequiredField
//  2. a field name that is not canonical: UnknownField
//  3. an index outside the header: ColumnOutOfRange
//  4. a column already claimed by an earlier field: DuplicateColumnUse
func (m *FieldMapper) Build(header Header, choices Choices) (FieldMapping, error) {
	for _, f := range CanonicalFields {
		if !f.Required() {
			continue
		}
		if col, ok := choices[f]; !ok || col == Unmapped {
			return nil, &MappingError{Kind: KindMissingRequiredField, Field: f, Column: Unmapped}
		}
	}

	var unknown []string
	for f := range choices {
		if !f.Valid() {
			unknown = append(unknown, string(f))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &MappingError{Kind: KindUnknownField, Field: Field(unknown[0]), Column: choices[Field(unknown[0])]}
	}

	mapping := make(FieldMapping, len(choices))
	owner := make(map[int]Field)
	for _, f := range CanonicalFields {
		col, ok := choices[f]
		if !ok || col == Unmapped {
			continue
		}
		if col < 0 || col >= len(header) {
			return nil, &MappingError{Kind: KindColumnOutOfRange, Field: f, Column: col}
		}
	}
	for _, f := range CanonicalFields {
		col, ok := choices[f]
		if !ok || col == Unmapped {
			continue
		}
		if prev, taken := owner[col]; taken {
			return nil, &MappingError{Kind: KindDuplicateColumnUse, Field: f, Column: col, Other: prev}
		}
		owner[col] = f
		mapping[f] = col
	}
	return mapping, nil
}

// normalizeLabel lower-cases s and drops everything but letters and digits.
func normalizeLabel(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
