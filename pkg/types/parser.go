package types

import (
	"sort"
	"strings"
)

// ParseResult represents the output of parsing one log file
type ParseResult struct {
	Path      string
	Rows      []ParsedRow
	Templates int  // distinct templates among Rows
	Cached    bool // rows were read from an existing result file
}

// NewParseResult builds a ParseResult and counts its distinct templates
func NewParseResult(path string, rows []ParsedRow, cached bool) *ParseResult {
	seen := make(map[string]struct{})
	for _, r := range rows {
		seen[r.Template] = struct{}{}
	}
	return &ParseResult{
		Path:      path,
		Rows:      rows,
		Templates: len(seen),
		Cached:    cached,
	}
}

// TemplateCount pairs a template with its number of rows
type TemplateCount struct {
	Template string
	Count    int
}

// CountTemplates returns the distinct templates of rows ordered by count
// descending, ties in order of first appearance. Blank templates, left by
// messages made only of delimiters, are not counted.
func CountTemplates(rows []ParsedRow) []TemplateCount {
	index := make(map[string]int)
	var out []TemplateCount
	for _, r := range rows {
		if strings.TrimSpace(r.Template) == "" {
			continue
		}
		if i, ok := index[r.Template]; ok {
			out[i].Count++
			continue
		}
		index[r.Template] = len(out)
		out = append(out, TemplateCount{Template: r.Template, Count: 1})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Count > out[j].Count
	})
	return out
}
