package quality

import (
	"strings"
	"time"
)

// parseLayouts are the input formats date extraction is known to emit.
var parseLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"2006-01-02T15:04:05Z07:00",
}

// renderLayouts are the four literal renderings checked against the source.
var renderLayouts = []string{
	"01/02/2006",      // MM/DD/YYYY
	"1/2/2006",        // M/D/YYYY
	"2006-01-02",      // YYYY-MM-DD
	"January 2, 2006", // Month DD, YYYY
}

// parseDate attempts to parse an extracted date string.
func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// dateRenderings returns the literal strings a date may appear as in source
// text. Unparseable input falls back to the raw string itself.
func dateRenderings(raw string) []string {
	t, ok := parseDate(raw)
	if !ok {
		return []string{strings.TrimSpace(raw)}
	}
	out := make([]string, 0, len(renderLayouts))
	for _, layout := range renderLayouts {
		out = append(out, t.Format(layout))
	}
	return out
}

// sourceContainsDate reports whether any rendering of the date occurs in the
// source text. Comparison is case-insensitive to tolerate month-name casing.
func sourceContainsDate(lowerSource, raw string) bool {
	for _, rendering := range dateRenderings(raw) {
		if rendering == "" {
			continue
		}
		if strings.Contains(lowerSource, strings.ToLower(rendering)) {
			return true
		}
	}
	return false
}
