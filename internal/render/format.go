// Package render turns model results into HTML pages and terminal tables.
package render

import (
	"strconv"
	"strings"
)

// Number formats a numeric cell for display: thousands separators and two
// decimal places. Non-numeric cells pass through untouched.
func Number(s string) string {
	s = strings.TrimSpace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	fixed := strconv.FormatFloat(f, 'f', 2, 64)

	neg := strings.HasPrefix(fixed, "-")
	if neg {
		fixed = fixed[1:]
	}
	intPart, fracPart, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, ch := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}
	b.WriteByte('.')
	b.WriteString(fracPart)
	return b.String()
}
