// Package sheet runs spreadsheet-driven models: it reads a workbook,
// applies parameter overrides, evaluates the formula graph, and extracts
// outcome tables.
package sheet

import (
	"regexp"
	"strings"
)

var (
	cellRefRe  = regexp.MustCompile(`(\$?[A-Z]{1,3}\$?\d+)`)
	rangeRefRe = regexp.MustCompile(`(\$?[A-Z]{1,3}\$?\d+)\s*:\s*(\$?[A-Z]{1,3}\$?\d+)`)
	// A bare '=' between operands is an equality test. '>=', '<=', '!='
	// and '==' keep their '=' attached to the neighbor character.
	bareEqRe  = regexp.MustCompile(`([^<>=!])=([^<>=])`)
	strWrapRe = regexp.MustCompile(`(".*?")\s*\+\s*(VAL\("[A-Z]+\d+"\))`)
	refPartRe = regexp.MustCompile(`^([A-Z]+)(\d+)$`)
)

func normalizeRef(ref string) string {
	return strings.ReplaceAll(ref, "$", "")
}

// colToIndex converts "A" to 1, "Z" to 26, "AA" to 27.
func colToIndex(col string) int {
	n := 0
	for _, ch := range strings.ToUpper(strings.TrimSpace(col)) {
		n = n*26 + int(ch-'A') + 1
	}
	return n
}

func indexToCol(idx int) string {
	var b []byte
	for idx > 0 {
		idx--
		b = append([]byte{byte('A' + idx%26)}, b...)
		idx /= 26
	}
	return string(b)
}

// splitRef breaks "B12" into ("B", 12). Returns ok=false for anything else.
func splitRef(ref string) (col string, row int, ok bool) {
	m := refPartRe.FindStringSubmatch(normalizeRef(strings.TrimSpace(ref)))
	if m == nil {
		return "", 0, false
	}
	row = 0
	for _, ch := range m[2] {
		row = row*10 + int(ch-'0')
	}
	return m[1], row, true
}

// rewriteFormula turns an Excel formula into an evaluable expression:
// ranges become RANGE("A1","A10") calls, cell references become VAL("A1")
// calls, Excel operators become their expression-language equivalents.
// References inside string literals are left alone.
func rewriteFormula(formula string) string {
	f := strings.TrimSpace(formula)
	f = strings.TrimPrefix(f, "=")

	// Excel concatenation; string operands are wrapped with STR below.
	f = strings.ReplaceAll(f, "&", "+")

	f = rangeRefRe.ReplaceAllStringFunc(f, func(m string) string {
		parts := rangeRefRe.FindStringSubmatch(m)
		return `RANGE("` + normalizeRef(parts[1]) + `","` + normalizeRef(parts[2]) + `")`
	})

	f = replaceCellRefs(f)

	f = strings.ReplaceAll(f, "<>", "!=")
	// Applied twice: the pattern consumes the neighbor characters, so
	// back-to-back equality tests need a second pass.
	f = bareEqRe.ReplaceAllString(f, "$1==$2")
	f = bareEqRe.ReplaceAllString(f, "$1==$2")

	f = strWrapRe.ReplaceAllString(f, "$1 + STR($2)")

	f = strings.ReplaceAll(f, "^", "**")
	return f
}

// replaceCellRefs rewrites bare cell references to VAL("...") calls,
// skipping matches that fall inside a string literal.
func replaceCellRefs(expr string) string {
	var out strings.Builder
	last := 0
	for _, loc := range cellRefRe.FindAllStringIndex(expr, -1) {
		start, end := loc[0], loc[1]
		if strings.Count(expr[:start], `"`)%2 == 1 {
			continue
		}
		out.WriteString(expr[last:start])
		out.WriteString(`VAL("`)
		out.WriteString(normalizeRef(expr[start:end]))
		out.WriteString(`")`)
		last = end
	}
	out.WriteString(expr[last:])
	return out.String()
}
