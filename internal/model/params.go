package model

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Param is one flattened parameter entry. Indent carries the nesting depth
// of the original document; Section marks a header row with no value.
type Param struct {
	Label   string `json:"label"`
	Value   string `json:"value,omitempty"`
	Indent  int    `json:"indent,omitempty"`
	Section bool   `json:"section,omitempty"`
}

// Params is an ordered, hierarchy-aware parameter list. Order is stable:
// document order in, document order out. Values stay strings until a model
// parses them, so free-text survives web forms unchanged.
type Params struct {
	items []Param
}

var nonNumericRe = regexp.MustCompile(`[^0-9.\-]`)

// NewParams builds a Params from pre-flattened entries.
func NewParams(items ...Param) Params {
	return Params{items: append([]Param(nil), items...)}
}

// Items returns a copy of the entries in document order.
func (p Params) Items() []Param {
	out := make([]Param, len(p.items))
	copy(out, p.items)
	return out
}

// Len reports the number of entries, section headers included.
func (p Params) Len() int {
	return len(p.items)
}

// Append adds an entry at the end.
func (p *Params) Append(item Param) {
	p.items = append(p.items, item)
}

// Get resolves the first matching label and returns its decimal value.
// Candidates are tried in order; for each, a case-insensitive match on the
// trimmed label wins, then a fuzzy match on a parenthesized variable name
// anywhere in the label (e.g. "Hourly wage (hourly_wage_worker)"). Blank
// and unparseable values are skipped. The default is used when nothing
// matches; an unparseable default yields zero.
func (p Params) Get(def string, names ...string) decimal.Decimal {
	for _, name := range names {
		want := strings.ToLower(strings.TrimSpace(name))
		if want == "" {
			continue
		}
		for _, it := range p.items {
			if it.Section || it.Value == "" {
				continue
			}
			if strings.ToLower(strings.TrimSpace(it.Label)) != want {
				continue
			}
			if d, ok := parseDecimal(it.Value); ok {
				return d
			}
		}
		fuzzy := "(" + want + ")"
		for _, it := range p.items {
			if it.Section || it.Value == "" {
				continue
			}
			if !strings.Contains(strings.ToLower(it.Label), fuzzy) {
				continue
			}
			if d, ok := parseDecimal(it.Value); ok {
				return d
			}
		}
	}
	d, _ := parseDecimal(def)
	return d
}

// GetInt is Get truncated to an integer.
func (p Params) GetInt(def string, names ...string) int {
	return int(p.Get(def, names...).IntPart())
}

// Set replaces the value of the entry whose trimmed label matches
// (case-insensitive). Unknown labels are appended at the end so callers can
// pass through parameters a model did not declare.
func (p *Params) Set(label, value string) {
	want := strings.ToLower(strings.TrimSpace(label))
	for i, it := range p.items {
		if it.Section {
			continue
		}
		if strings.ToLower(strings.TrimSpace(it.Label)) == want {
			p.items[i].Value = value
			return
		}
	}
	p.items = append(p.items, Param{Label: label, Value: value})
}

// Merge overlays other onto p: values win by label, new labels append.
func (p *Params) Merge(other Params) {
	for _, it := range other.items {
		if it.Section || it.Value == "" {
			continue
		}
		p.Set(it.Label, it.Value)
	}
}

// ApplyOverrides sets each label/value pair from a request map. Map order is
// unspecified, which is fine: overrides address existing labels.
func (p *Params) ApplyOverrides(overrides map[string]string) {
	for label, value := range overrides {
		p.Set(label, value)
	}
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return d, true
	}
	// Tolerate "$1,234.50"-style values the way the spreadsheet loader does.
	cleaned := nonNumericRe.ReplaceAllString(s, "")
	if cleaned == "" || cleaned == "-" || cleaned == "." {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

var ten = decimal.NewFromInt(10)

// Quantize2 rounds to two decimal places, half to even.
func Quantize2(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}

// QuantizeAdaptive rounds large magnitudes to whole numbers and everything
// else to two decimal places, half to even.
func QuantizeAdaptive(d decimal.Decimal) decimal.Decimal {
	if d.Abs().GreaterThan(ten) {
		return d.RoundBank(0)
	}
	return d.RoundBank(2)
}
