package sheet

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// Value is a range result: a list of cell values. Arithmetic broadcasts
// over the list the way spreadsheet array formulas do; a Value used where
// a single cell is expected collapses to the sum of its elements.
type Value struct {
	List []float64
}

func list(vs []float64) Value { return Value{List: vs} }

// Sum collapses the range to a single number.
func (v Value) Sum() float64 {
	total := 0.0
	for _, x := range v.List {
		total += x
	}
	return total
}

func broadcast(a, b Value, op func(x, y float64) float64) Value {
	switch {
	case len(a.List) == 1 && len(b.List) > 1:
		out := make([]float64, len(b.List))
		for i, y := range b.List {
			out[i] = op(a.List[0], y)
		}
		return list(out)
	case len(b.List) == 1 && len(a.List) > 1:
		out := make([]float64, len(a.List))
		for i, x := range a.List {
			out[i] = op(x, b.List[0])
		}
		return list(out)
	default:
		n := min(len(a.List), len(b.List))
		out := make([]float64, n)
		for i := 0; i < n; i++ {
			out[i] = op(a.List[i], b.List[i])
		}
		return list(out)
	}
}

func one(v float64) Value { return list([]float64{v}) }

func addOp(x, y float64) float64 { return x + y }
func subOp(x, y float64) float64 { return x - y }
func mulOp(x, y float64) float64 { return x * y }
func powOp(x, y float64) float64 { return math.Pow(x, y) }

// Division by zero yields zero rather than an error.
func divOp(x, y float64) float64 {
	if y == 0 {
		return 0
	}
	return x / y
}

// toFloat coerces any evaluation result to a float64. Blank and
// unparseable values are zero.
func toFloat(v any) float64 {
	switch x := v.(type) {
	case nil:
		return 0
	case Value:
		return x.Sum()
	case float64:
		return x
	case int:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func flattenArgs(args []any) []float64 {
	var flat []float64
	for _, a := range args {
		if v, ok := a.(Value); ok {
			flat = append(flat, v.List...)
			continue
		}
		flat = append(flat, toFloat(a))
	}
	return flat
}

// formulaEnv builds the evaluation environment for one engine. VAL and
// RANGE close over the engine so cell lookups recurse through the cache.
func formulaEnv(e *Engine) map[string]any {
	return map[string]any{
		"TRUE":  true,
		"FALSE": false,

		"VAL": func(ref string) float64 {
			return e.CellValue(ref)
		},
		"RANGE": func(startRef, endRef string) Value {
			return e.rangeValues(startRef, endRef)
		},
		"IF": func(cond bool, a, b any) any {
			if cond {
				return a
			}
			return b
		},
		"STR": func(v any) string {
			f := toFloat(v)
			if math.Abs(f-math.Round(f)) < 1e-12 {
				return strconv.FormatInt(int64(math.Round(f)), 10)
			}
			return strconv.FormatFloat(f, 'f', -1, 64)
		},
		"SUM": func(args ...any) float64 {
			total := 0.0
			for _, v := range flattenArgs(args) {
				total += v
			}
			return total
		},
		"MIN": func(args ...any) float64 {
			vals := flattenArgs(args)
			if len(vals) == 0 {
				return 0
			}
			m := vals[0]
			for _, v := range vals[1:] {
				m = math.Min(m, v)
			}
			return m
		},
		"MAX": func(args ...any) float64 {
			vals := flattenArgs(args)
			if len(vals) == 0 {
				return 0
			}
			m := vals[0]
			for _, v := range vals[1:] {
				m = math.Max(m, v)
			}
			return m
		},
		"ROW":        rowFunc,
		"INDIRECT":   indirectFunc,
		"SUMPRODUCT": sumproduct,

		// Range arithmetic; wired up via expr.Operator below.
		"__add_vv": func(a, b Value) Value { return broadcast(a, b, addOp) },
		"__add_vf": func(a Value, b float64) Value { return broadcast(a, one(b), addOp) },
		"__add_fv": func(a float64, b Value) Value { return broadcast(one(a), b, addOp) },
		"__add_vi": func(a Value, b int) Value { return broadcast(a, one(float64(b)), addOp) },
		"__add_iv": func(a int, b Value) Value { return broadcast(one(float64(a)), b, addOp) },

		"__sub_vv": func(a, b Value) Value { return broadcast(a, b, subOp) },
		"__sub_vf": func(a Value, b float64) Value { return broadcast(a, one(b), subOp) },
		"__sub_fv": func(a float64, b Value) Value { return broadcast(one(a), b, subOp) },
		"__sub_vi": func(a Value, b int) Value { return broadcast(a, one(float64(b)), subOp) },
		"__sub_iv": func(a int, b Value) Value { return broadcast(one(float64(a)), b, subOp) },

		"__mul_vv": func(a, b Value) Value { return broadcast(a, b, mulOp) },
		"__mul_vf": func(a Value, b float64) Value { return broadcast(a, one(b), mulOp) },
		"__mul_fv": func(a float64, b Value) Value { return broadcast(one(a), b, mulOp) },
		"__mul_vi": func(a Value, b int) Value { return broadcast(a, one(float64(b)), mulOp) },
		"__mul_iv": func(a int, b Value) Value { return broadcast(one(float64(a)), b, mulOp) },

		"__div_vv": func(a, b Value) Value { return broadcast(a, b, divOp) },
		"__div_vf": func(a Value, b float64) Value { return broadcast(a, one(b), divOp) },
		"__div_fv": func(a float64, b Value) Value { return broadcast(one(a), b, divOp) },
		"__div_vi": func(a Value, b int) Value { return broadcast(a, one(float64(b)), divOp) },
		"__div_iv": func(a int, b Value) Value { return broadcast(one(float64(a)), b, divOp) },

		"__pow_vv": func(a, b Value) Value { return broadcast(a, b, powOp) },
		"__pow_vf": func(a Value, b float64) Value { return broadcast(a, one(b), powOp) },
		"__pow_fv": func(a float64, b Value) Value { return broadcast(one(a), b, powOp) },
		"__pow_vi": func(a Value, b int) Value { return broadcast(a, one(float64(b)), powOp) },
		"__pow_iv": func(a int, b Value) Value { return broadcast(one(float64(a)), b, powOp) },
	}
}

func operatorOptions() []expr.Option {
	ops := map[string][]string{
		"+":  {"__add_vv", "__add_vf", "__add_fv", "__add_vi", "__add_iv"},
		"-":  {"__sub_vv", "__sub_vf", "__sub_fv", "__sub_vi", "__sub_iv"},
		"*":  {"__mul_vv", "__mul_vf", "__mul_fv", "__mul_vi", "__mul_iv"},
		"/":  {"__div_vv", "__div_vf", "__div_fv", "__div_vi", "__div_iv"},
		"**": {"__pow_vv", "__pow_vf", "__pow_fv", "__pow_vi", "__pow_iv"},
	}
	opts := make([]expr.Option, 0, len(ops))
	for op, fns := range ops {
		opts = append(opts, expr.Operator(op, fns...))
	}
	return opts
}

// rowFunc mirrors ROW over INDIRECT spans: it truncates to integer row
// numbers so SUMPRODUCT can walk year indexes.
func rowFunc(v any) Value {
	switch x := v.(type) {
	case Value:
		out := make([]float64, len(x.List))
		for i, f := range x.List {
			out[i] = math.Trunc(f)
		}
		return list(out)
	case float64:
		return one(math.Trunc(x))
	case int:
		return one(float64(x))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return list(nil)
		}
		return one(math.Trunc(f))
	default:
		return list(nil)
	}
}

var indirectSpanRe = regexp.MustCompile(`(\d+)\s*:\s*([0-9]+(\.[0-9]+)?)`)

// indirectFunc supports the "3:42" row-span idiom used to build year
// sequences for discounting sums.
func indirectFunc(v any) Value {
	s, ok := v.(string)
	if !ok {
		return list(nil)
	}
	m := indirectSpanRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return list(nil)
	}
	start, _ := strconv.Atoi(m[1])
	endF, _ := strconv.ParseFloat(m[2], 64)
	end := int(endF)
	if end < start {
		start, end = end, start
	}
	out := make([]float64, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, float64(i))
	}
	return list(out)
}

// sumproduct multiplies its arguments element-wise and sums. Scalars
// broadcast to the longest list length.
func sumproduct(args ...any) float64 {
	if len(args) == 0 {
		return 0
	}
	lists := make([][]float64, 0, len(args))
	for _, a := range args {
		if v, ok := a.(Value); ok {
			lists = append(lists, v.List)
			continue
		}
		lists = append(lists, []float64{toFloat(a)})
	}

	if len(lists) == 1 {
		total := 0.0
		for _, v := range lists[0] {
			total += v
		}
		return total
	}

	maxLen := 0
	for _, l := range lists {
		if len(l) > maxLen {
			maxLen = len(l)
		}
	}
	total := 0.0
	for i := 0; i < maxLen; i++ {
		prod := 1.0
		for _, l := range lists {
			switch {
			case len(l) == 1:
				prod *= l[0]
			case i < len(l):
				prod *= l[i]
			default:
				prod = 0
			}
		}
		total += prod
	}
	return total
}
