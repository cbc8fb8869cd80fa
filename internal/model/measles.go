package model

import (
	"context"

	"github.com/shopspring/decimal"
)

// Default scenario column labels, overridable per run.
var measlesScenarios = []struct {
	key   string
	label string
	cases int64
}{
	{"22_cases", "22 Cases", 22},
	{"100_cases", "100 Cases", 100},
	{"803_cases", "803 Cases", 803},
}

// MeaslesModel estimates hospitalization, contact tracing, and lost
// productivity costs for measles outbreaks of three fixed sizes.
type MeaslesModel struct {
	def Definition
}

func NewMeasles(def Definition) *MeaslesModel {
	return &MeaslesModel{def: def}
}

func (m *MeaslesModel) ID() string    { return "measles_outbreak" }
func (m *MeaslesModel) Kind() string  { return KindBuiltin }
func (m *MeaslesModel) Title() string { return m.def.Title }

func (m *MeaslesModel) Description() string { return m.def.Description }

func (m *MeaslesModel) Defaults(ctx context.Context) (Params, error) {
	return NewParams(m.def.Params.Items()...), nil
}

// ScenarioHeaders returns the default outbreak column labels keyed by
// scenario, for callers that let users rename them.
func (m *MeaslesModel) ScenarioHeaders() (map[string]string, error) {
	out := make(map[string]string, len(measlesScenarios))
	for _, sc := range measlesScenarios {
		out[sc.key] = sc.label
	}
	return out, nil
}

func (m *MeaslesModel) Run(ctx context.Context, params Params, labels map[string]string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	costHosp := params.Get("0", "Cost of measles hospitalization")
	propHosp := params.Get("0", "Proportion of cases hospitalized")

	missedRatio := params.Get("1.0", "Proportion of quarantine days that would be a missed day of work")
	wageWorker := params.Get("0", "Hourly wage of worker (hourly_wage_worker)", "Hourly wage for worker")

	wageTracer := params.Get("0", "Hourly wage for contract tracer")
	hrsTracing := params.Get("0", "Hours of contact tracing per contact")

	contacts := params.Get("0", "Number of contacts per case")
	vaccRate := params.Get("0", "Vaccination rate in community")
	quarantine := params.Get("21", "Length of quarantine (days)").Truncate(0)

	one := decimal.NewFromInt(1)
	susceptible := one.Sub(vaccRate)

	columns := []string{"Cost Type"}
	hospRow := []string{"Hospitalization"}
	lostRow := []string{"Lost productivity"}
	traceRow := []string{"Contact tracing"}
	totalRow := []string{"TOTAL"}

	for _, sc := range measlesScenarios {
		label := sc.label
		if v, ok := labels[sc.key]; ok && v != "" {
			label = v
		}
		cases := decimal.NewFromInt(sc.cases)

		hosp := QuantizeAdaptive(cases.Mul(propHosp).Mul(costHosp))
		lost := QuantizeAdaptive(cases.Mul(contacts).Mul(susceptible).Mul(quarantine).Mul(missedRatio).Mul(wageWorker))
		trace := QuantizeAdaptive(cases.Mul(contacts).Mul(hrsTracing).Mul(wageTracer))
		total := QuantizeAdaptive(hosp.Add(lost).Add(trace))

		columns = append(columns, label)
		hospRow = append(hospRow, hosp.String())
		lostRow = append(lostRow, lost.String())
		traceRow = append(traceRow, trace.String())
		totalRow = append(totalRow, total.String())
	}

	costs := &Table{
		Columns: columns,
		Rows:    [][]string{hospRow, lostRow, traceRow, totalRow},
	}

	return Result{
		Title:       m.def.Title,
		Description: m.def.Description,
		Sections: []Section{
			{Title: "Measles Outbreak Costs", Blocks: []Block{{Table: costs}}},
		},
	}, nil
}
