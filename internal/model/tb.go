package model

import (
	"context"

	"github.com/shopspring/decimal"
)

// Isolation settings for a released TB case.
const (
	isolationHospital = 1
	isolationMotel    = 2
	isolationHome     = 3
)

// TBModel compares 14-day and 5-day isolation of infectious TB cases:
// secondary infection counts, direct isolation cost, lost productivity,
// and discounted downstream treatment cost.
type TBModel struct {
	def Definition
}

func NewTB(def Definition) *TBModel {
	return &TBModel{def: def}
}

func (m *TBModel) ID() string    { return "tb_isolation" }
func (m *TBModel) Kind() string  { return KindBuiltin }
func (m *TBModel) Title() string { return m.def.Title }

func (m *TBModel) Description() string { return m.def.Description }

func (m *TBModel) Defaults(ctx context.Context) (Params, error) {
	return NewParams(m.def.Params.Items()...), nil
}

func (m *TBModel) Run(ctx context.Context, params Params, labels map[string]string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	contactsPerCase := params.Get("0", "Number of contacts for each released TB case")
	probLatent14 := params.Get("0", "Probability that contact develops latent TB if 14-day isolation")
	infectMult := params.Get("1.5", "Multiplier for infectiousness with 5-day vs. 14-day isolation")
	workdayRatio := params.Get("0.714", "Ratio of workdays to total days")

	probActive2yr := params.Get("0", "prob_latent_to_active_2yr", "First 2 years")
	probActiveLifetime := params.Get("0", "prob_latent_to_active_lifetime", "Rest of lifetime")

	costLatent := params.Get("0", "cost_latent", "Cost of latent TB infection")
	costActive := params.Get("0", "cost_active", "Cost of active TB infection")

	isolationType := params.GetInt("3", "isolation_type", "Isolation type (1=hospital,2=motel,3=home)")
	dailyHospCost := params.Get("0", "isolation_cost", "Daily isolation cost")
	directMedCostDay := params.Get("0", "Direct medical cost of a day of isolation")

	costMotelRoom := params.Get("0", "Cost of motel room per day")
	hourlyWageNurse := params.Get("0", "Hourly wage for nurse")
	timeNurseCheckin := params.Get("0", "Time for nurse to check in w/ pt in motel or home (hrs)")
	hourlyWageWorker := params.Get("0", "Hourly wage for worker")

	discountRate := params.Get("0.03", "discount_rate", "Discount rate")
	remainingYears := params.GetInt("40", "remaining_years", "Remaining years of life")

	var dailyCost decimal.Decimal
	switch isolationType {
	case isolationHospital:
		dailyCost = directMedCostDay
		if !directMedCostDay.IsPositive() {
			dailyCost = dailyHospCost
		}
	case isolationMotel:
		dailyCost = costMotelRoom.Add(hourlyWageNurse.Mul(timeNurseCheckin))
	default:
		dailyCost = hourlyWageNurse.Mul(timeNurseCheckin)
	}

	one := decimal.NewFromInt(1)
	latent14 := Quantize2(contactsPerCase.Mul(probLatent14))
	latent5 := Quantize2(latent14.Mul(infectMult))

	progression := func(latent decimal.Decimal) decimal.Decimal {
		return Quantize2(
			latent.Mul(probActive2yr).
				Add(latent.Mul(one.Sub(probActive2yr)).Mul(probActiveLifetime)))
	}
	active14 := progression(latent14)
	active5 := progression(latent5)

	infections := &Table{
		Columns: []string{"Outcome", "14-day Isolation", "5-day Isolation"},
		Rows: [][]string{
			{"Latent TB infections", latent14.String(), latent5.String()},
			{"Active TB disease", active14.String(), active5.String()},
		},
	}

	days14 := decimal.NewFromInt(14)
	days5 := decimal.NewFromInt(5)
	hoursPerDay := decimal.NewFromInt(8)

	directCost14 := Quantize2(dailyCost.Mul(days14))
	directCost5 := Quantize2(dailyCost.Mul(days5))

	productivity14 := Quantize2(days14.Mul(workdayRatio).Mul(hourlyWageWorker).Mul(hoursPerDay))
	productivity5 := Quantize2(days5.Mul(workdayRatio).Mul(hourlyWageWorker).Mul(hoursPerDay))

	// Activation probability spread over time: the 2-year probability
	// splits across years 1-2, the lifetime tail spreads evenly over
	// years 3..remaining_years, each discounted back to today.
	base := one.Add(discountRate)
	halfProb2yr := probActive2yr.Div(decimal.NewFromInt(2))
	discounted := halfProb2yr.Div(base).Add(halfProb2yr.Div(base.Mul(base)))

	if remainingYears >= 3 {
		perYear := probActiveLifetime.Div(decimal.NewFromInt(int64(remainingYears)))
		factor := base.Mul(base)
		for y := 3; y <= remainingYears; y++ {
			factor = factor.Mul(base)
			discounted = discounted.Add(perYear.Div(factor))
		}
	}

	secCostPerLatent := Quantize2(costLatent.Add(costActive.Mul(discounted)))
	secondary14 := Quantize2(latent14.Mul(secCostPerLatent))
	secondary5 := Quantize2(latent5.Mul(secCostPerLatent))

	total14 := Quantize2(directCost14.Add(productivity14).Add(secondary14))
	total5 := Quantize2(directCost5.Add(productivity5).Add(secondary5))

	costs := &Table{
		Columns: []string{"Cost Type", "14-day Isolation", "5-day Isolation"},
		Rows: [][]string{
			{"Direct cost of isolation", directCost14.String(), directCost5.String()},
			{"Lost productivity for index case", productivity14.String(), productivity5.String()},
			{"Cost of secondary infections", secondary14.String(), secondary5.String()},
			{"Total cost", total14.String(), total5.String()},
		},
	}

	return Result{
		Title:       m.def.Title,
		Description: m.def.Description,
		Sections: []Section{
			{Title: "Number of Secondary Infections", Blocks: []Block{{Table: infections}}},
			{Title: "Costs", Blocks: []Block{{Table: costs}}},
		},
	}, nil
}
