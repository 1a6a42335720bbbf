package services

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/propvest/backend/internal/models"
)

// Compounding frequencies for projected returns.
const (
	CompoundMonthly   = "monthly"
	CompoundQuarterly = "quarterly"
	CompoundAnnually  = "annually"
)

// daysPerMonth is a calendar approximation: elapsed months are counted in
// 30-day blocks, not exact month boundaries.
const daysPerMonth = 30

// CurrentROI is the point-in-time valuation of an investment.
type CurrentROI struct {
	CurrentValue  decimal.Decimal `json:"currentValue"`
	ROIAmount     decimal.Decimal `json:"roiAmount"`
	MonthsElapsed int             `json:"monthsElapsed"`
}

// ROIProjection is the projected outcome of an investment held to term.
type ROIProjection struct {
	FinalAmount decimal.Decimal `json:"finalAmount"`
	ROIAmount   decimal.Decimal `json:"roiAmount"`
	Periods     int             `json:"periods"`
}

// CalculateCurrentROI values an investment at now using monthly-compounded
// interest: currentValue = principal * (1 + annualRate/12)^monthsElapsed.
func CalculateCurrentROI(inv *models.Investment, now time.Time) (*CurrentROI, error) {
	if !inv.AmountInvested.IsPositive() {
		return nil, &ValidationError{Field: "amount_invested", Message: "amount must be positive"}
	}
	if inv.ROIRate.IsNegative() {
		return nil, &ValidationError{Field: "roi_rate", Message: "rate cannot be negative"}
	}

	monthsElapsed := int(now.Sub(inv.StartDate).Hours() / (24 * daysPerMonth))
	if monthsElapsed < 0 {
		monthsElapsed = 0
	}

	factor := compoundFactor(inv.ROIRate, 12, monthsElapsed)
	currentValue := inv.AmountInvested.Mul(factor).Round(2)

	return &CurrentROI{
		CurrentValue:  currentValue,
		ROIAmount:     currentValue.Sub(inv.AmountInvested),
		MonthsElapsed: monthsElapsed,
	}, nil
}

// CalculateProjectedReturns projects A = P(1 + r/n)^(nt) for a principal
// held durationMonths at annualRatePct, compounded per frequency.
func CalculateProjectedReturns(principal, annualRatePct decimal.Decimal, durationMonths int, frequency string) (*ROIProjection, error) {
	if !principal.IsPositive() {
		return nil, &ValidationError{Field: "principal", Message: "principal must be positive"}
	}
	if durationMonths <= 0 {
		return nil, &ValidationError{Field: "duration_months", Message: "duration must be positive"}
	}
	if annualRatePct.IsNegative() {
		return nil, &ValidationError{Field: "roi_rate", Message: "rate cannot be negative"}
	}

	periodsPerYear, err := periodsForFrequency(frequency)
	if err != nil {
		return nil, err
	}

	// n*t, rounded to whole compounding periods.
	periods := int(math.Round(float64(periodsPerYear) * float64(durationMonths) / 12.0))

	factor := compoundFactor(annualRatePct, periodsPerYear, periods)
	finalAmount := principal.Mul(factor).Round(2)

	return &ROIProjection{
		FinalAmount: finalAmount,
		ROIAmount:   finalAmount.Sub(principal),
		Periods:     periods,
	}, nil
}

func periodsForFrequency(frequency string) (int, error) {
	switch frequency {
	case CompoundMonthly:
		return 12, nil
	case CompoundQuarterly:
		return 4, nil
	case CompoundAnnually:
		return 1, nil
	}
	return 0, &ValidationError{Field: "compounding_frequency", Message: "must be monthly, quarterly or annually"}
}

// compoundFactor computes (1 + rate%/n)^periods as a decimal. The exponent
// is a whole number of periods, so decimal exponentiation stays exact.
func compoundFactor(annualRatePct decimal.Decimal, periodsPerYear, periods int) decimal.Decimal {
	if periods <= 0 {
		return decimal.NewFromInt(1)
	}
	ratePerPeriod := annualRatePct.
		Div(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(int64(periodsPerYear)))
	base := decimal.NewFromInt(1).Add(ratePerPeriod)

	factor := decimal.NewFromInt(1)
	for i := 0; i < periods; i++ {
		factor = factor.Mul(base)
	}
	return factor
}
