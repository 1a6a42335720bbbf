package config

import (
	"os"

	"github.com/shopspring/decimal"
)

// InvestmentLimits holds the minimum-investment policy per investment type.
// These floors are enforced before the atomic reservation is attempted, so a
// too-small request fails fast instead of consuming a round-trip.
type InvestmentLimits struct {
	GlobalMinimum      decimal.Decimal
	PropertyMinimum    decimal.Decimal
	CryptoMinimum      decimal.Decimal
	DefaultPlanMinimum decimal.Decimal
	WithdrawalMinimum  decimal.Decimal
}

func LoadInvestmentLimits() *InvestmentLimits {
	return &InvestmentLimits{
		GlobalMinimum:      getEnvAsDecimal("INVEST_MIN_GLOBAL", "10"),
		PropertyMinimum:    getEnvAsDecimal("INVEST_MIN_PROPERTY", "100"),
		CryptoMinimum:      getEnvAsDecimal("INVEST_MIN_CRYPTO", "50"),
		DefaultPlanMinimum: getEnvAsDecimal("INVEST_MIN_PLAN", "10"),
		WithdrawalMinimum:  getEnvAsDecimal("WITHDRAWAL_MIN", "10"),
	}
}

// MinimumFor returns the floor for the given investment type. planMinimum
// overrides the default plan floor when positive; the global floor always
// applies.
func (l *InvestmentLimits) MinimumFor(investmentType string, planMinimum decimal.Decimal) decimal.Decimal {
	min := l.GlobalMinimum
	switch investmentType {
	case "property":
		min = l.PropertyMinimum
	case "crypto":
		min = l.CryptoMinimum
	case "plan":
		min = l.DefaultPlanMinimum
		if planMinimum.IsPositive() {
			min = planMinimum
		}
	}
	if min.LessThan(l.GlobalMinimum) {
		min = l.GlobalMinimum
	}
	return min
}

func getEnvAsDecimal(key, defaultVal string) decimal.Decimal {
	if val := os.Getenv(key); val != "" {
		if d, err := decimal.NewFromString(val); err == nil {
			return d
		}
	}
	d, _ := decimal.NewFromString(defaultVal)
	return d
}
