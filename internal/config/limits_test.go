package config

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestLoadInvestmentLimits(t *testing.T) {
	t.Run("environment overrides the defaults", func(t *testing.T) {
		t.Setenv("INVEST_MIN_PROPERTY", "250")
		t.Setenv("WITHDRAWAL_MIN", "25")

		limits := LoadInvestmentLimits()
		assert.Equal(t, "250.00", limits.PropertyMinimum.StringFixed(2))
		assert.Equal(t, "25.00", limits.WithdrawalMinimum.StringFixed(2))
	})

	t.Run("unparseable values fall back to the default", func(t *testing.T) {
		t.Setenv("INVEST_MIN_CRYPTO", "not-a-number")

		limits := LoadInvestmentLimits()
		assert.Equal(t, "50.00", limits.CryptoMinimum.StringFixed(2))
	})
}

func TestInvestmentLimits_MinimumFor(t *testing.T) {
	limits := &InvestmentLimits{
		GlobalMinimum:      decimal.NewFromInt(10),
		PropertyMinimum:    decimal.NewFromInt(100),
		CryptoMinimum:      decimal.NewFromInt(50),
		DefaultPlanMinimum: decimal.NewFromInt(10),
	}

	t.Run("per-type floors", func(t *testing.T) {
		assert.Equal(t, "100.00", limits.MinimumFor("property", decimal.Zero).StringFixed(2))
		assert.Equal(t, "50.00", limits.MinimumFor("crypto", decimal.Zero).StringFixed(2))
		assert.Equal(t, "10.00", limits.MinimumFor("plan", decimal.Zero).StringFixed(2))
	})

	t.Run("plan minimum overrides the default", func(t *testing.T) {
		assert.Equal(t, "500.00", limits.MinimumFor("plan", decimal.NewFromInt(500)).StringFixed(2))
	})

	t.Run("the global floor always applies", func(t *testing.T) {
		assert.Equal(t, "10.00", limits.MinimumFor("plan", decimal.NewFromInt(5)).StringFixed(2))
	})

	t.Run("unknown types get the global floor", func(t *testing.T) {
		assert.Equal(t, "10.00", limits.MinimumFor("bond", decimal.Zero).StringFixed(2))
	})
}
