package services

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/propvest/backend/internal/models"
)

func TestCalculateProjectedReturns(t *testing.T) {
	principal := decimal.NewFromInt(1000)
	rate := decimal.NewFromInt(12)

	t.Run("monthly compounding over one year", func(t *testing.T) {
		projection, err := CalculateProjectedReturns(principal, rate, 12, CompoundMonthly)
		assert.NoError(t, err)
		assert.Equal(t, 12, projection.Periods)
		assert.Equal(t, "1126.83", projection.FinalAmount.StringFixed(2))
		assert.Equal(t, "126.83", projection.ROIAmount.StringFixed(2))
	})

	t.Run("quarterly compounding over one year", func(t *testing.T) {
		projection, err := CalculateProjectedReturns(principal, rate, 12, CompoundQuarterly)
		assert.NoError(t, err)
		assert.Equal(t, 4, projection.Periods)
		assert.Equal(t, "1125.51", projection.FinalAmount.StringFixed(2))
	})

	t.Run("annual compounding over one year", func(t *testing.T) {
		projection, err := CalculateProjectedReturns(principal, rate, 12, CompoundAnnually)
		assert.NoError(t, err)
		assert.Equal(t, 1, projection.Periods)
		assert.Equal(t, "1120.00", projection.FinalAmount.StringFixed(2))
		assert.Equal(t, "120.00", projection.ROIAmount.StringFixed(2))
	})

	t.Run("zero rate returns the principal", func(t *testing.T) {
		projection, err := CalculateProjectedReturns(principal, decimal.Zero, 12, CompoundMonthly)
		assert.NoError(t, err)
		assert.Equal(t, "1000.00", projection.FinalAmount.StringFixed(2))
		assert.Equal(t, "0.00", projection.ROIAmount.StringFixed(2))
	})

	t.Run("rejects non-positive principal", func(t *testing.T) {
		_, err := CalculateProjectedReturns(decimal.Zero, rate, 12, CompoundMonthly)
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.Equal(t, "principal", vErr.Field)
	})

	t.Run("rejects non-positive duration", func(t *testing.T) {
		_, err := CalculateProjectedReturns(principal, rate, 0, CompoundMonthly)
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.Equal(t, "duration_months", vErr.Field)
	})

	t.Run("rejects negative rate", func(t *testing.T) {
		_, err := CalculateProjectedReturns(principal, decimal.NewFromInt(-5), 12, CompoundMonthly)
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.Equal(t, "roi_rate", vErr.Field)
	})

	t.Run("rejects unknown frequency", func(t *testing.T) {
		_, err := CalculateProjectedReturns(principal, rate, 12, "weekly")
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.Equal(t, "compounding_frequency", vErr.Field)
	})
}

func TestCalculateCurrentROI(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	inv := &models.Investment{
		AmountInvested: decimal.NewFromInt(1000),
		ROIRate:        decimal.NewFromInt(12),
		StartDate:      start,
	}

	t.Run("values an investment after three months", func(t *testing.T) {
		roi, err := CalculateCurrentROI(inv, start.AddDate(0, 0, 90))
		assert.NoError(t, err)
		assert.Equal(t, 3, roi.MonthsElapsed)
		assert.Equal(t, "1030.30", roi.CurrentValue.StringFixed(2))
		assert.Equal(t, "30.30", roi.ROIAmount.StringFixed(2))
	})

	t.Run("clamps a future start date to zero months", func(t *testing.T) {
		roi, err := CalculateCurrentROI(inv, start.AddDate(0, 0, -10))
		assert.NoError(t, err)
		assert.Equal(t, 0, roi.MonthsElapsed)
		assert.Equal(t, "1000.00", roi.CurrentValue.StringFixed(2))
		assert.Equal(t, "0.00", roi.ROIAmount.StringFixed(2))
	})

	t.Run("partial month does not accrue", func(t *testing.T) {
		roi, err := CalculateCurrentROI(inv, start.AddDate(0, 0, 29))
		assert.NoError(t, err)
		assert.Equal(t, 0, roi.MonthsElapsed)
		assert.Equal(t, "1000.00", roi.CurrentValue.StringFixed(2))
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		bad := &models.Investment{AmountInvested: decimal.Zero, StartDate: start}
		_, err := CalculateCurrentROI(bad, start.AddDate(0, 1, 0))
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.Equal(t, "amount_invested", vErr.Field)
	})

	t.Run("rejects negative rate", func(t *testing.T) {
		bad := &models.Investment{
			AmountInvested: decimal.NewFromInt(100),
			ROIRate:        decimal.NewFromInt(-1),
			StartDate:      start,
		}
		_, err := CalculateCurrentROI(bad, start.AddDate(0, 1, 0))
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.Equal(t, "roi_rate", vErr.Field)
	})
}
