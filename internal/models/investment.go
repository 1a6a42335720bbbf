package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Investment types
const (
	InvestmentTypeCrypto   = "crypto"
	InvestmentTypeProperty = "property"
	InvestmentTypePlan     = "plan"
)

// Investment statuses
const (
	InvestmentStatusPending   = "pending"
	InvestmentStatusActive    = "active"
	InvestmentStatusCompleted = "completed"
	InvestmentStatusCancelled = "cancelled"
)

// Investment is a user's stake in a property, crypto asset or plan. The
// funds equal to AmountInvested are reserved atomically at creation time by
// the reserve_funds_for_investment SQL function.
type Investment struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	AmountInvested decimal.Decimal `json:"amount_invested"`
	InvestmentType string          `json:"investment_type"`
	ROIRate        decimal.Decimal `json:"roi_rate"` // annual percentage
	SanityID       string          `json:"sanity_id"`
	Status         string          `json:"status"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        *time.Time      `json:"end_date,omitempty"`
	DurationMonths int             `json:"duration_months,omitempty"`
	ROIAmount      decimal.Decimal `json:"roi_amount"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ValidInvestmentType reports whether t is a supported investment type.
func ValidInvestmentType(t string) bool {
	switch t {
	case InvestmentTypeCrypto, InvestmentTypeProperty, InvestmentTypePlan:
		return true
	}
	return false
}

// ValidInvestmentStatus reports whether s is a known lifecycle status.
func ValidInvestmentStatus(s string) bool {
	switch s {
	case InvestmentStatusPending, InvestmentStatusActive, InvestmentStatusCompleted, InvestmentStatusCancelled:
		return true
	}
	return false
}
