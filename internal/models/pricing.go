package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Pricing tiers offered for every course.
const (
	TierBasic      = "basic"
	TierStandard   = "standard"
	TierSolidarity = "solidarity"
)

// Payment plan kinds.
const (
	PlanFull        = "full"
	PlanInstallment = "installment"
)

// TierLabel returns the display name of a tier.
func TierLabel(tier string) string {
	switch tier {
	case TierBasic:
		return "Basic Tier - Meeting Basic Needs"
	case TierStandard:
		return "Standard Tier - Regular Income"
	case TierSolidarity:
		return "Solidarity Tier - Financially Secure"
	}
	return tier
}

// PricingTier is one of the three sliding-scale prices of a course.
type PricingTier struct {
	ID           uuid.UUID       `json:"id"`
	CourseID     uuid.UUID       `json:"course_id"`
	Tier         string          `json:"tier"`
	Price        decimal.Decimal `json:"price"`
	SessionCount int             `json:"session_count"`
	Description  string          `json:"description"`
}

// PricePerSession is zero when the tier has no sessions.
func (t PricingTier) PricePerSession() decimal.Decimal {
	if t.SessionCount <= 0 {
		return decimal.Zero
	}
	return t.Price.DivRound(decimal.NewFromInt(int64(t.SessionCount)), 2)
}

// PaymentPlan decides how the total is split between deposit and final payment.
type PaymentPlan struct {
	ID                   uuid.UUID       `json:"id"`
	Kind                 string          `json:"kind"`
	DepositPercentage    decimal.Decimal `json:"deposit_percentage"`
	DepositDeadline      time.Time       `json:"deposit_deadline"`
	FinalPaymentDeadline time.Time       `json:"final_payment_deadline"`
	IsActive             bool            `json:"is_active"`
}
