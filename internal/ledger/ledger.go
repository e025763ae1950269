// Package ledger computes and tracks what a course booking owes.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/pkg/dates"
)

var (
	ErrUnknownPlan    = errors.New("unknown payment plan kind")
	ErrInvalidDeposit = errors.New("deposit percentage must be within (0, 100]")
	ErrInvalidPrice   = errors.New("tier price must be positive")
)

var hundred = decimal.NewFromInt(100)

// Split divides total into deposit and final amounts for plan.
// Full plans take everything up front; installment plans take deposit_percentage of total,
// rounded to pence, with the remainder due as the final payment.
func Split(total decimal.Decimal, plan models.PaymentPlan) (deposit, final decimal.Decimal, err error) {
	switch plan.Kind {
	case models.PlanFull:
		return total, decimal.Zero, nil
	case models.PlanInstallment:
		pct := plan.DepositPercentage
		if !pct.IsPositive() || pct.GreaterThan(hundred) {
			return decimal.Zero, decimal.Zero, ErrInvalidDeposit
		}
		deposit = total.Mul(pct).Div(hundred).Round(2)
		return deposit, total.Sub(deposit), nil
	}
	return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownPlan, plan.Kind)
}

// Create builds a new pending payment for the chosen tier and plan.
func Create(tier models.PricingTier, plan models.PaymentPlan) (*models.CoursePayment, error) {
	if !tier.Price.IsPositive() {
		return nil, ErrInvalidPrice
	}
	deposit, final, err := Split(tier.Price, plan)
	if err != nil {
		return nil, err
	}
	return &models.CoursePayment{
		PricingTierID: tier.ID,
		PaymentPlanID: plan.ID,
		Status:        models.PaymentStatusPending,
		TotalAmount:   tier.Price,
		DepositAmount: deposit,
		FinalAmount:   final,
	}, nil
}

// IsOverdue reports whether the next payment is late as of today (a calendar date).
func IsOverdue(p *models.CoursePayment, plan models.PaymentPlan, today time.Time) bool {
	today = dates.Day(today, nil)
	switch p.Status {
	case models.PaymentStatusPending:
		return dates.Day(plan.DepositDeadline, nil).Before(today)
	case models.PaymentStatusDepositPaid:
		return dates.Day(plan.FinalPaymentDeadline, nil).Before(today)
	}
	return false
}

// NextAmountDue is the deposit while pending, the final amount once the deposit is in, else zero.
func NextAmountDue(p *models.CoursePayment) decimal.Decimal {
	switch p.Status {
	case models.PaymentStatusPending:
		return p.DepositAmount
	case models.PaymentStatusDepositPaid:
		return p.FinalAmount
	}
	return decimal.Zero
}

// PaymentTypeFor names the first charge taken at checkout for plan.
func PaymentTypeFor(plan models.PaymentPlan) string {
	if plan.Kind == models.PlanInstallment {
		return models.PaymentTypeDeposit
	}
	return models.PaymentTypeFull
}

// ToMinorUnits converts an amount in pounds to pence.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits converts pence to pounds.
func FromMinorUnits(n int64) decimal.Decimal {
	return decimal.New(n, -2)
}
