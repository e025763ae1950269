package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/pkg/database"
)

const paymentColumns = `p.id, p.booking_id, p.pricing_tier_id, p.payment_plan_id, p.status,
	p.total_amount, p.deposit_amount, p.final_amount, p.deposit_paid_at, p.final_paid_at,
	COALESCE(p.external_payment_ref,''), COALESCE(p.external_customer_ref,''), p.created_at, p.updated_at`

// Repository handles course_payments persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a ledger repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a new payment. db may be the pool or an open transaction.
func (r *Repository) Insert(ctx context.Context, db database.DBTX, p *models.CoursePayment) error {
	const q = `INSERT INTO course_payments (id, booking_id, pricing_tier_id, payment_plan_id, status, total_amount, deposit_amount, final_amount)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at`
	return db.QueryRow(ctx, q, p.BookingID, p.PricingTierID, p.PaymentPlanID, p.Status, p.TotalAmount, p.DepositAmount, p.FinalAmount).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

// GetByID returns a payment by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.CoursePayment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM course_payments p WHERE p.id = $1`, id)
	return scanPayment(row)
}

// SetExternalRef stores the provider payment reference once it is known.
func (r *Repository) SetExternalRef(ctx context.Context, id uuid.UUID, ref string) error {
	const q = `UPDATE course_payments SET external_payment_ref = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, ref, id)
	return err
}

// PaymentView is a payment with the booking, course and plan it belongs to.
type PaymentView struct {
	Payment       models.CoursePayment `json:"payment"`
	FullName      string               `json:"full_name"`
	Email         string               `json:"email"`
	CourseTitle   string               `json:"course_title"`
	Tier          string               `json:"tier"`
	Plan          models.PaymentPlan   `json:"plan"`
	Overdue       bool                 `json:"overdue"`
	NextAmountDue decimal.Decimal      `json:"next_amount_due"`
}

// ListFilter narrows ListViews.
type ListFilter struct {
	Status      string
	OverdueOnly bool
}

// ListViews returns payments newest first, each annotated with overdue state as of today.
func (r *Repository) ListViews(ctx context.Context, f ListFilter, today time.Time) ([]PaymentView, error) {
	q := `SELECT ` + paymentColumns + `, b.full_name, b.email, COALESCE(c.title,''), t.tier,
		pl.id, pl.kind, pl.deposit_percentage, pl.deposit_deadline, pl.final_payment_deadline, pl.is_active
		FROM course_payments p
		JOIN bookings b ON b.id = p.booking_id
		LEFT JOIN courses c ON c.id = b.course_id
		JOIN pricing_tiers t ON t.id = p.pricing_tier_id
		JOIN payment_plans pl ON pl.id = p.payment_plan_id`
	var args []any
	if f.Status != "" {
		q += ` WHERE p.status = $1`
		args = append(args, f.Status)
	}
	rows, err := r.pool.Query(ctx, q+` ORDER BY p.created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []PaymentView
	for rows.Next() {
		var v PaymentView
		p := &v.Payment
		pl := &v.Plan
		if err := rows.Scan(&p.ID, &p.BookingID, &p.PricingTierID, &p.PaymentPlanID, &p.Status,
			&p.TotalAmount, &p.DepositAmount, &p.FinalAmount, &p.DepositPaidAt, &p.FinalPaidAt,
			&p.ExternalPaymentRef, &p.ExternalCustomerRef, &p.CreatedAt, &p.UpdatedAt,
			&v.FullName, &v.Email, &v.CourseTitle, &v.Tier,
			&pl.ID, &pl.Kind, &pl.DepositPercentage, &pl.DepositDeadline, &pl.FinalPaymentDeadline, &pl.IsActive); err != nil {
			return nil, err
		}
		v.Overdue = IsOverdue(p, *pl, today)
		v.NextAmountDue = NextAmountDue(p)
		if f.OverdueOnly && !v.Overdue {
			continue
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(row scanner) (*models.CoursePayment, error) {
	var p models.CoursePayment
	err := row.Scan(&p.ID, &p.BookingID, &p.PricingTierID, &p.PaymentPlanID, &p.Status,
		&p.TotalAmount, &p.DepositAmount, &p.FinalAmount, &p.DepositPaidAt, &p.FinalPaidAt,
		&p.ExternalPaymentRef, &p.ExternalCustomerRef, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
