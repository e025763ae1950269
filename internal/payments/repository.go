package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hortus-cognitor/backend/internal/events"
	"github.com/hortus-cognitor/backend/internal/ledger"
	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/pkg/database"
)

const lockedPaymentColumns = `id, booking_id, pricing_tier_id, payment_plan_id, status,
	total_amount, deposit_amount, final_amount, deposit_paid_at, final_paid_at,
	COALESCE(external_payment_ref,''), COALESCE(external_customer_ref,''), created_at, updated_at`

// Repository is the Postgres Store. Listing is delegated to the ledger repository.
type Repository struct {
	pool *pgxpool.Pool
	*ledger.Repository
}

// NewRepository creates a payments repository.
func NewRepository(pool *pgxpool.Pool, payments *ledger.Repository) *Repository {
	return &Repository{pool: pool, Repository: payments}
}

// InTx implements Store.
func (r *Repository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

// Summary implements Store.
func (r *Repository) Summary(ctx context.Context, paymentID uuid.UUID) (*PaymentSummary, error) {
	const q = `SELECT p.status, p.total_amount, p.deposit_amount, p.final_amount,
		b.id, b.full_name, b.email, b.phone, b.message,
		COALESCE(c.title,''), COALESCE(c.start_date, CURRENT_DATE), t.tier,
		pl.kind, pl.deposit_deadline, pl.final_payment_deadline
		FROM course_payments p
		JOIN bookings b ON b.id = p.booking_id
		LEFT JOIN courses c ON c.id = b.course_id
		JOIN pricing_tiers t ON t.id = p.pricing_tier_id
		JOIN payment_plans pl ON pl.id = p.payment_plan_id
		WHERE p.id = $1`
	s := PaymentSummary{}
	s.Payment.ID = paymentID
	err := r.pool.QueryRow(ctx, q, paymentID).Scan(
		&s.Payment.Status, &s.Payment.TotalAmount, &s.Payment.DepositAmount, &s.Payment.FinalAmount,
		&s.Booking.ID, &s.Booking.FullName, &s.Booking.Email, &s.Booking.Phone, &s.Booking.Message,
		&s.CourseTitle, &s.CourseStart, &s.Tier,
		&s.Plan.Kind, &s.Plan.DepositDeadline, &s.Plan.FinalPaymentDeadline)
	if err != nil {
		return nil, err
	}
	s.Payment.BookingID = s.Booking.ID
	return &s, nil
}

// Records lists the provider transactions applied to a payment, oldest first.
func (r *Repository) Records(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentRecord, error) {
	const q = `SELECT id, course_payment_id, payment_type, external_txn_id, amount, currency, status, processed_at
		FROM payment_records WHERE course_payment_id = $1 ORDER BY processed_at`
	rows, err := r.pool.Query(ctx, q, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.PaymentRecord
	for rows.Next() {
		var rec models.PaymentRecord
		if err := rows.Scan(&rec.ID, &rec.CoursePaymentID, &rec.PaymentType, &rec.ExternalTxnID,
			&rec.Amount, &rec.Currency, &rec.Status, &rec.ProcessedAt); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) RecordEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, error) {
	const q = `INSERT INTO provider_events (provider, event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, event_id) DO NOTHING`
	var body any
	if len(payload) > 0 {
		body = payload
	}
	tag, err := t.tx.Exec(ctx, q, provider, eventID, eventType, body)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) MarkEventProcessed(ctx context.Context, provider, eventID string) error {
	const q = `UPDATE provider_events SET processed_at = NOW() WHERE provider = $1 AND event_id = $2`
	_, err := t.tx.Exec(ctx, q, provider, eventID)
	return err
}

func (t *pgTx) RecordExists(ctx context.Context, txnID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payment_records WHERE external_txn_id = $1)`, txnID).Scan(&exists)
	return exists, err
}

func (t *pgTx) LockPayment(ctx context.Context, ref string, id *uuid.UUID) (*models.CoursePayment, error) {
	p, err := t.lockWhere(ctx, `external_payment_ref = $1`, ref)
	if err == nil || !database.IsNoRows(err) || id == nil {
		return p, err
	}
	return t.lockWhere(ctx, `id = $1`, *id)
}

func (t *pgTx) lockWhere(ctx context.Context, cond string, arg any) (*models.CoursePayment, error) {
	q := `SELECT ` + lockedPaymentColumns + ` FROM course_payments WHERE ` + cond + ` LIMIT 1 FOR UPDATE`
	var p models.CoursePayment
	err := t.tx.QueryRow(ctx, q, arg).Scan(&p.ID, &p.BookingID, &p.PricingTierID, &p.PaymentPlanID, &p.Status,
		&p.TotalAmount, &p.DepositAmount, &p.FinalAmount, &p.DepositPaidAt, &p.FinalPaidAt,
		&p.ExternalPaymentRef, &p.ExternalCustomerRef, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) InsertRecord(ctx context.Context, rec *models.PaymentRecord) (bool, error) {
	const q = `INSERT INTO payment_records (course_payment_id, payment_type, external_txn_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_txn_id) DO NOTHING
		RETURNING id, processed_at`
	err := t.tx.QueryRow(ctx, q, rec.CoursePaymentID, rec.PaymentType, rec.ExternalTxnID, rec.Amount, rec.Currency, rec.Status).
		Scan(&rec.ID, &rec.ProcessedAt)
	if database.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *pgTx) SavePayment(ctx context.Context, p *models.CoursePayment) error {
	const q = `UPDATE course_payments
		SET status = $1, deposit_paid_at = $2, final_paid_at = $3,
			external_payment_ref = NULLIF($4,''), external_customer_ref = NULLIF($5,''), updated_at = NOW()
		WHERE id = $6`
	tag, err := t.tx.Exec(ctx, q, p.Status, p.DepositPaidAt, p.FinalPaidAt, p.ExternalPaymentRef, p.ExternalCustomerRef, p.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("payment %s: %w", p.ID, pgx.ErrNoRows)
	}
	return nil
}

func (t *pgTx) ConfirmBooking(ctx context.Context, bookingID uuid.UUID) error {
	const q = `UPDATE bookings SET status = $1 WHERE id = $2 AND status <> $3`
	_, err := t.tx.Exec(ctx, q, models.BookingStatusConfirmed, bookingID, models.BookingStatusCancelled)
	return err
}

func (t *pgTx) WriteOutbox(ctx context.Context, ev events.PaymentEvent) error {
	return events.WriteOutbox(ctx, t.tx, ev)
}
