package bookings

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/pkg/database"
)

const bookingColumns = `b.id, b.course_id, b.full_name, b.email, b.phone, b.message, b.status, b.created_at`

// Repository handles booking persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a bookings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a booking. db may be the pool or an open transaction.
func (r *Repository) Insert(ctx context.Context, db database.DBTX, b *models.Booking) error {
	if b.Status == "" {
		b.Status = models.BookingStatusPending
	}
	const q = `INSERT INTO bookings (course_id, full_name, email, phone, message, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	return db.QueryRow(ctx, q, b.CourseID, b.FullName, b.Email, b.Phone, b.Message, b.Status).Scan(&b.ID, &b.CreatedAt)
}

// Create stores a booking outside any transaction.
func (r *Repository) Create(ctx context.Context, b *models.Booking) error {
	return r.Insert(ctx, r.pool, b)
}

// GetByID returns a booking by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var b models.Booking
	err := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings b WHERE b.id = $1`, id).
		Scan(&b.ID, &b.CourseID, &b.FullName, &b.Email, &b.Phone, &b.Message, &b.Status, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpdateStatus sets a booking's status. Returns pgx.ErrNoRows when the booking does not exist.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*models.Booking, error) {
	var b models.Booking
	err := r.pool.QueryRow(ctx, `UPDATE bookings b SET status = $1 WHERE b.id = $2 RETURNING `+bookingColumns, status, id).
		Scan(&b.ID, &b.CourseID, &b.FullName, &b.Email, &b.Phone, &b.Message, &b.Status, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Attendee is a booking joined with its payment, if any.
type Attendee struct {
	Booking       models.Booking
	Tier          string
	PaymentStatus string
	TotalAmount   decimal.Decimal
	PaidAmount    decimal.Decimal
	DepositPaidAt *time.Time
	FinalPaidAt   *time.Time
}

// ListAttendees returns every booking for a course, oldest first.
func (r *Repository) ListAttendees(ctx context.Context, courseID uuid.UUID) ([]Attendee, error) {
	const q = `SELECT ` + bookingColumns + `, COALESCE(t.tier,''), COALESCE(p.status,''),
		COALESCE(p.total_amount,0),
		CASE WHEN p.status = 'fully_paid' THEN p.total_amount
		     WHEN p.status = 'deposit_paid' THEN p.deposit_amount
		     ELSE 0 END,
		p.deposit_paid_at, p.final_paid_at
		FROM bookings b
		LEFT JOIN course_payments p ON p.booking_id = b.id
		LEFT JOIN pricing_tiers t ON t.id = p.pricing_tier_id
		WHERE b.course_id = $1
		ORDER BY b.created_at`
	rows, err := r.pool.Query(ctx, q, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Attendee
	for rows.Next() {
		var a Attendee
		b := &a.Booking
		if err := rows.Scan(&b.ID, &b.CourseID, &b.FullName, &b.Email, &b.Phone, &b.Message, &b.Status, &b.CreatedAt,
			&a.Tier, &a.PaymentStatus, &a.TotalAmount, &a.PaidAmount, &a.DepositPaidAt, &a.FinalPaidAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
