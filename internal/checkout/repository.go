package checkout

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hortus-cognitor/backend/internal/bookings"
	"github.com/hortus-cognitor/backend/internal/ledger"
	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/pkg/database"
)

// Repository creates the booking and payment behind a checkout in one transaction.
type Repository struct {
	pool     *pgxpool.Pool
	bookings *bookings.Repository
	payments *ledger.Repository
}

// NewRepository creates a checkout repository.
func NewRepository(pool *pgxpool.Pool, b *bookings.Repository, p *ledger.Repository) *Repository {
	return &Repository{pool: pool, bookings: b, payments: p}
}

// CreateBookingWithPayment inserts b, then p linked to it. Either both rows exist or neither does.
func (r *Repository) CreateBookingWithPayment(ctx context.Context, b *models.Booking, p *models.CoursePayment) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := r.bookings.Insert(ctx, tx, b); err != nil {
			return fmt.Errorf("insert booking: %w", err)
		}
		p.BookingID = b.ID
		if err := r.payments.Insert(ctx, tx, p); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}
		return nil
	})
}

// SetExternalRef records the provider payment reference on a payment.
func (r *Repository) SetExternalRef(ctx context.Context, p *models.CoursePayment, ref string) error {
	if err := r.payments.SetExternalRef(ctx, p.ID, ref); err != nil {
		return err
	}
	p.ExternalPaymentRef = ref
	return nil
}
