package reminders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/pkg/database"
)

// Repository handles reminder_records and the reads the batches need.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a reminders repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// PaymentsAwaitingFinal implements Store. Cancelled bookings are left out.
func (r *Repository) PaymentsAwaitingFinal(ctx context.Context) ([]PaymentDue, error) {
	const q = `SELECT p.id, b.full_name, b.email, COALESCE(c.title,''),
		p.total_amount, p.deposit_amount, p.final_amount, pl.final_payment_deadline
		FROM course_payments p
		JOIN bookings b ON b.id = p.booking_id
		LEFT JOIN courses c ON c.id = b.course_id
		JOIN payment_plans pl ON pl.id = p.payment_plan_id
		WHERE p.deposit_paid_at IS NOT NULL AND p.final_paid_at IS NULL AND b.status <> 'cancelled'
		ORDER BY pl.final_payment_deadline, p.created_at`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []PaymentDue
	for rows.Next() {
		var p PaymentDue
		if err := rows.Scan(&p.PaymentID, &p.FullName, &p.Email, &p.CourseTitle,
			&p.TotalAmount, &p.DepositAmount, &p.FinalAmount, &p.FinalDeadline); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// CoursesStarting implements Store.
func (r *Repository) CoursesStarting(ctx context.Context, day time.Time) ([]models.Course, error) {
	const q = `SELECT id, slug, title, location, start_date
		FROM courses WHERE is_active AND start_date = $1 ORDER BY title`
	rows, err := r.pool.Query(ctx, q, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Course
	for rows.Next() {
		var c models.Course
		if err := rows.Scan(&c.ID, &c.Slug, &c.Title, &c.Location, &c.StartDate); err != nil {
			return nil, err
		}
		c.IsActive = true
		list = append(list, c)
	}
	return list, rows.Err()
}

// ConfirmedAttendees implements Store.
func (r *Repository) ConfirmedAttendees(ctx context.Context, courseID uuid.UUID) ([]Attendee, error) {
	const q = `SELECT b.id, p.id, b.full_name, b.email
		FROM bookings b
		LEFT JOIN course_payments p ON p.booking_id = b.id
		WHERE b.course_id = $1 AND b.status = 'confirmed'
		ORDER BY b.created_at`
	rows, err := r.pool.Query(ctx, q, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Attendee
	for rows.Next() {
		var a Attendee
		if err := rows.Scan(&a.BookingID, &a.PaymentID, &a.FullName, &a.Email); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// Sessions implements Store.
func (r *Repository) Sessions(ctx context.Context, courseID uuid.UUID) ([]models.CourseSession, error) {
	const q = `SELECT id, course_id, session_number, date, start_time, end_time
		FROM course_sessions WHERE course_id = $1 ORDER BY date, start_time`
	rows, err := r.pool.Query(ctx, q, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.CourseSession
	for rows.Next() {
		var s models.CourseSession
		if err := rows.Scan(&s.ID, &s.CourseID, &s.SessionNumber, &s.Date, &s.StartTime, &s.EndTime); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// SessionsOn implements Store. IsFirst marks the chronologically first session of each course.
func (r *Repository) SessionsOn(ctx context.Context, day time.Time) ([]SessionDue, error) {
	const q = `SELECT s.id, s.course_id, s.session_number, s.date, s.start_time, s.end_time,
		c.title, c.location,
		s.id = (SELECT f.id FROM course_sessions f WHERE f.course_id = s.course_id
			ORDER BY f.date, f.start_time LIMIT 1) AS is_first
		FROM course_sessions s
		JOIN courses c ON c.id = s.course_id
		WHERE s.date = $1
		ORDER BY s.date, s.start_time`
	rows, err := r.pool.Query(ctx, q, day)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []SessionDue
	for rows.Next() {
		var d SessionDue
		s := &d.Session
		if err := rows.Scan(&s.ID, &s.CourseID, &s.SessionNumber, &s.Date, &s.StartTime, &s.EndTime,
			&d.CourseTitle, &d.Location, &d.IsFirst); err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

// Exists implements Store.
func (r *Repository) Exists(ctx context.Context, dedupKey string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reminder_records WHERE dedup_key = $1 AND NOT forced)`, dedupKey).Scan(&ok)
	return ok, err
}

// Claim implements Store.
func (r *Repository) Claim(ctx context.Context, rec *models.ReminderRecord) (bool, error) {
	const q = `INSERT INTO reminder_records
		(course_payment_id, booking_id, course_session_id, reminder_type, days_before_sent, recipient, delivered_to,
		 error_message, forced, dedup_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (dedup_key) WHERE NOT forced DO NOTHING
		RETURNING id, sent_at`
	err := r.pool.QueryRow(ctx, q, rec.CoursePaymentID, rec.BookingID, rec.CourseSessionID, rec.ReminderType, rec.DaysBeforeSent,
		rec.Recipient, rec.DeliveredTo, rec.ErrorMessage, rec.Forced, rec.DedupKey).Scan(&rec.ID, &rec.SentAt)
	if database.IsNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Complete implements Store.
func (r *Repository) Complete(ctx context.Context, id uuid.UUID, successful bool, errMsg string) error {
	const q = `UPDATE reminder_records SET successful = $1, error_message = $2, sent_at = NOW() WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, successful, errMsg, id)
	return err
}

// ListFilter narrows List.
type ListFilter struct {
	Type  string
	Limit int
}

// List returns reminder records newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]models.ReminderRecord, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	q := `SELECT id, course_payment_id, booking_id, course_session_id, reminder_type, days_before_sent, recipient,
		delivered_to, sent_at, successful, error_message, forced
		FROM reminder_records`
	args := []any{f.Limit}
	if f.Type != "" {
		q += ` WHERE reminder_type = $2`
		args = append(args, f.Type)
	}
	rows, err := r.pool.Query(ctx, q+` ORDER BY sent_at DESC LIMIT $1`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ReminderRecord
	for rows.Next() {
		var rec models.ReminderRecord
		if err := rows.Scan(&rec.ID, &rec.CoursePaymentID, &rec.BookingID, &rec.CourseSessionID, &rec.ReminderType, &rec.DaysBeforeSent,
			&rec.Recipient, &rec.DeliveredTo, &rec.SentAt, &rec.Successful, &rec.ErrorMessage, &rec.Forced); err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}
