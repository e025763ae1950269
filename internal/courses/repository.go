package courses

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hortus-cognitor/backend/internal/models"
)

const courseColumns = `c.id, c.slug, c.title, c.subtitle, c.description, c.location, c.start_date, c.duration,
	c.max_participants, c.price, COALESCE(c.hero_image_key,''), c.is_active, c.created_at, c.updated_at`

// confirmedCount counts bookings whose payment has at least the deposit in.
const confirmedCount = `(SELECT COUNT(*) FROM bookings b JOIN course_payments p ON p.booking_id = b.id
	WHERE b.course_id = c.id AND p.status IN ('deposit_paid','fully_paid'))`

// Repository handles courses, sessions, instructors, tiers and plans.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a courses repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanCourse(row pgx.Row, extra ...any) (*models.Course, error) {
	var c models.Course
	dest := append([]any{&c.ID, &c.Slug, &c.Title, &c.Subtitle, &c.Description, &c.Location, &c.StartDate, &c.Duration,
		&c.MaxParticipants, &c.Price, &c.HeroImageKey, &c.IsActive, &c.CreatedAt, &c.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetBySlug returns a course by slug, active or not.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*models.Course, error) {
	return scanCourse(r.pool.QueryRow(ctx, `SELECT `+courseColumns+` FROM courses c WHERE c.slug = $1`, slug))
}

// GetByID returns a course by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	return scanCourse(r.pool.QueryRow(ctx, `SELECT `+courseColumns+` FROM courses c WHERE c.id = $1`, id))
}

// ListActive returns active courses ordered by start date, each with its confirmed booking count.
func (r *Repository) ListActive(ctx context.Context) ([]Listing, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+courseColumns+`, `+confirmedCount+`
		FROM courses c WHERE c.is_active ORDER BY c.start_date, c.title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Listing
	for rows.Next() {
		var n int
		c, err := scanCourse(rows, &n)
		if err != nil {
			return nil, err
		}
		list = append(list, newListing(*c, n))
	}
	return list, rows.Err()
}

// ListAll returns every course, active or not.
func (r *Repository) ListAll(ctx context.Context) ([]models.Course, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+courseColumns+` FROM courses c ORDER BY c.start_date`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// ConfirmedCount returns the number of bookings with a paid deposit or full payment.
func (r *Repository) ConfirmedCount(ctx context.Context, courseID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT `+confirmedCount+` FROM courses c WHERE c.id = $1`, courseID).Scan(&n)
	return n, err
}

// Sessions returns a course's sessions in chronological order.
func (r *Repository) Sessions(ctx context.Context, courseID uuid.UUID) ([]models.CourseSession, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, course_id, session_number, date, start_time, end_time
		FROM course_sessions WHERE course_id = $1 ORDER BY date, start_time`, courseID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.CourseSession, error) {
		var s models.CourseSession
		err := row.Scan(&s.ID, &s.CourseID, &s.SessionNumber, &s.Date, &s.StartTime, &s.EndTime)
		return s, err
	})
}

// Instructors returns the instructors teaching a course.
func (r *Repository) Instructors(ctx context.Context, courseID uuid.UUID) ([]models.Instructor, error) {
	rows, err := r.pool.Query(ctx, `SELECT i.id, i.name, i.bio, COALESCE(i.photo_key,'')
		FROM instructors i JOIN course_instructors ci ON ci.instructor_id = i.id
		WHERE ci.course_id = $1 ORDER BY i.name`, courseID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Instructor, error) {
		var in models.Instructor
		err := row.Scan(&in.ID, &in.Name, &in.Bio, &in.PhotoKey)
		return in, err
	})
}

// SetHeroImage stores the S3 key of a course's hero image.
func (r *Repository) SetHeroImage(ctx context.Context, courseID uuid.UUID, key string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE courses SET hero_image_key = $1, updated_at = NOW() WHERE id = $2`, key, courseID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

const tierColumns = `id, course_id, tier, price, session_count, description`

func scanTier(row pgx.Row) (*models.PricingTier, error) {
	var t models.PricingTier
	if err := row.Scan(&t.ID, &t.CourseID, &t.Tier, &t.Price, &t.SessionCount, &t.Description); err != nil {
		return nil, err
	}
	return &t, nil
}

// Tiers returns a course's pricing tiers, cheapest first.
func (r *Repository) Tiers(ctx context.Context, courseID uuid.UUID) ([]models.PricingTier, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+tierColumns+` FROM pricing_tiers WHERE course_id = $1 ORDER BY price`, courseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.PricingTier
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

// GetTier returns a pricing tier by ID.
func (r *Repository) GetTier(ctx context.Context, id uuid.UUID) (*models.PricingTier, error) {
	return scanTier(r.pool.QueryRow(ctx, `SELECT `+tierColumns+` FROM pricing_tiers WHERE id = $1`, id))
}

// UpsertTier creates a tier or updates it while no payment references it.
func (r *Repository) UpsertTier(ctx context.Context, t *models.PricingTier) error {
	const q = `INSERT INTO pricing_tiers (course_id, tier, price, session_count, description)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (course_id, tier) DO UPDATE SET price = EXCLUDED.price,
			session_count = EXCLUDED.session_count, description = EXCLUDED.description
		WHERE NOT EXISTS (SELECT 1 FROM course_payments p WHERE p.pricing_tier_id = pricing_tiers.id)
		RETURNING id`
	err := r.pool.QueryRow(ctx, q, t.CourseID, t.Tier, t.Price, t.SessionCount, t.Description).Scan(&t.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Referenced tiers are immutable; keep the stored row.
		return r.pool.QueryRow(ctx, `SELECT id FROM pricing_tiers WHERE course_id = $1 AND tier = $2`, t.CourseID, t.Tier).Scan(&t.ID)
	}
	return err
}

const planColumns = `id, kind, deposit_percentage, deposit_deadline, final_payment_deadline, is_active`

func scanPlan(row pgx.Row) (*models.PaymentPlan, error) {
	var p models.PaymentPlan
	if err := row.Scan(&p.ID, &p.Kind, &p.DepositPercentage, &p.DepositDeadline, &p.FinalPaymentDeadline, &p.IsActive); err != nil {
		return nil, err
	}
	return &p, nil
}

// ActivePlans returns the payment plans customers may choose.
func (r *Repository) ActivePlans(ctx context.Context) ([]models.PaymentPlan, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+planColumns+` FROM payment_plans WHERE is_active ORDER BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.PaymentPlan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

// GetPlan returns a payment plan by ID.
func (r *Repository) GetPlan(ctx context.Context, id uuid.UUID) (*models.PaymentPlan, error) {
	return scanPlan(r.pool.QueryRow(ctx, `SELECT `+planColumns+` FROM payment_plans WHERE id = $1`, id))
}

// UpsertPlan creates or updates the plan of the given kind.
func (r *Repository) UpsertPlan(ctx context.Context, p *models.PaymentPlan) error {
	const q = `INSERT INTO payment_plans (kind, deposit_percentage, deposit_deadline, final_payment_deadline, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind) DO UPDATE SET deposit_percentage = EXCLUDED.deposit_percentage,
			deposit_deadline = EXCLUDED.deposit_deadline, final_payment_deadline = EXCLUDED.final_payment_deadline,
			is_active = EXCLUDED.is_active
		RETURNING id`
	return r.pool.QueryRow(ctx, q, p.Kind, p.DepositPercentage, p.DepositDeadline, p.FinalPaymentDeadline, p.IsActive).Scan(&p.ID)
}

// Listing is a course with its availability.
type Listing struct {
	models.Course
	ConfirmedBookings int `json:"confirmed_bookings"`
	SpacesLeft        int `json:"spaces_left"`
}

func newListing(c models.Course, confirmed int) Listing {
	return Listing{Course: c, ConfirmedBookings: confirmed, SpacesLeft: SpacesLeft(c.MaxParticipants, confirmed)}
}

// SpacesLeft never goes below zero.
func SpacesLeft(max, confirmed int) int {
	if confirmed >= max {
		return 0
	}
	return max - confirmed
}
