package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hortus-cognitor/backend/internal/models"
)

const userColumns = `id, email, password_hash, full_name, role, created_at, updated_at`

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail returns a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.scanOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

// Upsert creates the user or resets the password, name and role of an existing one.
func (r *Repository) Upsert(ctx context.Context, email, passwordHash, fullName string, role models.Role) (*models.User, error) {
	const q = `INSERT INTO users (email, password_hash, full_name, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE SET password_hash = EXCLUDED.password_hash,
			full_name = EXCLUDED.full_name, role = EXCLUDED.role, updated_at = NOW()
		RETURNING ` + userColumns
	return r.scanOne(ctx, q, email, passwordHash, fullName, string(role))
}

func (r *Repository) scanOne(ctx context.Context, q string, args ...any) (*models.User, error) {
	var u models.User
	var role string
	err := r.pool.QueryRow(ctx, q, args...).Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}
