package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/pkg/database"
)

// Repository reads and acknowledges outbox rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an outbox repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ProcessBatch locks up to limit unprocessed rows, hands them to fn, and marks them processed
// when fn succeeds. Rows locked by another relay are skipped.
func (r *Repository) ProcessBatch(ctx context.Context, limit int, fn func([]models.OutboxMessage) error) (int, error) {
	var n int
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT id, aggregate_id, event_type, payload, created_at
			FROM outbox_messages WHERE processed_at IS NULL
			ORDER BY created_at LIMIT $1 FOR UPDATE SKIP LOCKED`, limit)
		if err != nil {
			return fmt.Errorf("select outbox: %w", err)
		}
		msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.OutboxMessage, error) {
			var m models.OutboxMessage
			err := row.Scan(&m.ID, &m.AggregateID, &m.EventType, &m.Payload, &m.CreatedAt)
			return m, err
		})
		if err != nil {
			return fmt.Errorf("scan outbox: %w", err)
		}
		if len(msgs) == 0 {
			return nil
		}
		if err := fn(msgs); err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(msgs))
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox_messages SET processed_at = NOW() WHERE id = ANY($1)`, ids); err != nil {
			return fmt.Errorf("mark outbox processed: %w", err)
		}
		n = len(msgs)
		return nil
	})
	return n, err
}
