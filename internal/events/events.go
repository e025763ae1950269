// Package events writes payment events to the transactional outbox and relays them to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hortus-cognitor/backend/pkg/database"
)

// Event types.
const (
	TypeDepositPaid = "payment.deposit_paid"
	TypeFullyPaid   = "payment.fully_paid"
)

// PaymentEvent is the message body published for a payment status transition.
type PaymentEvent struct {
	Type           string          `json:"type"`
	PaymentID      uuid.UUID       `json:"payment_id"`
	BookingID      uuid.UUID       `json:"booking_id"`
	PreviousStatus string          `json:"previous_status"`
	Status         string          `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	TxnID          string          `json:"txn_id"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// WriteOutbox inserts ev into outbox_messages using db, normally the transaction that changed the payment.
func WriteOutbox(ctx context.Context, db database.DBTX, ev PaymentEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Type, err)
	}
	const q = `INSERT INTO outbox_messages (aggregate_id, event_type, payload) VALUES ($1, $2, $3)`
	if _, err := db.Exec(ctx, q, ev.PaymentID, ev.Type, payload); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}
