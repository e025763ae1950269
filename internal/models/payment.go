package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentProviderStripe is the only checkout provider.
const PaymentProviderStripe = "stripe"

// PaymentStatus for course payments.
const (
	PaymentStatusPending     = "pending"
	PaymentStatusDepositPaid = "deposit_paid"
	PaymentStatusFullyPaid   = "fully_paid"
	PaymentStatusOverdue     = "overdue"
	PaymentStatusCancelled   = "cancelled"
)

// Payment types recorded per provider transaction.
const (
	PaymentTypeDeposit = "deposit"
	PaymentTypeFull    = "full"
	PaymentTypeFinal   = "final"
)

// CoursePayment tracks what a booking owes and what has been paid.
type CoursePayment struct {
	ID                  uuid.UUID       `json:"id"`
	BookingID           uuid.UUID       `json:"booking_id"`
	PricingTierID       uuid.UUID       `json:"pricing_tier_id"`
	PaymentPlanID       uuid.UUID       `json:"payment_plan_id"`
	Status              string          `json:"status"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	DepositAmount       decimal.Decimal `json:"deposit_amount"`
	FinalAmount         decimal.Decimal `json:"final_amount"`
	DepositPaidAt       *time.Time      `json:"deposit_paid_at,omitempty"`
	FinalPaidAt         *time.Time      `json:"final_paid_at,omitempty"`
	ExternalPaymentRef  string          `json:"external_payment_ref,omitempty"`
	ExternalCustomerRef string          `json:"external_customer_ref,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// PaymentRecord is one applied provider transaction.
type PaymentRecord struct {
	ID              uuid.UUID       `json:"id"`
	CoursePaymentID uuid.UUID       `json:"course_payment_id"`
	PaymentType     string          `json:"payment_type"`
	ExternalTxnID   string          `json:"external_txn_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	ProcessedAt     time.Time       `json:"processed_at"`
}

// ProviderEvent is a received webhook event, unique per provider and event id.
type ProviderEvent struct {
	ID          uuid.UUID       `json:"id"`
	Provider    string          `json:"provider"`
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// OutboxMessage is a payment event waiting to be relayed to the broker.
type OutboxMessage struct {
	ID          uuid.UUID       `json:"id"`
	AggregateID uuid.UUID       `json:"aggregate_id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}
