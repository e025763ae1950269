// Package checkout opens provider checkout sessions for course payments and decodes provider callbacks.
package checkout

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidSignature = errors.New("webhook signature verification failed")
	ErrSessionNotFound  = errors.New("checkout session not found")
)

// Metadata keys attached to sessions and payment intents.
const (
	MetaCoursePaymentID = "course_payment_id"
	MetaPaymentType     = "payment_type"
	MetaBookingID       = "booking_id"
)

// CheckoutRequest describes the single charge to collect.
type CheckoutRequest struct {
	CoursePaymentID uuid.UUID
	BookingID       uuid.UUID
	PaymentType     string
	Amount          decimal.Decimal
	ProductName     string
	Description     string
	CustomerEmail   string
}

// Session is an opened checkout session.
type Session struct {
	ID              string
	URL             string
	PaymentIntentID string
}

// CompletedSession is a session read back after the customer returns.
type CompletedSession struct {
	ID              string
	Paid            bool
	PaymentIntentID string
	CustomerID      string
	CoursePaymentID *uuid.UUID
	PaymentType     string
	Amount          decimal.Decimal
	Currency        string
}

// EventKind classifies provider events.
type EventKind string

const (
	EventPaymentSucceeded EventKind = "payment_succeeded"
	EventPaymentFailed    EventKind = "payment_failed"
	EventIgnored          EventKind = "ignored"
)

// Event is a verified provider webhook event reduced to what payment processing needs.
type Event struct {
	ID              string
	Type            string
	Kind            EventKind
	TxnID           string
	CustomerID      string
	CoursePaymentID *uuid.UUID
	PaymentType     string
	Amount          decimal.Decimal
	Currency        string
	FailureMessage  string
	Payload         []byte
}

// Gateway is a checkout provider.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error)
	RetrieveSession(ctx context.Context, id string) (*CompletedSession, error)
	ParseWebhook(payload []byte, signature string) (*Event, error)
	Provider() string
}

func parsePaymentID(meta map[string]string) *uuid.UUID {
	raw, ok := meta[MetaCoursePaymentID]
	if !ok {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}
