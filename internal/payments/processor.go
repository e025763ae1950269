// Package payments applies provider payment confirmations to course payments.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hortus-cognitor/backend/internal/events"
	"github.com/hortus-cognitor/backend/internal/ledger"
	"github.com/hortus-cognitor/backend/internal/metrics"
	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/internal/notify"
)

// Outcome of applying a confirmation.
type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeUnmatched    Outcome = "unmatched"
	OutcomeNoTransition Outcome = "no_transition"
)

// Confirmation is a provider's word that money moved (or failed to).
// EventID is empty when the confirmation comes from the success redirect rather than a webhook.
type Confirmation struct {
	Provider        string
	EventID         string
	EventType       string
	Payload         []byte
	TxnID           string
	CoursePaymentID *uuid.UUID
	PaymentType     string
	Amount          decimal.Decimal
	Currency        string
	CustomerRef     string
	FailureMessage  string
}

// Tx is the transaction-scoped part of the store.
type Tx interface {
	// RecordEvent stores the provider event; false means it was already there.
	RecordEvent(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, error)
	MarkEventProcessed(ctx context.Context, provider, eventID string) error
	RecordExists(ctx context.Context, txnID string) (bool, error)
	// LockPayment selects a payment FOR UPDATE by external reference, falling back to id.
	// Returns pgx.ErrNoRows when neither matches.
	LockPayment(ctx context.Context, ref string, id *uuid.UUID) (*models.CoursePayment, error)
	// InsertRecord returns false when a record with the same txn id exists.
	InsertRecord(ctx context.Context, rec *models.PaymentRecord) (bool, error)
	SavePayment(ctx context.Context, p *models.CoursePayment) error
	ConfirmBooking(ctx context.Context, bookingID uuid.UUID) error
	WriteOutbox(ctx context.Context, ev events.PaymentEvent) error
}

// Store runs transactions and loads what confirmation emails need.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Summary(ctx context.Context, paymentID uuid.UUID) (*PaymentSummary, error)
}

// PaymentSummary joins a payment with its booking, course, tier and plan.
type PaymentSummary struct {
	Payment     models.CoursePayment
	Booking     models.Booking
	CourseTitle string
	CourseStart time.Time
	Tier        string
	Plan        models.PaymentPlan
}

// Processor is the payment state machine.
type Processor struct {
	store    Store
	sink     notify.Sink
	notifyTo []string
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewProcessor creates a processor. sink receives customer and staff emails after a transition commits.
func NewProcessor(store Store, sink notify.Sink, notifyTo []string, m *metrics.Metrics, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{store: store, sink: sink, notifyTo: notifyTo, metrics: m, logger: logger, now: time.Now}
}

// Transition advances p for one successful charge and reports whether its status changed.
// A plan with nothing left after the deposit goes straight from pending to fully_paid.
func Transition(p *models.CoursePayment, at time.Time) bool {
	switch p.Status {
	case models.PaymentStatusPending:
		p.DepositPaidAt = &at
		p.Status = models.PaymentStatusDepositPaid
		if p.FinalAmount.IsZero() {
			p.FinalPaidAt = &at
			p.Status = models.PaymentStatusFullyPaid
		}
		return true
	case models.PaymentStatusDepositPaid:
		p.FinalPaidAt = &at
		p.Status = models.PaymentStatusFullyPaid
		return true
	}
	return false
}

// paymentTypeFor names the charge a successful payment in status would settle.
func paymentTypeFor(p *models.CoursePayment) string {
	switch {
	case p.Status == models.PaymentStatusPending && p.FinalAmount.IsZero():
		return models.PaymentTypeFull
	case p.Status == models.PaymentStatusPending:
		return models.PaymentTypeDeposit
	}
	return models.PaymentTypeFinal
}

// ApplySucceeded records a successful charge and advances the payment at most one step.
// Replays of the same event or transaction are absorbed. Any storage error rolls back everything.
func (p *Processor) ApplySucceeded(ctx context.Context, c Confirmation) (Outcome, error) {
	if c.TxnID == "" {
		return "", errors.New("confirmation has no transaction id")
	}
	var (
		outcome  Outcome
		payment  *models.CoursePayment
		previous string
		amount   decimal.Decimal
	)
	err := p.store.InTx(ctx, func(tx Tx) error {
		outcome, payment, previous, amount = "", nil, "", decimal.Zero

		if c.EventID != "" {
			fresh, err := tx.RecordEvent(ctx, c.Provider, c.EventID, c.EventType, c.Payload)
			if err != nil {
				return fmt.Errorf("record provider event: %w", err)
			}
			if !fresh {
				outcome = OutcomeDuplicate
				return nil
			}
		}
		defer func() {
			if c.EventID != "" && outcome != "" {
				if err := tx.MarkEventProcessed(ctx, c.Provider, c.EventID); err != nil {
					p.logger.Warn("mark provider event processed failed", zap.String("event_id", c.EventID), zap.Error(err))
				}
			}
		}()

		seen, err := tx.RecordExists(ctx, c.TxnID)
		if err != nil {
			return fmt.Errorf("check payment record: %w", err)
		}
		if seen {
			outcome = OutcomeDuplicate
			return nil
		}

		locked, err := tx.LockPayment(ctx, c.TxnID, c.CoursePaymentID)
		if errors.Is(err, pgx.ErrNoRows) {
			outcome = OutcomeUnmatched
			return nil
		}
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}

		amount = c.Amount
		if amount.IsZero() {
			amount = ledger.NextAmountDue(locked)
		}
		paymentType := c.PaymentType
		if paymentType == "" {
			paymentType = paymentTypeFor(locked)
		}
		inserted, err := tx.InsertRecord(ctx, &models.PaymentRecord{
			CoursePaymentID: locked.ID,
			PaymentType:     paymentType,
			ExternalTxnID:   c.TxnID,
			Amount:          amount,
			Currency:        c.Currency,
			Status:          "succeeded",
		})
		if err != nil {
			return fmt.Errorf("insert payment record: %w", err)
		}
		if !inserted {
			outcome = OutcomeDuplicate
			return nil
		}

		previous = locked.Status
		if !Transition(locked, p.now().UTC()) {
			outcome = OutcomeNoTransition
			return nil
		}
		locked.ExternalPaymentRef = c.TxnID
		if c.CustomerRef != "" {
			locked.ExternalCustomerRef = c.CustomerRef
		}
		if err := tx.SavePayment(ctx, locked); err != nil {
			return fmt.Errorf("save payment: %w", err)
		}
		if err := tx.ConfirmBooking(ctx, locked.BookingID); err != nil {
			return fmt.Errorf("confirm booking: %w", err)
		}
		evType := events.TypeDepositPaid
		if locked.Status == models.PaymentStatusFullyPaid {
			evType = events.TypeFullyPaid
		}
		if err := tx.WriteOutbox(ctx, events.PaymentEvent{
			Type:           evType,
			PaymentID:      locked.ID,
			BookingID:      locked.BookingID,
			PreviousStatus: previous,
			Status:         locked.Status,
			Amount:         amount,
			Currency:       c.Currency,
			TxnID:          c.TxnID,
			OccurredAt:     p.now().UTC(),
		}); err != nil {
			return err
		}
		payment = locked
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		p.count("error")
		p.logger.Error("apply payment confirmation failed", zap.String("txn_id", c.TxnID), zap.String("event_id", c.EventID), zap.Error(err))
		return "", err
	}

	p.count(string(outcome))
	fields := []zap.Field{zap.String("txn_id", c.TxnID), zap.String("event_id", c.EventID), zap.String("outcome", string(outcome))}
	switch outcome {
	case OutcomeApplied:
		p.logger.Info("payment status advanced", append(fields,
			zap.String("course_payment_id", payment.ID.String()),
			zap.String("from", previous), zap.String("to", payment.Status))...)
		p.sendConfirmation(ctx, payment.ID, amount)
	case OutcomeUnmatched:
		p.logger.Warn("no course payment matches confirmation", fields...)
	case OutcomeNoTransition:
		p.logger.Warn("payment already settled, charge recorded without transition", fields...)
	default:
		p.logger.Info("duplicate payment confirmation ignored", fields...)
	}
	return outcome, nil
}

// ApplyFailed only logs. The payment stays where it was so the customer can retry.
func (p *Processor) ApplyFailed(_ context.Context, c Confirmation) {
	p.count("failed")
	ref := ""
	if c.CoursePaymentID != nil {
		ref = c.CoursePaymentID.String()
	}
	p.logger.Warn("payment failed",
		zap.String("txn_id", c.TxnID),
		zap.String("course_payment_id", ref),
		zap.String("reason", c.FailureMessage))
}

func (p *Processor) count(outcome string) {
	if p.metrics != nil {
		p.metrics.WebhookOutcomes.WithLabelValues(outcome).Inc()
	}
}

const dateLayout = "2 January 2006"

// sendConfirmation emails the customer and staff. Failures are logged; the payment is already committed.
func (p *Processor) sendConfirmation(ctx context.Context, paymentID uuid.UUID, paid decimal.Decimal) {
	s, err := p.store.Summary(ctx, paymentID)
	if err != nil {
		p.logger.Error("load payment summary for email failed", zap.String("course_payment_id", paymentID.String()), zap.Error(err))
		return
	}
	remaining := ""
	if s.Payment.Status == models.PaymentStatusDepositPaid {
		remaining = notify.Money(s.Payment.FinalAmount)
	}
	tier := models.TierLabel(s.Tier)
	msgs := []notify.Message{{
		Template: notify.TemplateCourseConfirmed,
		Subject:  "Course booking confirmed - " + s.CourseTitle,
		To:       []string{s.Booking.Email},
		Data: map[string]any{
			"Name":          s.Booking.FullName,
			"CourseTitle":   s.CourseTitle,
			"Tier":          tier,
			"AmountPaid":    notify.Money(paid),
			"Total":         notify.Money(s.Payment.TotalAmount),
			"Remaining":     remaining,
			"FinalDeadline": s.Plan.FinalPaymentDeadline.Format(dateLayout),
			"StartDate":     s.CourseStart.Format(dateLayout),
		},
	}}
	if len(p.notifyTo) > 0 {
		msgs = append(msgs, notify.Message{
			Template: notify.TemplateAdminBooking,
			Subject:  fmt.Sprintf("Payment received - %s - %s", s.CourseTitle, s.Booking.FullName),
			To:       p.notifyTo,
			Data: map[string]any{
				"Paid":        true,
				"CourseTitle": s.CourseTitle,
				"Name":        s.Booking.FullName,
				"Email":       s.Booking.Email,
				"Phone":       s.Booking.Phone,
				"Tier":        tier,
				"AmountPaid":  notify.Money(paid),
				"Status":      s.Payment.Status,
				"Message":     s.Booking.Message,
			},
		})
	}
	for _, m := range msgs {
		if err := p.sink.Send(ctx, m); err != nil {
			p.logger.Error("queue payment email failed", zap.String("template", m.Template), zap.Error(err))
		}
	}
}
