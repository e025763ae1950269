// Package notify renders templated emails and hands them to a transport.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hortus-cognitor/backend/pkg/queue"
)

// Template names. Each has a matching file under templates/.
const (
	TemplatePaymentReminder   = "payment_reminder"
	TemplateCourseDetails     = "course_details"
	TemplateSessionReminder   = "session_reminder"
	TemplateCourseConfirmed   = "course_confirmation"
	TemplateAdminBooking      = "admin_booking_notification"
	TemplateContactSubmission = "contact_notification"
)

var ErrNoRecipients = errors.New("message has no recipients")

// Message is one email to send. Data values must survive a JSON round trip.
type Message struct {
	Template string
	Subject  string
	Data     map[string]any
	To       []string
}

// Sink delivers messages.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// Money formats an amount for display in emails.
func Money(d decimal.Decimal) string {
	return "£" + d.StringFixed(2)
}

// Enqueuer is the part of queue.Queue used by QueueSink.
type Enqueuer interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// QueueSink defers delivery to the email worker.
type QueueSink struct {
	queue  Enqueuer
	logger *zap.Logger
}

// NewQueueSink creates a sink backed by the Redis email queue.
func NewQueueSink(q Enqueuer, logger *zap.Logger) *QueueSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueSink{queue: q, logger: logger}
}

// Send implements Sink.
func (s *QueueSink) Send(ctx context.Context, msg Message) error {
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}
	if err := s.queue.EnqueueEmail(ctx, queue.EmailPayload{
		Template: msg.Template,
		Subject:  msg.Subject,
		To:       msg.To,
		Data:     msg.Data,
	}); err != nil {
		return fmt.Errorf("enqueue %s email: %w", msg.Template, err)
	}
	return nil
}

// FromPayload rebuilds a message dequeued by the worker.
func FromPayload(p queue.EmailPayload) Message {
	return Message{Template: p.Template, Subject: p.Subject, Data: p.Data, To: p.To}
}
