package models

import (
	"time"

	"github.com/google/uuid"
)

// ReminderType of automated emails.
const (
	ReminderTypePayment       = "payment_reminder"
	ReminderTypeCourseDetails = "course_details"
	ReminderTypeSession       = "session_reminder"
)

// ReminderPendingDelivery marks a claimed record whose delivery outcome was never stored.
const ReminderPendingDelivery = "pending delivery"

// ReminderRecord is an append-only log entry for an automated email. A non-forced record
// suppresses any later reminder with the same DedupKey.
type ReminderRecord struct {
	ID              uuid.UUID  `json:"id"`
	CoursePaymentID *uuid.UUID `json:"course_payment_id,omitempty"`
	BookingID       *uuid.UUID `json:"booking_id,omitempty"`
	CourseSessionID *uuid.UUID `json:"course_session_id,omitempty"`
	ReminderType    string     `json:"reminder_type"`
	DaysBeforeSent  int        `json:"days_before_sent"`
	Recipient       string     `json:"recipient"`
	DeliveredTo     string     `json:"delivered_to"`
	SentAt          time.Time  `json:"sent_at"`
	Successful      bool       `json:"successful"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	Forced          bool       `json:"forced"`
	DedupKey        string     `json:"-"`
}
