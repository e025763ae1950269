package models

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus values. Cancelled bookings receive no reminders.
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCancelled = "cancelled"
)

// Booking is a course booking or, with no course, a contact form submission.
type Booking struct {
	ID        uuid.UUID  `json:"id"`
	CourseID  *uuid.UUID `json:"course_id,omitempty"`
	FullName  string     `json:"full_name"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone,omitempty"`
	Message   string     `json:"message,omitempty"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// ValidBookingStatus reports whether s is a known booking status.
func ValidBookingStatus(s string) bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled:
		return true
	}
	return false
}
