package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Course is a bookable course listed on the site.
type Course struct {
	ID              uuid.UUID       `json:"id"`
	Slug            string          `json:"slug"`
	Title           string          `json:"title"`
	Subtitle        string          `json:"subtitle,omitempty"`
	Description     string          `json:"description,omitempty"`
	Location        string          `json:"location,omitempty"`
	StartDate       time.Time       `json:"start_date"`
	Duration        string          `json:"duration"`
	MaxParticipants int             `json:"max_participants"`
	Price           decimal.Decimal `json:"price"`
	HeroImageKey    string          `json:"hero_image_key,omitempty"`
	IsActive        bool            `json:"is_active"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CourseSession is one dated meeting of a course.
type CourseSession struct {
	ID            uuid.UUID `json:"id"`
	CourseID      uuid.UUID `json:"course_id"`
	SessionNumber int       `json:"session_number"`
	Date          time.Time `json:"date"`
	StartTime     string    `json:"start_time"` // HH:MM
	EndTime       string    `json:"end_time"`
}

// Before reports whether s happens before other (date, then start time).
func (s CourseSession) Before(other CourseSession) bool {
	if !s.Date.Equal(other.Date) {
		return s.Date.Before(other.Date)
	}
	return s.StartTime < other.StartTime
}

// Instructor teaches one or more courses.
type Instructor struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Bio      string    `json:"bio"`
	PhotoKey string    `json:"photo_key,omitempty"`
}
