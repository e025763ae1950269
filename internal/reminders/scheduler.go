// Package reminders runs the payment, course-details and session reminder batches.
// Each run is idempotent: a record per (anchor, kind, recipient, offset) suppresses repeats.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hortus-cognitor/backend/internal/metrics"
	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/internal/notify"
	"github.com/hortus-cognitor/backend/pkg/dates"
)

// Kind names a batch.
type Kind string

const (
	KindPayment       Kind = "payment"
	KindCourseDetails Kind = "course-details"
	KindSession       Kind = "session"
)

// Kinds lists every batch in the order "all" runs them.
var Kinds = []Kind{KindPayment, KindCourseDetails, KindSession}

// Session reminder frequencies.
const (
	FrequencyFirstOnly   = "first_only"
	FrequencyAllSessions = "all_sessions"
)

var ErrUnknownKind = errors.New("unknown reminder kind")

// ParseKind validates a batch name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Config mirrors config.RemindersConfig plus the site values the emails need.
type Config struct {
	PaymentEnabled       bool
	PaymentOffsets       []int
	CourseDetailsEnabled bool
	CourseDetailsDays    int
	SessionEnabled       bool
	SessionDays          int
	SessionFrequency     string
	TestMode             bool
	TestEmail            string
	SiteURL              string
	Location             *time.Location
}

// Options change how a single run behaves.
type Options struct {
	DryRun bool // select and count, but send nothing and write nothing
	Force  bool // ignore earlier records; new records are marked forced
}

// Summary reports one batch run.
type Summary struct {
	Kind     Kind `json:"kind"`
	Sent     int  `json:"sent"`
	Skipped  int  `json:"skipped"`
	Errors   int  `json:"errors"`
	Disabled bool `json:"disabled,omitempty"`
	DryRun   bool `json:"dry_run,omitempty"`
}

// PaymentDue is a payment with the deposit in and the final amount outstanding.
type PaymentDue struct {
	PaymentID     uuid.UUID
	FullName      string
	Email         string
	CourseTitle   string
	TotalAmount   decimal.Decimal
	DepositAmount decimal.Decimal
	FinalAmount   decimal.Decimal
	FinalDeadline time.Time
}

// Attendee is a confirmed booking on a course. PaymentID is nil for bookings made without checkout.
type Attendee struct {
	BookingID uuid.UUID
	PaymentID *uuid.UUID
	FullName  string
	Email     string
}

// SessionDue is a session on the target day with the course it belongs to.
type SessionDue struct {
	Session     models.CourseSession
	CourseTitle string
	Location    string
	IsFirst     bool
}

// Store is the persistence the batches need.
type Store interface {
	PaymentsAwaitingFinal(ctx context.Context) ([]PaymentDue, error)
	CoursesStarting(ctx context.Context, day time.Time) ([]models.Course, error)
	ConfirmedAttendees(ctx context.Context, courseID uuid.UUID) ([]Attendee, error)
	Sessions(ctx context.Context, courseID uuid.UUID) ([]models.CourseSession, error)
	SessionsOn(ctx context.Context, day time.Time) ([]SessionDue, error)
	Exists(ctx context.Context, dedupKey string) (bool, error)
	// Claim inserts rec unless a non-forced record with the same key exists; false means it does.
	Claim(ctx context.Context, rec *models.ReminderRecord) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, successful bool, errMsg string) error
}

// Scheduler runs reminder batches.
type Scheduler struct {
	store   Store
	sink    notify.Sink
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewScheduler creates a scheduler. sink should deliver synchronously so failures land on the record.
func NewScheduler(store Store, sink notify.Sink, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if len(cfg.PaymentOffsets) == 0 {
		cfg.PaymentOffsets = []int{DefaultOffset}
	}
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	return &Scheduler{store: store, sink: sink, cfg: cfg, metrics: m, logger: logger, now: time.Now}
}

func (s *Scheduler) today() time.Time {
	return dates.Day(s.now(), s.cfg.Location)
}

// Run executes one batch.
func (s *Scheduler) Run(ctx context.Context, kind Kind, opts Options) (Summary, error) {
	switch kind {
	case KindPayment:
		return s.PaymentReminders(ctx, opts)
	case KindCourseDetails:
		return s.CourseDetails(ctx, opts)
	case KindSession:
		return s.SessionReminders(ctx, opts)
	}
	return Summary{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// RunAll executes every batch, stopping at the first batch that cannot load its candidates.
func (s *Scheduler) RunAll(ctx context.Context, opts Options) ([]Summary, error) {
	var out []Summary
	for _, k := range Kinds {
		sum, err := s.Run(ctx, k, opts)
		if err != nil {
			return out, err
		}
		out = append(out, sum)
	}
	return out, nil
}

// PaymentReminders nudges customers whose final payment is due in one of the configured offsets.
func (s *Scheduler) PaymentReminders(ctx context.Context, opts Options) (Summary, error) {
	sum := Summary{Kind: KindPayment, DryRun: opts.DryRun}
	if !s.cfg.PaymentEnabled {
		sum.Disabled = true
		return sum, nil
	}
	due, err := s.store.PaymentsAwaitingFinal(ctx)
	if err != nil {
		return sum, fmt.Errorf("load payments awaiting final: %w", err)
	}
	today := s.today()
	for _, p := range due {
		days := dates.DaysBetween(today, p.FinalDeadline)
		if !slices.Contains(s.cfg.PaymentOffsets, days) {
			continue
		}
		id := p.PaymentID
		rec := models.ReminderRecord{
			CoursePaymentID: &id,
			ReminderType:    models.ReminderTypePayment,
			DaysBeforeSent:  days,
			Recipient:       p.Email,
			DedupKey:        fmt.Sprintf("%s:%s:%d", models.ReminderTypePayment, id, days),
		}
		payURL := ""
		if s.cfg.SiteURL != "" {
			payURL = s.cfg.SiteURL + "/payments/" + id.String() + "/pay"
		}
		msg := notify.Message{
			Template: notify.TemplatePaymentReminder,
			Subject:  "Payment Reminder - " + p.CourseTitle,
			Data: map[string]any{
				"Name":        p.FullName,
				"AmountDue":   notify.Money(p.FinalAmount),
				"CourseTitle": p.CourseTitle,
				"Deadline":    p.FinalDeadline.Format(longDate),
				"DueIn":       dueIn(days),
				"DepositPaid": notify.Money(p.DepositAmount),
				"Total":       notify.Money(p.TotalAmount),
				"PayURL":      payURL,
			},
		}
		s.deliver(ctx, &sum, rec, msg, opts)
	}
	s.logSummary(sum)
	return sum, nil
}

// CourseDetails sends preparation details to confirmed attendees of courses starting in N days.
func (s *Scheduler) CourseDetails(ctx context.Context, opts Options) (Summary, error) {
	sum := Summary{Kind: KindCourseDetails, DryRun: opts.DryRun}
	if !s.cfg.CourseDetailsEnabled {
		sum.Disabled = true
		return sum, nil
	}
	target := dates.AddDays(s.today(), s.cfg.CourseDetailsDays)
	courses, err := s.store.CoursesStarting(ctx, target)
	if err != nil {
		return sum, fmt.Errorf("load courses starting %s: %w", target.Format(time.DateOnly), err)
	}
	for _, c := range courses {
		attendees, err := s.store.ConfirmedAttendees(ctx, c.ID)
		if err != nil {
			return sum, fmt.Errorf("load attendees for %s: %w", c.Slug, err)
		}
		if len(attendees) == 0 {
			sum.Skipped++
			continue
		}
		sessions, err := s.store.Sessions(ctx, c.ID)
		if err != nil {
			return sum, fmt.Errorf("load sessions for %s: %w", c.Slug, err)
		}
		schedule := make([]string, 0, len(sessions))
		for _, ss := range sessions {
			schedule = append(schedule, fmt.Sprintf("Session %d: %s, %s-%s", ss.SessionNumber, ss.Date.Format(longDate), ss.StartTime, ss.EndTime))
		}
		courseURL := ""
		if s.cfg.SiteURL != "" {
			courseURL = s.cfg.SiteURL + "/courses/" + c.Slug + "/"
		}
		for _, a := range attendees {
			bookingID := a.BookingID
			rec := models.ReminderRecord{
				CoursePaymentID: a.PaymentID,
				BookingID:       &bookingID,
				ReminderType:    models.ReminderTypeCourseDetails,
				DaysBeforeSent:  s.cfg.CourseDetailsDays,
				Recipient:       a.Email,
				DedupKey:        courseDetailsKey(a),
			}
			msg := notify.Message{
				Template: notify.TemplateCourseDetails,
				Subject:  "Course Details & Preparation - " + c.Title,
				Data: map[string]any{
					"Name":        a.FullName,
					"CourseTitle": c.Title,
					"StartDate":   c.StartDate.Format(longDate),
					"Location":    c.Location,
					"Sessions":    schedule,
					"CourseURL":   courseURL,
				},
			}
			s.deliver(ctx, &sum, rec, msg, opts)
		}
	}
	s.logSummary(sum)
	return sum, nil
}

// courseDetailsKey anchors on the payment, or on the booking when there was no checkout.
func courseDetailsKey(a Attendee) string {
	anchor := a.BookingID
	if a.PaymentID != nil {
		anchor = *a.PaymentID
	}
	return fmt.Sprintf("%s:%s:%s", models.ReminderTypeCourseDetails, anchor, strings.ToLower(a.Email))
}

// SessionReminders reminds confirmed attendees of sessions N days away.
func (s *Scheduler) SessionReminders(ctx context.Context, opts Options) (Summary, error) {
	sum := Summary{Kind: KindSession, DryRun: opts.DryRun}
	if !s.cfg.SessionEnabled {
		sum.Disabled = true
		return sum, nil
	}
	target := dates.AddDays(s.today(), s.cfg.SessionDays)
	sessions, err := s.store.SessionsOn(ctx, target)
	if err != nil {
		return sum, fmt.Errorf("load sessions on %s: %w", target.Format(time.DateOnly), err)
	}
	for _, sd := range sessions {
		if s.cfg.SessionFrequency != FrequencyAllSessions && !sd.IsFirst {
			sum.Skipped++
			continue
		}
		attendees, err := s.store.ConfirmedAttendees(ctx, sd.Session.CourseID)
		if err != nil {
			return sum, fmt.Errorf("load attendees for session %s: %w", sd.Session.ID, err)
		}
		if len(attendees) == 0 {
			sum.Skipped++
			continue
		}
		sessionID := sd.Session.ID
		for _, a := range attendees {
			bookingID := a.BookingID
			rec := models.ReminderRecord{
				BookingID:       &bookingID,
				CourseSessionID: &sessionID,
				ReminderType:    models.ReminderTypeSession,
				DaysBeforeSent:  s.cfg.SessionDays,
				Recipient:       a.Email,
				DedupKey: fmt.Sprintf("%s:%s:%s:%d", models.ReminderTypeSession, sessionID,
					strings.ToLower(a.Email), s.cfg.SessionDays),
			}
			msg := notify.Message{
				Template: notify.TemplateSessionReminder,
				Subject:  "Session Reminder - " + sd.CourseTitle,
				Data: map[string]any{
					"Name":          a.FullName,
					"SessionNumber": sd.Session.SessionNumber,
					"CourseTitle":   sd.CourseTitle,
					"SessionDate":   sd.Session.Date.Format(longDate),
					"StartTime":     sd.Session.StartTime,
					"EndTime":       sd.Session.EndTime,
					"Location":      sd.Location,
				},
			}
			s.deliver(ctx, &sum, rec, msg, opts)
		}
	}
	s.logSummary(sum)
	return sum, nil
}

// deliver claims the record, sends, then completes the record with the outcome.
func (s *Scheduler) deliver(ctx context.Context, sum *Summary, rec models.ReminderRecord, msg notify.Message, opts Options) {
	rec.DeliveredTo = rec.Recipient
	if s.cfg.TestMode {
		rec.DeliveredTo = s.cfg.TestEmail
	}
	rec.Forced = opts.Force
	log := s.logger.With(
		zap.String("kind", rec.ReminderType),
		zap.String("recipient", rec.Recipient),
		zap.String("delivered_to", rec.DeliveredTo),
		zap.Int("days_before", rec.DaysBeforeSent))

	if opts.DryRun {
		if !opts.Force {
			seen, err := s.store.Exists(ctx, rec.DedupKey)
			if err != nil {
				log.Error("check reminder record failed", zap.Error(err))
				s.outcome(sum, rec.ReminderType, "error")
				return
			}
			if seen {
				s.outcome(sum, rec.ReminderType, "skipped")
				return
			}
		}
		log.Info("would send reminder")
		sum.Sent++
		return
	}

	rec.ErrorMessage = models.ReminderPendingDelivery
	claimed, err := s.store.Claim(ctx, &rec)
	if err != nil {
		log.Error("claim reminder failed", zap.Error(err))
		s.outcome(sum, rec.ReminderType, "error")
		return
	}
	if !claimed {
		log.Debug("reminder already sent")
		s.outcome(sum, rec.ReminderType, "skipped")
		return
	}

	msg.To = []string{rec.DeliveredTo}
	sendErr := s.sink.Send(ctx, msg)
	errMsg := ""
	if sendErr != nil {
		errMsg = sendErr.Error()
	}
	if err := s.store.Complete(ctx, rec.ID, sendErr == nil, errMsg); err != nil {
		log.Error("complete reminder record failed", zap.Error(err))
	}
	if sendErr != nil {
		log.Error("send reminder failed", zap.Error(sendErr))
		s.outcome(sum, rec.ReminderType, "error")
		return
	}
	log.Info("reminder sent", zap.Bool("forced", rec.Forced))
	s.outcome(sum, rec.ReminderType, "sent")
}

func (s *Scheduler) outcome(sum *Summary, kind, outcome string) {
	switch outcome {
	case "sent":
		sum.Sent++
	case "skipped":
		sum.Skipped++
	default:
		sum.Errors++
	}
	if s.metrics != nil {
		s.metrics.ReminderOutcomes.WithLabelValues(kind, outcome).Inc()
	}
}

func (s *Scheduler) logSummary(sum Summary) {
	s.logger.Info("reminder batch finished",
		zap.String("kind", string(sum.Kind)),
		zap.Int("sent", sum.Sent),
		zap.Int("skipped", sum.Skipped),
		zap.Int("errors", sum.Errors),
		zap.Bool("dry_run", sum.DryRun),
		zap.Bool("test_mode", s.cfg.TestMode))
}

const longDate = "Monday, 2 January 2006"

func dueIn(days int) string {
	switch days {
	case 0:
		return "today"
	case 1:
		return "in 1 day"
	}
	return fmt.Sprintf("in %d days", days)
}
