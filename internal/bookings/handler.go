package bookings

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/internal/notify"
	"github.com/hortus-cognitor/backend/pkg/response"
)

// Store is the part of Repository the handler needs.
type Store interface {
	Create(ctx context.Context, b *models.Booking) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) (*models.Booking, error)
}

// CourseLookup finds active courses by slug.
type CourseLookup interface {
	GetBySlug(ctx context.Context, slug string) (*models.Course, error)
}

// ContactRequest is the body for POST /contact.
type ContactRequest struct {
	FullName       string `json:"full_name" binding:"required,min=2,max=100,personname,nohtml"`
	Email          string `json:"email" binding:"required,email,max=254,nohtml"`
	Phone          string `json:"phone" binding:"omitempty,max=20,phone"`
	Subject        string `json:"subject" binding:"required,max=200,nohtml"`
	Message        string `json:"message" binding:"required,max=1000,nohtml"`
	TurnstileToken string `json:"turnstile_token"`
}

// UpdateStatusRequest is the body for PATCH /admin/bookings/:id.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// Handler handles booking and contact form endpoints.
type Handler struct {
	store    Store
	courses  CourseLookup
	verifier Verifier
	sink     notify.Sink
	notifyTo []string
	logger   *zap.Logger
}

// NewHandler creates a bookings handler. notifyTo lists the staff addresses told about new bookings and messages.
func NewHandler(store Store, courses CourseLookup, verifier Verifier, sink notify.Sink, notifyTo []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, courses: courses, verifier: verifier, sink: sink, notifyTo: notifyTo, logger: logger}
}

// Book handles POST /courses/:slug/book.
func (h *Handler) Book(c *gin.Context) {
	ctx := c.Request.Context()
	course, err := h.courses.GetBySlug(ctx, c.Param("slug"))
	if err != nil || course == nil || !course.IsActive {
		response.NotFound(c, "course not found")
		return
	}

	var req CustomerDetails
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationFailed(c, FieldErrors(err))
		return
	}
	req.Normalize()

	b := &models.Booking{
		CourseID: &course.ID,
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
		Message:  req.Message,
	}
	if err := h.store.Create(ctx, b); err != nil {
		h.logger.Error("create booking failed", zap.Error(err), zap.String("course", course.Slug))
		response.Internal(c, "failed to save booking")
		return
	}

	h.notifyStaff(ctx, notify.Message{
		Template: notify.TemplateAdminBooking,
		Subject:  "New booking - " + course.Title,
		Data: map[string]any{
			"Name": b.FullName, "Email": b.Email, "Phone": b.Phone,
			"CourseTitle": course.Title, "Message": b.Message, "Paid": false,
		},
	})
	h.logger.Info("booking created", zap.String("booking_id", b.ID.String()), zap.String("course", course.Slug))
	response.Created(c, gin.H{
		"booking_id": b.ID,
		"message":    fmt.Sprintf("Thank you for booking %s! We will contact you soon.", course.Title),
	})
}

// Contact handles POST /contact.
func (h *Handler) Contact(c *gin.Context) {
	ctx := c.Request.Context()
	var req ContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationFailed(c, FieldErrors(err))
		return
	}

	ok, err := h.verifier.Verify(ctx, req.TurnstileToken, c.ClientIP())
	if err != nil {
		h.logger.Error("turnstile verification error", zap.Error(err))
	}
	if !ok {
		response.BadRequest(c, "please complete the verification challenge")
		return
	}

	subject := SanitizeSubject(req.Subject)
	b := &models.Booking{
		FullName: req.FullName,
		Email:    req.Email,
		Phone:    req.Phone,
		Message:  fmt.Sprintf("Subject: %s\n\n%s", subject, req.Message),
	}
	if err := h.store.Create(ctx, b); err != nil {
		h.logger.Error("save contact message failed", zap.Error(err))
		response.Internal(c, "failed to send message")
		return
	}

	h.notifyStaff(ctx, notify.Message{
		Template: notify.TemplateContactSubmission,
		Subject:  "New Contact Form - " + subject,
		Data: map[string]any{
			"Name": b.FullName, "Email": b.Email, "Phone": b.Phone,
			"Subject": subject, "Message": req.Message,
		},
	})
	response.Created(c, gin.H{"message": "Thank you for your message! We will get back to you within 24-48 hours."})
}

// UpdateStatus handles PATCH /admin/bookings/:id.
func (h *Handler) UpdateStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid booking id")
		return
	}
	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || !models.ValidBookingStatus(req.Status) {
		response.BadRequest(c, "status must be one of pending, confirmed, cancelled")
		return
	}
	b, err := h.store.UpdateStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "booking not found")
			return
		}
		h.logger.Error("update booking status failed", zap.Error(err), zap.String("booking_id", id.String()))
		response.Internal(c, "failed to update booking")
		return
	}
	response.OK(c, b)
}

func (h *Handler) notifyStaff(ctx context.Context, msg notify.Message) {
	if len(h.notifyTo) == 0 {
		return
	}
	msg.To = h.notifyTo
	if err := h.sink.Send(ctx, msg); err != nil {
		h.logger.Error("staff notification failed", zap.String("template", msg.Template), zap.Error(err))
	}
}
