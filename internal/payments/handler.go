package payments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hortus-cognitor/backend/internal/checkout"
	"github.com/hortus-cognitor/backend/internal/ledger"
	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/pkg/database"
	"github.com/hortus-cognitor/backend/pkg/response"
)

// MaxWebhookBody caps the webhook request body.
const MaxWebhookBody = 64 << 10

// Applier is the part of Processor the handler drives.
type Applier interface {
	ApplySucceeded(ctx context.Context, c Confirmation) (Outcome, error)
	ApplyFailed(ctx context.Context, c Confirmation)
}

// AdminStore reads payments for staff and for the pay link.
type AdminStore interface {
	ListViews(ctx context.Context, f ledger.ListFilter, today time.Time) ([]ledger.PaymentView, error)
	Records(ctx context.Context, paymentID uuid.UUID) ([]models.PaymentRecord, error)
	Summary(ctx context.Context, paymentID uuid.UUID) (*PaymentSummary, error)
}

// Handler serves the provider webhook, the checkout redirects and the admin payment list.
type Handler struct {
	applier  Applier
	gateway  checkout.Gateway
	admin    AdminStore
	location *time.Location
	logger   *zap.Logger
}

// NewHandler creates a payments handler. loc decides which calendar day counts as today for overdue flags.
func NewHandler(applier Applier, gateway checkout.Gateway, admin AdminStore, loc *time.Location, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{applier: applier, gateway: gateway, admin: admin, location: loc, logger: logger}
}

// Webhook handles POST /webhooks/stripe.
func (h *Handler) Webhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBody)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Warn("read webhook body failed", zap.Error(err))
		response.BadRequest(c, "unreadable request body")
		return
	}

	ev, err := h.gateway.ParseWebhook(payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, checkout.ErrInvalidSignature) {
			h.logger.Warn("webhook rejected", zap.Error(err))
			response.BadRequest(c, "invalid signature")
			return
		}
		h.logger.Error("decode webhook failed", zap.Error(err))
		response.BadRequest(c, "invalid payload")
		return
	}

	conf := Confirmation{
		Provider:        h.gateway.Provider(),
		EventID:         ev.ID,
		EventType:       ev.Type,
		Payload:         ev.Payload,
		TxnID:           ev.TxnID,
		CoursePaymentID: ev.CoursePaymentID,
		PaymentType:     ev.PaymentType,
		Amount:          ev.Amount,
		Currency:        ev.Currency,
		CustomerRef:     ev.CustomerID,
		FailureMessage:  ev.FailureMessage,
	}
	switch ev.Kind {
	case checkout.EventPaymentSucceeded:
		if _, err := h.applier.ApplySucceeded(c.Request.Context(), conf); err != nil {
			response.Internal(c, "failed to process event")
			return
		}
	case checkout.EventPaymentFailed:
		h.applier.ApplyFailed(c.Request.Context(), conf)
	default:
		h.logger.Debug("webhook event ignored", zap.String("type", ev.Type), zap.String("event_id", ev.ID))
	}
	response.OK(c, gin.H{"received": true})
}

// Success handles GET /payments/success?session_id=...
func (h *Handler) Success(c *gin.Context) {
	id := c.Query("session_id")
	if id == "" {
		response.BadRequest(c, "session_id is required")
		return
	}
	s, err := h.gateway.RetrieveSession(c.Request.Context(), id)
	if errors.Is(err, checkout.ErrSessionNotFound) {
		response.NotFound(c, "checkout session not found")
		return
	}
	if err != nil {
		h.logger.Error("retrieve checkout session failed", zap.String("session_id", id), zap.Error(err))
		response.Internal(c, "could not verify payment")
		return
	}
	if !s.Paid || s.PaymentIntentID == "" {
		response.OK(c, gin.H{"paid": false, "message": "Your payment has not completed yet."})
		return
	}
	outcome, err := h.applier.ApplySucceeded(c.Request.Context(), Confirmation{
		Provider:        h.gateway.Provider(),
		TxnID:           s.PaymentIntentID,
		CoursePaymentID: s.CoursePaymentID,
		PaymentType:     s.PaymentType,
		Amount:          s.Amount,
		Currency:        s.Currency,
		CustomerRef:     s.CustomerID,
	})
	if err != nil {
		response.Internal(c, "could not record payment")
		return
	}
	response.OK(c, gin.H{
		"paid":    true,
		"outcome": outcome,
		"message": "Thank you! Your payment was successful. A confirmation email is on its way.",
	})
}

// Cancel handles GET /payments/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	response.OK(c, gin.H{"paid": false, "message": "Payment was cancelled. You can try again at any time."})
}

// Pay handles GET /payments/:id/pay: opens a checkout session for whatever is due next and
// redirects to it. Payment reminder emails link here.
func (h *Handler) Pay(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	ctx := c.Request.Context()
	s, err := h.admin.Summary(ctx, id)
	if database.IsNoRows(err) {
		response.NotFound(c, "payment not found")
		return
	}
	if err != nil {
		h.logger.Error("load payment failed", zap.String("course_payment_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to load payment")
		return
	}
	due := ledger.NextAmountDue(&s.Payment)
	if !due.IsPositive() {
		response.Conflict(c, "nothing is due on this payment")
		return
	}
	paymentType := paymentTypeFor(&s.Payment)
	session, err := h.gateway.CreateCheckoutSession(ctx, checkout.CheckoutRequest{
		CoursePaymentID: id,
		BookingID:       s.Booking.ID,
		PaymentType:     paymentType,
		Amount:          due,
		ProductName:     fmt.Sprintf("%s - %s", s.CourseTitle, models.TierLabel(s.Tier)),
		Description:     payLabel(paymentType),
		CustomerEmail:   s.Booking.Email,
	})
	if err != nil {
		h.logger.Error("create checkout session failed", zap.String("course_payment_id", id.String()), zap.Error(err))
		response.Internal(c, "payment provider unavailable, please try again")
		return
	}
	h.logger.Info("pay link checkout started",
		zap.String("course_payment_id", id.String()),
		zap.String("payment_type", paymentType),
		zap.String("amount", due.StringFixed(2)))
	c.Redirect(http.StatusSeeOther, session.URL)
}

func payLabel(paymentType string) string {
	switch paymentType {
	case models.PaymentTypeDeposit:
		return "Deposit payment"
	case models.PaymentTypeFinal:
		return "Final payment"
	}
	return "Full payment"
}

// List handles GET /admin/payments?status=...&overdue=true.
func (h *Handler) List(c *gin.Context) {
	f := ledger.ListFilter{Status: c.Query("status"), OverdueOnly: c.Query("overdue") == "true"}
	list, err := h.admin.ListViews(c.Request.Context(), f, time.Now().In(h.location))
	if err != nil {
		h.logger.Error("list payments failed", zap.Error(err))
		response.Internal(c, "failed to list payments")
		return
	}
	if list == nil {
		list = []ledger.PaymentView{}
	}
	response.OK(c, list)
}

// Records handles GET /admin/payments/:id/records.
func (h *Handler) Records(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payment id")
		return
	}
	list, err := h.admin.Records(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("list payment records failed", zap.String("course_payment_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to list payment records")
		return
	}
	if list == nil {
		list = []models.PaymentRecord{}
	}
	response.OK(c, list)
}
