package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hortus-cognitor/backend/internal/bookings"
	"github.com/hortus-cognitor/backend/internal/ledger"
	"github.com/hortus-cognitor/backend/internal/models"
	"github.com/hortus-cognitor/backend/pkg/response"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrCourseInactive = errors.New("course is not open for booking")
	ErrTierMismatch   = errors.New("pricing tier does not belong to course")
	ErrPlanInactive   = errors.New("payment plan is not available")
)

// Catalog looks up what a customer selected.
type Catalog interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Course, error)
	GetTier(ctx context.Context, id uuid.UUID) (*models.PricingTier, error)
	GetPlan(ctx context.Context, id uuid.UUID) (*models.PaymentPlan, error)
}

// Store persists the booking and payment.
type Store interface {
	CreateBookingWithPayment(ctx context.Context, b *models.Booking, p *models.CoursePayment) error
	SetExternalRef(ctx context.Context, p *models.CoursePayment, ref string) error
}

// CreateSessionRequest is the body for POST /api/checkout-sessions.
type CreateSessionRequest struct {
	CourseID        uuid.UUID                `json:"course_id" binding:"required"`
	PricingTierID   uuid.UUID                `json:"pricing_tier_id" binding:"required"`
	PaymentPlanID   uuid.UUID                `json:"payment_plan_id" binding:"required"`
	CustomerDetails bookings.CustomerDetails `json:"customer_details"`
}

// Handler opens checkout sessions.
type Handler struct {
	catalog Catalog
	store   Store
	gateway Gateway
	logger  *zap.Logger
}

// NewHandler creates a checkout handler.
func NewHandler(catalog Catalog, store Store, gateway Gateway, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{catalog: catalog, store: store, gateway: gateway, logger: logger}
}

// selection is a validated course, tier and plan.
type selection struct {
	course *models.Course
	tier   *models.PricingTier
	plan   *models.PaymentPlan
}

func (h *Handler) resolve(ctx context.Context, req CreateSessionRequest) (*selection, error) {
	course, err := h.catalog.GetByID(ctx, req.CourseID)
	if err != nil {
		return nil, lookupErr("course", err)
	}
	if !course.IsActive {
		return nil, ErrCourseInactive
	}
	tier, err := h.catalog.GetTier(ctx, req.PricingTierID)
	if err != nil {
		return nil, lookupErr("pricing tier", err)
	}
	if tier.CourseID != course.ID {
		return nil, ErrTierMismatch
	}
	plan, err := h.catalog.GetPlan(ctx, req.PaymentPlanID)
	if err != nil {
		return nil, lookupErr("payment plan", err)
	}
	if !plan.IsActive {
		return nil, ErrPlanInactive
	}
	return &selection{course: course, tier: tier, plan: plan}, nil
}

func lookupErr(what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return fmt.Errorf("load %s: %w", what, err)
}

// CreateSession handles POST /api/checkout-sessions.
func (h *Handler) CreateSession(c *gin.Context) {
	ctx := c.Request.Context()
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationFailed(c, bookings.FieldErrors(err))
		return
	}
	req.CustomerDetails.Normalize()

	sel, err := h.resolve(ctx, req)
	switch {
	case errors.Is(err, ErrNotFound):
		response.NotFound(c, err.Error())
		return
	case errors.Is(err, ErrCourseInactive), errors.Is(err, ErrTierMismatch), errors.Is(err, ErrPlanInactive):
		response.BadRequest(c, err.Error())
		return
	case err != nil:
		h.logger.Error("resolve checkout selection failed", zap.Error(err))
		response.Internal(c, "failed to start checkout")
		return
	}

	payment, err := ledger.Create(*sel.tier, *sel.plan)
	if err != nil {
		h.logger.Error("misconfigured pricing", zap.Error(err), zap.String("tier_id", sel.tier.ID.String()), zap.String("plan_id", sel.plan.ID.String()))
		response.BadRequest(c, "selected pricing is not available")
		return
	}
	d := req.CustomerDetails
	booking := &models.Booking{
		CourseID: &sel.course.ID,
		FullName: d.FullName,
		Email:    d.Email,
		Phone:    d.Phone,
		Message:  d.Message,
	}
	if err := h.store.CreateBookingWithPayment(ctx, booking, payment); err != nil {
		h.logger.Error("create booking with payment failed", zap.Error(err))
		response.Internal(c, "failed to start checkout")
		return
	}

	paymentType := ledger.PaymentTypeFor(*sel.plan)
	session, err := h.gateway.CreateCheckoutSession(ctx, CheckoutRequest{
		CoursePaymentID: payment.ID,
		BookingID:       booking.ID,
		PaymentType:     paymentType,
		Amount:          ledger.NextAmountDue(payment),
		ProductName:     fmt.Sprintf("%s - %s", sel.course.Title, models.TierLabel(sel.tier.Tier)),
		Description:     productDescription(paymentType, sel.tier.Description),
		CustomerEmail:   d.Email,
	})
	if err != nil {
		h.logger.Error("create checkout session failed", zap.Error(err), zap.String("course_payment_id", payment.ID.String()))
		response.Internal(c, "payment provider unavailable, please try again")
		return
	}
	if session.PaymentIntentID != "" {
		if err := h.store.SetExternalRef(ctx, payment, session.PaymentIntentID); err != nil {
			h.logger.Warn("store payment reference failed", zap.Error(err), zap.String("course_payment_id", payment.ID.String()))
		}
	}

	h.logger.Info("checkout started",
		zap.String("course_payment_id", payment.ID.String()),
		zap.String("payment_type", paymentType),
		zap.String("amount", ledger.NextAmountDue(payment).StringFixed(2)))
	response.OK(c, gin.H{"checkout_url": session.URL, "session_id": session.ID})
}

func productDescription(paymentType, tierDescription string) string {
	label := "Full"
	if paymentType == models.PaymentTypeDeposit {
		label = "Deposit"
	}
	if r := []rune(tierDescription); len(r) > 100 {
		tierDescription = string(r[:100]) + "..."
	}
	if tierDescription == "" {
		return label + " payment"
	}
	return label + " payment - " + tierDescription
}
