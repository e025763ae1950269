package checkout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hortus-cognitor/backend/internal/bookings"
	"github.com/hortus-cognitor/backend/internal/models"
)

type memCatalog struct {
	courses map[uuid.UUID]*models.Course
	tiers   map[uuid.UUID]*models.PricingTier
	plans   map[uuid.UUID]*models.PaymentPlan
}

func (m *memCatalog) GetByID(_ context.Context, id uuid.UUID) (*models.Course, error) {
	if c, ok := m.courses[id]; ok {
		return c, nil
	}
	return nil, pgx.ErrNoRows
}

func (m *memCatalog) GetTier(_ context.Context, id uuid.UUID) (*models.PricingTier, error) {
	if t, ok := m.tiers[id]; ok {
		return t, nil
	}
	return nil, pgx.ErrNoRows
}

func (m *memCatalog) GetPlan(_ context.Context, id uuid.UUID) (*models.PaymentPlan, error) {
	if p, ok := m.plans[id]; ok {
		return p, nil
	}
	return nil, pgx.ErrNoRows
}

type memStore struct {
	bookings []*models.Booking
	payments []*models.CoursePayment
}

func (s *memStore) CreateBookingWithPayment(_ context.Context, b *models.Booking, p *models.CoursePayment) error {
	b.ID = uuid.New()
	b.Status = models.BookingStatusPending
	p.ID = uuid.New()
	p.BookingID = b.ID
	s.bookings = append(s.bookings, b)
	s.payments = append(s.payments, p)
	return nil
}

func (s *memStore) SetExternalRef(_ context.Context, p *models.CoursePayment, ref string) error {
	p.ExternalPaymentRef = ref
	return nil
}

type fakeGateway struct {
	requests []CheckoutRequest
	err      error
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*Session, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.requests = append(g.requests, req)
	return &Session{ID: "cs_test_1", URL: "https://checkout.example/cs_test_1", PaymentIntentID: "pi_test_1"}, nil
}

func (g *fakeGateway) RetrieveSession(context.Context, string) (*CompletedSession, error) {
	return nil, ErrSessionNotFound
}

func (g *fakeGateway) ParseWebhook([]byte, string) (*Event, error) { return nil, ErrInvalidSignature }

func (g *fakeGateway) Provider() string { return models.PaymentProviderStripe }

type fixture struct {
	router  *gin.Engine
	store   *memStore
	gateway *fakeGateway

	course, closed             *models.Course
	tier, otherTier            *models.PricingTier
	full, installment, retired *models.PaymentPlan
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	require.NoError(t, bookings.RegisterValidators())
	gin.SetMode(gin.TestMode)

	f := &fixture{store: &memStore{}, gateway: &fakeGateway{}}
	f.course = &models.Course{ID: uuid.New(), Title: "Soil & Spirit", IsActive: true}
	f.closed = &models.Course{ID: uuid.New(), Title: "Old", IsActive: false}
	f.tier = &models.PricingTier{ID: uuid.New(), CourseID: f.course.ID, Tier: models.TierStandard, Price: decimal.NewFromInt(225), SessionCount: 6}
	f.otherTier = &models.PricingTier{ID: uuid.New(), CourseID: uuid.New(), Tier: models.TierBasic, Price: decimal.NewFromInt(150)}
	f.full = &models.PaymentPlan{ID: uuid.New(), Kind: models.PlanFull, DepositPercentage: decimal.NewFromInt(100), IsActive: true}
	f.installment = &models.PaymentPlan{ID: uuid.New(), Kind: models.PlanInstallment, DepositPercentage: decimal.NewFromInt(50), IsActive: true}
	f.retired = &models.PaymentPlan{ID: uuid.New(), Kind: models.PlanFull, DepositPercentage: decimal.NewFromInt(100)}

	catalog := &memCatalog{
		courses: map[uuid.UUID]*models.Course{f.course.ID: f.course, f.closed.ID: f.closed},
		tiers:   map[uuid.UUID]*models.PricingTier{f.tier.ID: f.tier, f.otherTier.ID: f.otherTier},
		plans:   map[uuid.UUID]*models.PaymentPlan{f.full.ID: f.full, f.installment.ID: f.installment, f.retired.ID: f.retired},
	}
	h := NewHandler(catalog, f.store, f.gateway, nil)
	f.router = gin.New()
	f.router.POST("/api/checkout-sessions", h.CreateSession)
	return f
}

func (f *fixture) post(courseID, tierID, planID uuid.UUID, details string) *httptest.ResponseRecorder {
	body := fmt.Sprintf(`{"course_id":%q,"pricing_tier_id":%q,"payment_plan_id":%q,"customer_details":%s}`,
		courseID, tierID, planID, details)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/checkout-sessions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	f.router.ServeHTTP(w, req)
	return w
}

const validDetails = `{"full_name":"Ada Lovelace","email":"ada@example.com"}`

func TestCreateSession_Installment(t *testing.T) {
	f := newFixture(t)

	w := f.post(f.course.ID, f.tier.ID, f.installment.ID, validDetails)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Data struct {
			CheckoutURL string `json:"checkout_url"`
			SessionID   string `json:"session_id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "https://checkout.example/cs_test_1", body.Data.CheckoutURL)
	assert.Equal(t, "cs_test_1", body.Data.SessionID)

	require.Len(t, f.store.payments, 1)
	p := f.store.payments[0]
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.True(t, p.DepositAmount.Equal(decimal.RequireFromString("112.50")))
	assert.True(t, p.FinalAmount.Equal(decimal.RequireFromString("112.50")))
	assert.Equal(t, "pi_test_1", p.ExternalPaymentRef)

	require.Len(t, f.gateway.requests, 1)
	req := f.gateway.requests[0]
	assert.Equal(t, models.PaymentTypeDeposit, req.PaymentType)
	assert.True(t, req.Amount.Equal(decimal.RequireFromString("112.50")))
	assert.Equal(t, p.ID, req.CoursePaymentID)
	assert.Equal(t, "ada@example.com", req.CustomerEmail)
	assert.Contains(t, req.ProductName, "Soil & Spirit")
}

func TestCreateSession_FullPlanChargesTotal(t *testing.T) {
	f := newFixture(t)

	w := f.post(f.course.ID, f.tier.ID, f.full.ID, validDetails)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, f.gateway.requests, 1)
	assert.Equal(t, models.PaymentTypeFull, f.gateway.requests[0].PaymentType)
	assert.True(t, f.gateway.requests[0].Amount.Equal(decimal.NewFromInt(225)))
	assert.True(t, f.store.payments[0].FinalAmount.IsZero())
}

func TestCreateSession_ValidationErrors(t *testing.T) {
	f := newFixture(t)

	w := f.post(f.course.ID, f.tier.ID, f.full.ID, `{"full_name":"<script>","email":"nope","phone":"12"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var body struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Fields, "full_name")
	assert.Contains(t, body.Fields, "email")
	assert.Contains(t, body.Fields, "phone")
	assert.Empty(t, f.store.bookings)
	assert.Empty(t, f.gateway.requests)
}

func TestCreateSession_RejectsBadSelection(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, f.post(uuid.New(), f.tier.ID, f.full.ID, validDetails).Code)
	assert.Equal(t, http.StatusNotFound, f.post(f.course.ID, uuid.New(), f.full.ID, validDetails).Code)
	assert.Equal(t, http.StatusNotFound, f.post(f.course.ID, f.tier.ID, uuid.New(), validDetails).Code)
	assert.Equal(t, http.StatusBadRequest, f.post(f.closed.ID, f.tier.ID, f.full.ID, validDetails).Code)
	assert.Equal(t, http.StatusBadRequest, f.post(f.course.ID, f.otherTier.ID, f.full.ID, validDetails).Code)
	assert.Equal(t, http.StatusBadRequest, f.post(f.course.ID, f.tier.ID, f.retired.ID, validDetails).Code)
	assert.Empty(t, f.store.bookings)
}

func TestCreateSession_GatewayFailure(t *testing.T) {
	f := newFixture(t)
	f.gateway.err = errors.New("connection refused")

	w := f.post(f.course.ID, f.tier.ID, f.full.ID, validDetails)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	require.Len(t, f.store.payments, 1, "the pending payment stays for a retry")
	assert.Empty(t, f.store.payments[0].ExternalPaymentRef)
}

func TestProductDescription(t *testing.T) {
	assert.Equal(t, "Full payment", productDescription(models.PaymentTypeFull, ""))
	assert.Equal(t, "Deposit payment - Six sessions", productDescription(models.PaymentTypeDeposit, "Six sessions"))
	long := string(bytes.Repeat([]byte("a"), 120))
	assert.Len(t, productDescription(models.PaymentTypeFull, long), len("Full payment - ")+103)
}
