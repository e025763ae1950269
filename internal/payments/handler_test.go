package payments

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hortus-cognitor/backend/internal/checkout"
	"github.com/hortus-cognitor/backend/internal/ledger"
	"github.com/hortus-cognitor/backend/internal/models"
)

type stubGateway struct {
	event    *checkout.Event
	session  *checkout.CompletedSession
	err      error
	requests []checkout.CheckoutRequest
}

func (g *stubGateway) CreateCheckoutSession(_ context.Context, req checkout.CheckoutRequest) (*checkout.Session, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.requests = append(g.requests, req)
	return &checkout.Session{ID: "cs_pay", URL: "https://checkout.stripe.com/c/pay/cs_pay"}, nil
}

func (g *stubGateway) RetrieveSession(context.Context, string) (*checkout.CompletedSession, error) {
	return g.session, g.err
}

func (g *stubGateway) ParseWebhook(_ []byte, signature string) (*checkout.Event, error) {
	if signature != "good" {
		return nil, checkout.ErrInvalidSignature
	}
	return g.event, g.err
}

func (g *stubGateway) Provider() string { return models.PaymentProviderStripe }

type recordingApplier struct {
	succeeded []Confirmation
	failed    []Confirmation
	err       error
}

func (a *recordingApplier) ApplySucceeded(_ context.Context, c Confirmation) (Outcome, error) {
	if a.err != nil {
		return "", a.err
	}
	a.succeeded = append(a.succeeded, c)
	return OutcomeApplied, nil
}

func (a *recordingApplier) ApplyFailed(_ context.Context, c Confirmation) {
	a.failed = append(a.failed, c)
}

type stubAdmin struct {
	views     []ledger.PaymentView
	summaries map[uuid.UUID]*PaymentSummary
}

func (s stubAdmin) ListViews(context.Context, ledger.ListFilter, time.Time) ([]ledger.PaymentView, error) {
	return s.views, nil
}

func (s stubAdmin) Records(context.Context, uuid.UUID) ([]models.PaymentRecord, error) {
	return nil, nil
}

func (s stubAdmin) Summary(_ context.Context, id uuid.UUID) (*PaymentSummary, error) {
	if sum, ok := s.summaries[id]; ok {
		return sum, nil
	}
	return nil, pgx.ErrNoRows
}

func newRouter(a Applier, g checkout.Gateway) *gin.Engine {
	return newRouterWithAdmin(a, g, stubAdmin{})
}

func newRouterWithAdmin(a Applier, g checkout.Gateway, admin AdminStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(a, g, admin, nil, nil)
	r := gin.New()
	r.POST("/webhooks/stripe", h.Webhook)
	r.GET("/payments/success", h.Success)
	r.GET("/payments/cancel", h.Cancel)
	r.GET("/payments/:id/pay", h.Pay)
	r.GET("/admin/payments", h.List)
	r.GET("/admin/payments/:id/records", h.Records)
	return r
}

func postWebhook(r *gin.Engine, body []byte, sig string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	req.Header.Set("Stripe-Signature", sig)
	r.ServeHTTP(w, req)
	return w
}

func TestWebhook_Succeeded(t *testing.T) {
	id := uuid.New()
	a := &recordingApplier{}
	g := &stubGateway{event: &checkout.Event{ID: "evt_1", Type: "payment_intent.succeeded", Kind: checkout.EventPaymentSucceeded, TxnID: "pi_1", CoursePaymentID: &id}}

	w := postWebhook(newRouter(a, g), []byte(`{}`), "good")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, a.succeeded, 1)
	assert.Equal(t, "evt_1", a.succeeded[0].EventID)
	assert.Equal(t, "pi_1", a.succeeded[0].TxnID)
	assert.Equal(t, models.PaymentProviderStripe, a.succeeded[0].Provider)
}

func TestWebhook_StatusCodes(t *testing.T) {
	ignored := &stubGateway{event: &checkout.Event{ID: "evt_2", Type: "customer.created", Kind: checkout.EventIgnored}}
	failed := &stubGateway{event: &checkout.Event{ID: "evt_3", Kind: checkout.EventPaymentFailed, TxnID: "pi_3", FailureMessage: "declined"}}
	succeeded := &stubGateway{event: &checkout.Event{ID: "evt_4", Kind: checkout.EventPaymentSucceeded, TxnID: "pi_4"}}

	a := &recordingApplier{}
	assert.Equal(t, http.StatusBadRequest, postWebhook(newRouter(a, ignored), []byte(`{}`), "bad").Code)
	assert.Equal(t, http.StatusOK, postWebhook(newRouter(a, ignored), []byte(`{}`), "good").Code)
	assert.Equal(t, http.StatusOK, postWebhook(newRouter(a, failed), []byte(`{}`), "good").Code)
	assert.Empty(t, a.succeeded)
	require.Len(t, a.failed, 1)
	assert.Equal(t, "declined", a.failed[0].FailureMessage)

	broken := &recordingApplier{err: errors.New("db down")}
	assert.Equal(t, http.StatusInternalServerError, postWebhook(newRouter(broken, succeeded), []byte(`{}`), "good").Code)
}

func TestWebhook_BodyTooLarge(t *testing.T) {
	a := &recordingApplier{}
	g := &stubGateway{event: &checkout.Event{Kind: checkout.EventPaymentSucceeded, TxnID: "pi"}}
	body := []byte(strings.Repeat("x", MaxWebhookBody+1))

	assert.Equal(t, http.StatusBadRequest, postWebhook(newRouter(a, g), body, "good").Code)
	assert.Empty(t, a.succeeded)
}

func TestSuccessRedirect(t *testing.T) {
	id := uuid.New()
	a := &recordingApplier{}
	g := &stubGateway{session: &checkout.CompletedSession{ID: "cs_1", Paid: true, PaymentIntentID: "pi_7", CoursePaymentID: &id, PaymentType: "deposit"}}
	r := newRouter(a, g)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/success?session_id=cs_1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, a.succeeded, 1)
	assert.Equal(t, "pi_7", a.succeeded[0].TxnID)
	assert.Empty(t, a.succeeded[0].EventID)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/success", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSuccessRedirect_UnpaidAndMissing(t *testing.T) {
	a := &recordingApplier{}
	unpaid := newRouter(a, &stubGateway{session: &checkout.CompletedSession{ID: "cs_2"}})
	w := httptest.NewRecorder()
	unpaid.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/success?session_id=cs_2", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"paid":false`)
	assert.Empty(t, a.succeeded)

	missing := newRouter(a, &stubGateway{err: checkout.ErrSessionNotFound})
	w = httptest.NewRecorder()
	missing.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/success?session_id=cs_x", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminList(t *testing.T) {
	r := newRouter(&recordingApplier{}, &stubGateway{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/payments?overdue=true", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"data":[]`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/payments/nope/records", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func paySummary(status string) *PaymentSummary {
	return &PaymentSummary{
		Payment: models.CoursePayment{
			Status:        status,
			TotalAmount:   decimal.RequireFromString("225.00"),
			DepositAmount: decimal.RequireFromString("112.50"),
			FinalAmount:   decimal.RequireFromString("112.50"),
		},
		Booking:     models.Booking{ID: uuid.New(), FullName: "Ada Moss", Email: "ada@example.com"},
		CourseTitle: "Soil Ecology",
		Tier:        models.TierStandard,
	}
}

func TestPay_RedirectsToCheckoutForAmountDue(t *testing.T) {
	owing, pending, settled := uuid.New(), uuid.New(), uuid.New()
	admin := stubAdmin{summaries: map[uuid.UUID]*PaymentSummary{
		owing:   paySummary(models.PaymentStatusDepositPaid),
		pending: paySummary(models.PaymentStatusPending),
		settled: paySummary(models.PaymentStatusFullyPaid),
	}}
	g := &stubGateway{}
	r := newRouterWithAdmin(&recordingApplier{}, g, admin)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/"+owing.String()+"/pay", nil))
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_pay", w.Header().Get("Location"))
	require.Len(t, g.requests, 1)
	req := g.requests[0]
	assert.Equal(t, owing, req.CoursePaymentID)
	assert.Equal(t, models.PaymentTypeFinal, req.PaymentType)
	assert.True(t, req.Amount.Equal(decimal.RequireFromString("112.50")), req.Amount.String())
	assert.Equal(t, "ada@example.com", req.CustomerEmail)
	assert.Equal(t, "Soil Ecology - Standard Tier - Regular Income", req.ProductName)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/"+pending.String()+"/pay", nil))
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, models.PaymentTypeDeposit, g.requests[1].PaymentType)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/"+settled.String()+"/pay", nil))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/"+uuid.NewString()+"/pay", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/nope/pay", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, g.requests, 2)
}

func TestPay_GatewayFailure(t *testing.T) {
	id := uuid.New()
	admin := stubAdmin{summaries: map[uuid.UUID]*PaymentSummary{id: paySummary(models.PaymentStatusDepositPaid)}}
	r := newRouterWithAdmin(&recordingApplier{}, &stubGateway{err: errors.New("stripe down")}, admin)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payments/"+id.String()+"/pay", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
