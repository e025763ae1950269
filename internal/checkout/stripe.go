package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/hortus-cognitor/backend/internal/ledger"
	"github.com/hortus-cognitor/backend/internal/models"
)

// StripeConfig holds what the Stripe gateway needs.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	SiteURL       string
}

// StripeGateway implements Gateway with Stripe Checkout.
type StripeGateway struct {
	api    *client.API
	cfg    StripeConfig
	logger *zap.Logger
}

// NewStripeGateway creates a gateway with its own API client; no package-level key is set.
func NewStripeGateway(cfg StripeConfig, logger *zap.Logger) *StripeGateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Currency == "" {
		cfg.Currency = "gbp"
	}
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	return &StripeGateway{api: client.New(cfg.SecretKey, nil), cfg: cfg, logger: logger}
}

// Provider implements Gateway.
func (g *StripeGateway) Provider() string { return models.PaymentProviderStripe }

// CreateCheckoutSession implements Gateway.
func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error) {
	meta := map[string]string{
		MetaCoursePaymentID: req.CoursePaymentID.String(),
		MetaPaymentType:     req.PaymentType,
		MetaBookingID:       req.BookingID.String(),
	}
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(g.cfg.Currency),
				UnitAmount: stripe.Int64(ledger.ToMinorUnits(req.Amount)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String(req.ProductName),
					Description: stripe.String(req.Description),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: meta,
		},
		ClientReferenceID: stripe.String(req.CoursePaymentID.String()),
		SuccessURL:        stripe.String(g.cfg.SiteURL + "/payments/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(g.cfg.SiteURL + "/payments/cancel"),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for k, v := range meta {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe create checkout session: %w", err)
	}
	out := &Session{ID: s.ID, URL: s.URL}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	g.logger.Info("checkout session created", zap.String("session_id", s.ID), zap.String("course_payment_id", req.CoursePaymentID.String()))
	return out, nil
}

// RetrieveSession implements Gateway.
func (g *StripeGateway) RetrieveSession(ctx context.Context, id string) (*CompletedSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.api.CheckoutSessions.Get(id, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == 404 {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("stripe get checkout session: %w", err)
	}
	return completedFromSession(s), nil
}

// ParseWebhook implements Gateway.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decodeEvent(ev, payload)
}

func completedFromSession(s *stripe.CheckoutSession) *CompletedSession {
	out := &CompletedSession{
		ID:              s.ID,
		Paid:            s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		CoursePaymentID: parsePaymentID(s.Metadata),
		PaymentType:     s.Metadata[MetaPaymentType],
		Amount:          ledger.FromMinorUnits(s.AmountTotal),
		Currency:        string(s.Currency),
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	return out
}

func decodeEvent(ev stripe.Event, payload []byte) (*Event, error) {
	out := &Event{ID: ev.ID, Type: string(ev.Type), Kind: EventIgnored, Payload: payload}
	if ev.Data == nil {
		return out, nil
	}
	switch ev.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		out.TxnID = pi.ID
		out.CoursePaymentID = parsePaymentID(pi.Metadata)
		out.PaymentType = pi.Metadata[MetaPaymentType]
		out.Currency = string(pi.Currency)
		out.Amount = ledger.FromMinorUnits(pi.AmountReceived)
		if pi.AmountReceived == 0 {
			out.Amount = ledger.FromMinorUnits(pi.Amount)
		}
		if pi.Customer != nil {
			out.CustomerID = pi.Customer.ID
		}
		out.Kind = EventPaymentSucceeded
		if ev.Type == "payment_intent.payment_failed" {
			out.Kind = EventPaymentFailed
			out.FailureMessage = "unknown error"
			if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
				out.FailureMessage = pi.LastPaymentError.Msg
			}
		}
	case "checkout.session.completed", "checkout.session.async_payment_succeeded", "checkout.session.async_payment_failed":
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		cs := completedFromSession(&s)
		out.TxnID = cs.PaymentIntentID
		out.CoursePaymentID = cs.CoursePaymentID
		out.PaymentType = cs.PaymentType
		out.Amount = cs.Amount
		out.Currency = cs.Currency
		out.CustomerID = cs.CustomerID
		switch {
		case ev.Type == "checkout.session.async_payment_failed":
			out.Kind = EventPaymentFailed
			out.FailureMessage = "asynchronous payment failed"
		case cs.Paid && cs.PaymentIntentID != "":
			out.Kind = EventPaymentSucceeded
		}
	}
	return out, nil
}
