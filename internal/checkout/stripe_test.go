package checkout

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

func sign(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func testGateway() *StripeGateway {
	return NewStripeGateway(StripeConfig{SecretKey: "sk_test", WebhookSecret: testWebhookSecret, SiteURL: "https://example.com/"}, nil)
}

func TestParseWebhook_PaymentIntentSucceeded(t *testing.T) {
	pid := uuid.New()
	payload := []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded",
		"data":{"object":{"id":"pi_123","object":"payment_intent","amount":11250,"amount_received":11250,"currency":"gbp",
		"customer":"cus_9","metadata":{"course_payment_id":%q,"payment_type":"deposit"}}}}`, pid))

	ev, err := testGateway().ParseWebhook(payload, sign(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, EventPaymentSucceeded, ev.Kind)
	assert.Equal(t, "pi_123", ev.TxnID)
	require.NotNil(t, ev.CoursePaymentID)
	assert.Equal(t, pid, *ev.CoursePaymentID)
	assert.Equal(t, "deposit", ev.PaymentType)
	assert.True(t, ev.Amount.Equal(decimal.RequireFromString("112.50")))
	assert.Equal(t, "gbp", ev.Currency)
	assert.Equal(t, "cus_9", ev.CustomerID)
}

func TestParseWebhook_PaymentFailed(t *testing.T) {
	payload := []byte(`{"id":"evt_2","object":"event","type":"payment_intent.payment_failed",
		"data":{"object":{"id":"pi_9","object":"payment_intent","amount":100,"currency":"gbp",
		"last_payment_error":{"message":"Your card was declined."}}}}`)

	ev, err := testGateway().ParseWebhook(payload, sign(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, EventPaymentFailed, ev.Kind)
	assert.Equal(t, "Your card was declined.", ev.FailureMessage)
	assert.Nil(t, ev.CoursePaymentID)
}

func TestParseWebhook_CheckoutSessionCompleted(t *testing.T) {
	pid := uuid.New()
	payload := []byte(fmt.Sprintf(`{"id":"evt_3","object":"event","type":"checkout.session.completed",
		"data":{"object":{"id":"cs_1","object":"checkout.session","payment_status":"paid","payment_intent":"pi_77",
		"amount_total":22500,"currency":"gbp","metadata":{"course_payment_id":%q,"payment_type":"full"}}}}`, pid))

	ev, err := testGateway().ParseWebhook(payload, sign(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, EventPaymentSucceeded, ev.Kind)
	assert.Equal(t, "pi_77", ev.TxnID)
	assert.Equal(t, "full", ev.PaymentType)
	assert.True(t, ev.Amount.Equal(decimal.NewFromInt(225)))
}

func TestParseWebhook_UnpaidSessionIgnored(t *testing.T) {
	payload := []byte(`{"id":"evt_4","object":"event","type":"checkout.session.completed",
		"data":{"object":{"id":"cs_2","object":"checkout.session","payment_status":"unpaid"}}}`)

	ev, err := testGateway().ParseWebhook(payload, sign(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, ev.Kind)
}

func TestParseWebhook_UnknownTypeIgnored(t *testing.T) {
	payload := []byte(`{"id":"evt_5","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)

	ev, err := testGateway().ParseWebhook(payload, sign(payload, testWebhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, ev.Kind)
	assert.Equal(t, "customer.created", ev.Type)
}

func TestParseWebhook_BadSignature(t *testing.T) {
	payload := []byte(`{"id":"evt_6","object":"event","type":"payment_intent.succeeded","data":{"object":{}}}`)
	g := testGateway()

	_, err := g.ParseWebhook(payload, sign(payload, "whsec_other", time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = g.ParseWebhook(payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = g.ParseWebhook(payload, sign(payload, testWebhookSecret, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, ErrInvalidSignature, "stale timestamps are rejected")
}
