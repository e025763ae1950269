package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersAreExported(t *testing.T) {
	m := New()
	m.WebhookOutcomes.WithLabelValues("applied").Inc()
	m.RateLimited.WithLabelValues("booking").Add(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookOutcomes.WithLabelValues("applied")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RateLimited.WithLabelValues("booking")))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "courses_payment_webhook_events_total"))
}

func TestNew_IndependentRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
