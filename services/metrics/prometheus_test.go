package metricsvc

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheus(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.FeeSchedulePosted(3)
	m.FeeSchedulePosted(2)
	m.PaymentApplied()
	m.SubscriptionChanged("approved")
	m.EntitlementChecked(true)
	m.EntitlementChecked(false)
	m.EntitlementChecked(false)
	m.OperationFailed("post_schedule")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.schedulesPosted))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.ledgersCreated))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.paymentsApplied))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.subscriptions.WithLabelValues("approved")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.entitlementCheck.WithLabelValues("false")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.failures.WithLabelValues("post_schedule")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "masomo_billing_payments_applied_total 1"))
}

func TestNew_registriesAreIndependent(t *testing.T) {
	_, err := New()
	require.NoError(t, err)
	_, err = New()
	assert.NoError(t, err)
}
