package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveGateResult(t *testing.T) {
	before := testutil.ToFloat64(gateResults.With(prometheus.Labels{"result": "payment-required"}))
	ObserveGateResult("payment-required")
	ObserveGateResult("")
	assert.Equal(t, before+1, testutil.ToFloat64(gateResults.With(prometheus.Labels{"result": "payment-required"})))
}

func TestObserveSettlement(t *testing.T) {
	ok := settlements.With(prometheus.Labels{"network": "eip155:84532", "outcome": "success"})
	failed := settlements.With(prometheus.Labels{"network": "eip155:84532", "outcome": "failed"})
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	ObserveSettlement("eip155:84532", true)
	ObserveSettlement("eip155:84532", false)
	ObserveSettlement("eip155:84532", false)

	assert.Equal(t, okBefore+1, testutil.ToFloat64(ok))
	assert.Equal(t, failedBefore+2, testutil.ToFloat64(failed))
}

func TestHandler(t *testing.T) {
	ObserveFacilitatorCall("verify", "ok", 20*time.Millisecond)

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `x402_facilitator_call_duration_seconds_count{operation="verify",outcome="ok"}`)
}
