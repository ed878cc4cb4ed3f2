// Package metrics holds the Prometheus counters of the demo server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var gateResults = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "x402",
	Name:      "gate_results_total",
	Help:      "Payment gate outcomes by result type.",
}, []string{"result"})

var facilitatorCalls = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "x402",
	Name:      "facilitator_call_duration_seconds",
	Help:      "Duration of facilitator calls by operation and outcome.",
	Buckets:   prometheus.DefBuckets,
}, []string{"operation", "outcome"})

var settlements = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "x402",
	Name:      "settlements_total",
	Help:      "Settlements by network and outcome.",
}, []string{"network", "outcome"})

// ObserveGateResult counts one outcome of the payment gate
func ObserveGateResult(result string) {
	if len(result) == 0 {
		return
	}
	gateResults.With(prometheus.Labels{"result": result}).Inc()
}

// ObserveFacilitatorCall records the duration of one facilitator call
func ObserveFacilitatorCall(operation, outcome string, duration time.Duration) {
	facilitatorCalls.With(prometheus.Labels{"operation": operation, "outcome": outcome}).Observe(duration.Seconds())
}

// ObserveSettlement counts one settlement
func ObserveSettlement(network string, success bool) {
	outcome := "failed"
	if success {
		outcome = "success"
	}
	settlements.With(prometheus.Labels{"network": network, "outcome": outcome}).Inc()
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
