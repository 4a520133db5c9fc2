// Package metrics holds the prometheus collectors of a provisioning run.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// StepTotal counts executed plan steps by outcome
	StepTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keycloak_provisioner_step_total",
			Help: "Total number of executed plan steps",
		},
		[]string{"plan", "outcome"},
	)

	// StepDuration tracks the duration of plan steps
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keycloak_provisioner_step_duration_seconds",
			Help:    "Duration of plan steps in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plan"},
	)

	// KeycloakAPIRequests counts Keycloak API requests. Transport failures
	// are recorded with status "0".
	KeycloakAPIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keycloak_provisioner_api_requests_total",
			Help: "Total number of Keycloak API requests",
		},
		[]string{"method", "status"},
	)

	// ReadinessWait records how long the last readiness wait took
	ReadinessWait = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keycloak_provisioner_readiness_wait_seconds",
			Help: "Time spent waiting for Keycloak to become reachable",
		},
	)

	// LastRunSuccess is 1 when the last run finished without error
	LastRunSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keycloak_provisioner_last_run_success",
			Help: "Whether the last provisioning run succeeded",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(
		StepTotal,
		StepDuration,
		KeycloakAPIRequests,
		ReadinessWait,
		LastRunSuccess,
	)
}

// RecordStep records one executed step
func RecordStep(plan, outcome string, seconds float64) {
	StepTotal.WithLabelValues(plan, outcome).Inc()
	StepDuration.WithLabelValues(plan).Observe(seconds)
}

// RecordAPIRequest records one admin API request
func RecordAPIRequest(method string, status int) {
	KeycloakAPIRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// RecordRun records the result of a whole run
func RecordRun(success bool) {
	if success {
		LastRunSuccess.Set(1)
		return
	}
	LastRunSuccess.Set(0)
}

// WriteTextfile writes every registered metric to path in the text
// exposition format, for the node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, metrics.Registry)
}
