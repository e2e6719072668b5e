package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the session pipeline.
// All methods are safe to call on a nil *Metrics so components can run unmetered.
type Metrics struct {
	APIRequests         *prometheus.CounterVec
	APIRequestDuration  *prometheus.HistogramVec
	TokenLookupFailures prometheus.Counter
	StorageErrors       *prometheus.CounterVec
	SessionTransitions  *prometheus.CounterVec
	SessionEpoch        prometheus.Gauge
	AuthFailures        prometheus.Counter
	WalletCacheHits     prometheus.Counter
	WalletCacheMisses   prometheus.Counter
}

// New registers and returns the collectors on reg.
// Pass prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradax_api_requests_total",
			Help: "Total number of backend API requests by client, method and outcome",
		}, []string{"client", "method", "outcome"}),
		APIRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradax_api_request_duration_seconds",
			Help:    "Latency of backend API requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"client", "method"}),
		TokenLookupFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "tradax_token_lookup_failures_total",
			Help: "Requests sent without a bearer token because the credential lookup failed (fail-open events)",
		}),
		StorageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradax_credential_storage_errors_total",
			Help: "Secure credential storage failures by operation",
		}, []string{"op"}),
		SessionTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tradax_session_transitions_total",
			Help: "Session state transitions by kind",
		}, []string{"transition"}),
		SessionEpoch: f.NewGauge(prometheus.GaugeOpts{
			Name: "tradax_session_epoch",
			Help: "Current session epoch",
		}),
		AuthFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "tradax_auth_failures_total",
			Help: "Total number of failed login attempts",
		}),
		WalletCacheHits: f.NewCounter(prometheus.CounterOpts{
			Name: "tradax_wallet_cache_hits_total",
			Help: "Balance reads served from the per-epoch cache",
		}),
		WalletCacheMisses: f.NewCounter(prometheus.CounterOpts{
			Name: "tradax_wallet_cache_misses_total",
			Help: "Balance reads that went to the wallet service",
		}),
	}
}

// ObserveRequest records one API request.
func (m *Metrics) ObserveRequest(client, method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.APIRequests.WithLabelValues(client, method, outcome).Inc()
	m.APIRequestDuration.WithLabelValues(client, method).Observe(elapsed.Seconds())
}

func (m *Metrics) IncrementTokenLookupFailures() {
	if m == nil {
		return
	}
	m.TokenLookupFailures.Inc()
}

func (m *Metrics) IncrementStorageErrors(op string) {
	if m == nil {
		return
	}
	m.StorageErrors.WithLabelValues(op).Inc()
}

// RecordTransition counts a session transition and publishes the resulting epoch.
func (m *Metrics) RecordTransition(transition string, epoch uint64) {
	if m == nil {
		return
	}
	m.SessionTransitions.WithLabelValues(transition).Inc()
	m.SessionEpoch.Set(float64(epoch))
}

func (m *Metrics) IncrementAuthFailures() {
	if m == nil {
		return
	}
	m.AuthFailures.Inc()
}

func (m *Metrics) RecordWalletCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.WalletCacheHits.Inc()
		return
	}
	m.WalletCacheMisses.Inc()
}
