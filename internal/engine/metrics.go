package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the run and provider counters exposed on /metrics.
type Metrics struct {
	// RunsTotal counts runs reaching a terminal state, by status.
	RunsTotal *prometheus.CounterVec

	// ProviderRequests counts upstream completion requests.
	// Labels: provider, outcome (ok|error)
	ProviderRequests *prometheus.CounterVec

	// TokensUsed tracks accumulated token usage.
	// Labels: provider, type (prompt|completion)
	TokensUsed *prometheus.CounterVec
}

// NewMetrics registers the engine metrics with the default registry. Call
// once at startup.
func NewMetrics() *Metrics {
	return newMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewMetricsWithRegistry registers against a caller-owned registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	return newMetrics(promauto.With(reg))
}

func newMetrics(factory promauto.Factory) *Metrics {
	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_runs_total",
				Help: "Total runs reaching a terminal state, by status",
			},
			[]string{"status"},
		),
		ProviderRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_provider_requests_total",
				Help: "Total upstream provider requests by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_tokens_total",
				Help: "Total tokens consumed by provider and type",
			},
			[]string{"provider", "type"},
		),
	}
}
