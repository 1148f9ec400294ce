// Package metrics owns the prometheus collectors exported by the status server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "perpdesk"

type Registry struct {
	registry *prometheus.Registry

	FeedTicks          *prometheus.CounterVec
	FeedReconnects     prometheus.Counter
	APIRequests        *prometheus.CounterVec
	SimulatedPositions *prometheus.CounterVec
	Settlements        *prometheus.CounterVec
	Balance            prometheus.Gauge
}

func New() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		FeedTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_ticks_total",
			Help:      "Ticker updates received from the price stream",
		}, []string{"symbol"}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_reconnects_total",
			Help:      "Reconnect attempts made by the price feed",
		}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Requests sent to the platform API",
		}, []string{"endpoint", "code"}),
		SimulatedPositions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "simulated_positions_total",
			Help:      "Simulated positions opened",
		}, []string{"kind"}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Auto-close settlements sent, by result",
		}, []string{"result"}),
		Balance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance",
			Help:      "Locally known user balance",
		}),
	}
	r.registry.MustRegister(r.FeedTicks, r.FeedReconnects, r.APIRequests, r.SimulatedPositions, r.Settlements, r.Balance)
	return r
}

// Handler serves the registry in the prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
