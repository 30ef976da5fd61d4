// Package metrics exposes the Prometheus collectors for the routing
// pipeline on a private registry, served at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	reg *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestLatency   *prometheus.HistogramVec
	EscalationsTotal *prometheus.CounterVec
	SavingsUSD       *prometheus.CounterVec
	CostUSD          *prometheus.CounterVec
	TokensTotal      *prometheus.CounterVec
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawroute_requests_total",
			Help: "Total requests handled, by tier, final model, and status",
		}, []string{"tier", "model", "status"}),
		RequestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clawroute_request_latency_ms",
			Help:    "End-to-end request latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"tier", "model"}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawroute_escalations_total",
			Help: "Requests that escalated past their routed model",
		}, []string{"tier"}),
		SavingsUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawroute_savings_usd_total",
			Help: "Estimated USD saved versus the originally requested model",
		}, []string{"tier"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawroute_cost_usd_total",
			Help: "Estimated USD spent on upstream calls",
		}, []string{"model"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clawroute_tokens_total",
			Help: "Tokens processed, by direction",
		}, []string{"model", "direction"}),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestLatency, m.EscalationsTotal,
		m.SavingsUSD, m.CostUSD, m.TokensTotal)
	return m
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
