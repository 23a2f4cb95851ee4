// Package metrics は Prometheus のメトリクスを定義します。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sessionbox"

// Metrics はアプリケーションのメトリクスをまとめたものです。
// nil の *Metrics に対するメソッド呼び出しは何もしません。
type Metrics struct {
	registry      *prometheus.Registry
	cacheRequests *prometheus.CounterVec
	authEvents    *prometheus.CounterVec
	sessions      *prometheus.CounterVec
}

// New は専用のレジストリにメトリクスを登録します。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		cacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Data requests by where the payload was served from.",
		}, []string{"source"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Registration and login attempts by result.",
		}, []string{"event", "result"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Session lifecycle operations.",
		}, []string{"op"}),
	}
	reg.MustRegister(
		m.cacheRequests,
		m.authEvents,
		m.sessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler は /metrics 用のハンドラーを返します。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CacheServed(source string) {
	if m == nil {
		return
	}
	m.cacheRequests.WithLabelValues(source).Inc()
}

func (m *Metrics) AuthEvent(event, result string) {
	if m == nil {
		return
	}
	m.authEvents.WithLabelValues(event, result).Inc()
}

func (m *Metrics) SessionOp(op string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(op).Inc()
}
