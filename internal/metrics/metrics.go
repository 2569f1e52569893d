// Package metrics holds the Prometheus collectors of the ladder service.
package metrics

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BookTicksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ladder", Name: "book_ticks_total", Help: "Order book messages applied, by exchange",
	}, []string{"exchange"})

	MergesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ladder", Name: "merges_total", Help: "Merge passes by outcome",
	}, []string{"outcome"})

	MergeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ladder", Name: "merge_duration_seconds", Help: "Merge, overlay and render latency",
		Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
	})

	RegenerationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ladder", Name: "regenerations_total", Help: "Window rebuilds by reason",
	}, []string{"reason"})

	CommandsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ladder", Name: "commands_total", Help: "Routed commands by scope and action",
	}, []string{"scope", "action"})

	OrdersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ladder", Name: "orders_total", Help: "Order actions by action and result",
	}, []string{"action", "result"})

	OrderSubmitLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ladder", Name: "order_submit_seconds", Help: "Order submission latency",
		Buckets: prometheus.DefBuckets,
	})

	WSReconnectsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ladder", Name: "ws_reconnects_total", Help: "Terminal WebSocket reconnects",
	})

	ActiveInstances = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ladder", Name: "active_instances", Help: "Open widget instances",
	})

	FeedSubscriptions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ladder", Name: "feed_subscriptions", Help: "Upstream feed subscriptions by stream",
	}, []string{"stream"})

	AuditArchivedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ladder", Name: "audit_archived_total", Help: "Audit rows moved to object storage",
	})
)

// Init registers every collector on a fresh registry.
func Init(logger *slog.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	toRegister := []prometheus.Collector{
		BookTicksTotal, MergesTotal, MergeDuration, RegenerationsTotal,
		CommandsTotal, OrdersTotal, OrderSubmitLatency, WSReconnectsTotal,
		ActiveInstances, FeedSubscriptions, AuditArchivedTotal,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		if err := reg.Register(c); err != nil {
			logger.Warn("metric registration failed", slog.String("error", err.Error()))
		}
	}
	logger.Info("prometheus metrics initialized", slog.Int("collectors", len(toRegister)))
	return reg
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
