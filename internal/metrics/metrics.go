package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector hyphen-sync 指标集合
// 使用独立 registry，避免测试中重复注册 panic。
type Collector struct {
	registry *prometheus.Registry

	CacheLookupsTotal    *prometheus.CounterVec // result: valid | history | miss
	DedupSharedTotal     prometheus.Counter
	ProviderFetchTotal   *prometheus.CounterVec // outcome: ok | partial | failed | error
	ProviderFetchSeconds prometheus.Histogram
	PatchFetchTotal      *prometheus.CounterVec // target: medication | checkupOverview
	SnapshotsTotal       *prometheus.CounterVec // source: cache-valid | cache-history | fresh
}

// NewCollector 创建指标集合
func NewCollector(serviceName string) *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,

		CacheLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Fetch cache lookups by result (valid, history, miss).",
		}, []string{"result"}),

		DedupSharedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "dedup",
			Name:      "shared_total",
			Help:      "Sync calls that joined an already in-flight execution.",
		}),

		ProviderFetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "provider",
			Name:      "fetch_total",
			Help:      "HYPHEN provider fetches by outcome (ok, partial, failed, error).",
		}, []string{"outcome"}),

		ProviderFetchSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: serviceName,
			Subsystem: "provider",
			Name:      "fetch_duration_seconds",
			Help:      "HYPHEN provider fetch latency distribution.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}),

		PatchFetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "patch",
			Name:      "fetch_total",
			Help:      "Supplemental fetches issued for structurally missing sections.",
		}, []string{"target"}),

		SnapshotsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Subsystem: "sync",
			Name:      "snapshots_total",
			Help:      "Health data snapshots written, by source mode.",
		}, []string{"source"}),
	}
}

// Handler 暴露 /metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
