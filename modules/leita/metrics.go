package leita

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	queryKindLabel = "query_kind"
	appKeyLabel    = "app_key"

	regionQueryKind = "region"
	radiusQueryKind = "radius"
	statsQueryKind  = "stats"
)

var (
	leitaQueryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leita_query_count",
		Help: "The number of served spatial queries.",
	}, []string{queryKindLabel})

	leitaQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "leita_query_latency",
		Help: "The time to serve a spatial query.",
	}, []string{queryKindLabel})

	leitaWatchCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "leita_watch_count",
		Help: "The number of registered region watches.",
	}, []string{appKeyLabel})
)

func instrumentQuery(kind string, start time.Time) {
	leitaQueryCount.
		With(prometheus.Labels{queryKindLabel: kind}).
		Inc()
	leitaQueryLatency.
		With(prometheus.Labels{queryKindLabel: kind}).
		Observe(time.Since(start).Seconds())
}

func instrumentIncreaseWatchGauge(appKey string) {
	leitaWatchCount.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Inc()
}

func instrumentDecreaseWatchGauge(appKey string, count int) {
	leitaWatchCount.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Sub(float64(count))
}
