package models

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	appKeyLabel = "app_key"
)

var (
	ingwazSessionCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "session_count",
		Help: "The number of sessions.",
	}, []string{appKeyLabel})

	ingwazSessionCountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "session_count_total",
		Help: "The total number of sessions.",
	}, []string{appKeyLabel})

	ingwazEntityCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "entity_count",
		Help: "The number of indexed entities.",
	}, []string{appKeyLabel})

	ingwazIndexNodeCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "index_node_count",
		Help: "The number of spatial index nodes.",
	}, []string{appKeyLabel})
)

func instrumentIncreaseSessionGauge(appKey string) {
	ingwazSessionCount.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Inc()
}

func instrumentDecreaseSessionGauge(appKey string) {
	ingwazSessionCount.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Dec()
}

func instrumentCountSession(appKey string) {
	ingwazSessionCountTotal.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Inc()
}

func instrumentIncreaseEntityGauge(appKey string) {
	ingwazEntityCount.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Inc()
}

func instrumentDecreaseEntityGauge(appKey string) {
	ingwazEntityCount.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Dec()
}

func instrumentAddIndexNodeGauge(appKey string, delta float64) {
	ingwazIndexNodeCount.
		With(prometheus.Labels{appKeyLabel: appKey}).
		Add(delta)
}
