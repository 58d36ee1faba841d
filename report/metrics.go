package report

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const errTypeLabel = "error_type"

var (
	reportSendCount = promauto.NewCounter(prometheus.CounterOpts{
		Name: "report_send",
		Help: "The number of session usage reports sent to the registry.",
	})

	reportSendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_send_errors",
		Help: "The number of errors that occurred while sending session usage reports.",
	}, []string{errTypeLabel})

	reportSendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "report_send_latency",
		Help: "The time to send a session usage report to the registry.",
	})

	reportVerificationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "report_verification_errors",
		Help: "The number of registry ack signatures that failed verification.",
	}, []string{errTypeLabel})
)

func instrumentReportSend(start time.Time) {
	reportSendCount.Inc()
	reportSendLatency.Observe(time.Since(start).Seconds())
}

func instrumentReportSendError(err error) {
	reportSendErrors.With(prometheus.Labels{
		errTypeLabel: errors.Type(err),
	}).Inc()
}

func instrumentReportVerificationError(err error) {
	reportVerificationErrors.With(prometheus.Labels{
		errTypeLabel: errors.Type(err),
	}).Inc()
}
