package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	transferredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ridesync",
		Subsystem: "pipeline",
		Name:      "activities_transferred_total",
		Help:      "Number of activities uploaded and committed to the ledger.",
	})

	skippedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ridesync",
		Subsystem: "pipeline",
		Name:      "activities_skipped_total",
		Help:      "Number of activities skipped because the ledger already held them.",
	})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ridesync",
		Subsystem: "pipeline",
		Name:      "activities_failed_total",
		Help:      "Number of per-activity failures grouped by pipeline stage.",
	}, []string{"stage"})

	lastTransferGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ridesync",
		Subsystem: "pipeline",
		Name:      "last_transfer_timestamp_seconds",
		Help:      "Unix timestamp of the most recent committed transfer.",
	})
)

func init() {
	prometheus.MustRegister(transferredCounter, skippedCounter, failedCounter, lastTransferGauge)
}

func recordTransferred(ts time.Time) {
	transferredCounter.Inc()
	if !ts.IsZero() {
		lastTransferGauge.Set(float64(ts.Unix()))
	}
}

func recordSkipped() {
	skippedCounter.Inc()
}

func recordFailed(stage Stage) {
	failedCounter.WithLabelValues(string(stage)).Inc()
}
