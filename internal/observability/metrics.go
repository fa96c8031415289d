package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "outreach_crm"

var (
	transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "transitions_total",
		Help:      "Single-contact pipeline mutations by operation and outcome.",
	}, []string{"operation", "outcome"})

	recomputeWarningsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "recompute_warnings_total",
		Help:      "Next-action recomputes that failed after a successful primary write.",
	})

	bulkContactsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "bulk_contacts_total",
		Help:      "Contacts touched by bulk operations by outcome.",
	}, []string{"outcome"})

	rulesReloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "reloads_total",
		Help:      "Follow-up rule catalog loads by outcome.",
	}, []string{"outcome"})

	rulesLoadedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rules",
		Name:      "last_reload_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful rule catalog load.",
	})

	changeFeedFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "changefeed",
		Name:      "publish_failures_total",
		Help:      "Change feed deliveries that failed by sink.",
	}, []string{"sink"})
)

func init() {
	prometheus.MustRegister(
		transitionsTotal,
		recomputeWarningsTotal,
		bulkContactsTotal,
		rulesReloadsTotal,
		rulesLoadedGauge,
		changeFeedFailuresTotal,
	)
}

// Outcome labels.
const (
	OutcomeOK         = "ok"
	OutcomeRejected   = "rejected"
	OutcomeFailed     = "failed"
	OutcomeWarning    = "warning"
	OutcomeUnknown    = "unknown"
	OutcomeRecomputed = "recomputed"
)

// RecordTransition counts a single-contact mutation.
func RecordTransition(operation, outcome string) {
	transitionsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordRecomputeWarning counts a derived-schedule failure.
func RecordRecomputeWarning() {
	recomputeWarningsTotal.Inc()
}

// RecordBulkContacts adds n contacts to the bulk outcome counter.
func RecordBulkContacts(outcome string, n int) {
	if n <= 0 {
		return
	}
	bulkContactsTotal.WithLabelValues(outcome).Add(float64(n))
}

// RecordRulesReload counts a catalog load and updates the watermark on success.
func RecordRulesReload(err error, ts time.Time) {
	if err != nil {
		rulesReloadsTotal.WithLabelValues(OutcomeFailed).Inc()
		return
	}
	rulesReloadsTotal.WithLabelValues(OutcomeOK).Inc()
	if !ts.IsZero() {
		rulesLoadedGauge.Set(float64(ts.Unix()))
	}
}

// RecordChangeFeedFailure counts a failed change feed delivery.
func RecordChangeFeedFailure(sink string) {
	changeFeedFailuresTotal.WithLabelValues(sink).Inc()
}
