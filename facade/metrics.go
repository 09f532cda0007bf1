package facade

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are registered once at package init against the default registry,
// mirroring the single-process-wide counters the design calls for (cache
// hit/miss, job duration/outcome, limit-rejection counts). A host process
// that wants a private registry can still scrape these through the default
// HTTP handler kopia itself never needed but prometheus/client_golang
// provides out of the box.
var (
	metricIdempotencyHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cloudvault",
		Subsystem: "facade",
		Name:      "idempotency_hits_total",
		Help:      "Requests served from the idempotency cache instead of re-running.",
	})

	metricIdempotencyMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cloudvault",
		Subsystem: "facade",
		Name:      "idempotency_misses_total",
		Help:      "Requests that ran fresh because no idempotency record was cached.",
	})

	metricAccessDenied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloudvault",
		Subsystem: "facade",
		Name:      "access_denied_total",
		Help:      "Requests rejected by the encrypted/hidden-folder access check, by operation.",
	}, []string{"operation"})

	metricLimitRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloudvault",
		Subsystem: "facade",
		Name:      "limit_rejections_total",
		Help:      "Multipart upload creations rejected by an upload-size or quota limit, by operation.",
	}, []string{"operation"})

	metricArchiveJobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cloudvault",
		Subsystem: "facade",
		Name:      "archive_job_duration_seconds",
		Help:      "Archive create/extract job wall-clock duration, by kind and outcome.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{"kind", "outcome"})
)
