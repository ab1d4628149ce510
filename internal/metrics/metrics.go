// Package metrics provides Prometheus metrics for dirsync.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Notification metrics
	rawEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirsync_raw_events_total",
			Help: "Raw change notifications received, by kind",
		},
		[]string{"kind"},
	)

	changesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirsync_changes_total",
			Help: "Decoded changes applied, by operation (discarded for non-children)",
		},
		[]string{"op"},
	)

	notifyOverflowsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dirsync_notify_overflows_total",
			Help: "Times the OS reported dropped change notifications",
		},
	)

	watchFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dirsync_watch_registration_failures_total",
			Help: "Directories that could not be monitored",
		},
	)

	resolutionFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dirsync_resolution_failures_total",
			Help: "Metadata re-reads that could not resolve the item path",
		},
	)

	applyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dirsync_apply_duration_seconds",
			Help:    "Time to reconcile one raw notification",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// Listing metrics
	itemsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dirsync_items",
			Help: "Live item records in the open session",
		},
	)

	totalSizeGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dirsync_total_size_bytes",
			Help: "Sum of item sizes in the open session",
		},
	)

	subscribersGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dirsync_subscribers",
			Help: "Active view-changed subscribers",
		},
	)

	// Column metrics
	columnRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirsync_column_requests_total",
			Help: "Column value computations queued, by column",
		},
		[]string{"column"},
	)

	columnResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirsync_column_results_total",
			Help: "Column value results, by outcome (ok, error, stale)",
		},
		[]string{"outcome"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRawEvent counts one raw notification.
func RecordRawEvent(kind string) {
	rawEventsTotal.WithLabelValues(kind).Inc()
}

// RecordChange counts one decoded change; op is "discarded" for dropped notifications.
func RecordChange(op string) {
	changesTotal.WithLabelValues(op).Inc()
}

// RecordNotifyOverflow counts an OS-side notification overflow.
func RecordNotifyOverflow() {
	notifyOverflowsTotal.Inc()
}

// RecordWatchFailure counts a failed watch registration.
func RecordWatchFailure() {
	watchFailuresTotal.Inc()
}

// RecordResolutionFailure counts a failed metadata re-read.
func RecordResolutionFailure() {
	resolutionFailuresTotal.Inc()
}

// ObserveApply records how long one notification took to reconcile.
func ObserveApply(d time.Duration) {
	applyDuration.Observe(d.Seconds())
}

// SetListing publishes the live item count and total size.
func SetListing(items int, totalSize uint64) {
	itemsGauge.Set(float64(items))
	totalSizeGauge.Set(float64(totalSize))
}

// RecordColumnRequest counts one queued column computation.
func RecordColumnRequest(column string) {
	columnRequestsTotal.WithLabelValues(column).Inc()
}

// RecordColumnResult counts one column result by outcome.
func RecordColumnResult(outcome string) {
	columnResultsTotal.WithLabelValues(outcome).Inc()
}

// SetSubscribers sets the number of active view-changed subscribers.
func SetSubscribers(n int) {
	subscribersGauge.Set(float64(n))
}
