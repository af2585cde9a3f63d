package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mergesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfmerger",
			Name:      "merges_total",
			Help:      "Total merge requests by strategy and result (success, failed, busy, insufficient)",
		},
		[]string{"strategy", "result"},
	)

	mergeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pdfmerger",
			Name:      "merge_duration_seconds",
			Help:      "Duration of completed merges by strategy",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	pagesMerged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfmerger",
			Name:      "pages_merged_total",
			Help:      "Pages appended to merged documents by strategy",
		},
		[]string{"strategy"},
	)

	filesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pdfmerger",
			Name:      "files_rejected_total",
			Help:      "Files refused by the collection by reason (too_large, duplicate, decode)",
		},
		[]string{"reason"},
	)

	queueFiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pdfmerger",
			Name:      "queue_files",
			Help:      "Documents in the most recently mutated queue",
		},
	)

	queuePages = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pdfmerger",
			Name:      "queue_pages",
			Help:      "Pages in the most recently mutated queue",
		},
	)
)

// Init registers collectors.
func Init() {
	prometheus.MustRegister(mergesTotal, mergeDuration, pagesMerged, filesRejected, queueFiles, queuePages)
}

// Handler returns the http.Handler for /metrics
func Handler() http.Handler { return promhttp.Handler() }

// ObserveMerge records a finished merge attempt. dur is only observed for successes.
func ObserveMerge(strategy, result string, dur time.Duration) {
	mergesTotal.WithLabelValues(strategy, result).Inc()
	if result == "success" {
		mergeDuration.WithLabelValues(strategy).Observe(dur.Seconds())
	}
}

func AddPages(strategy string, n int) { pagesMerged.WithLabelValues(strategy).Add(float64(n)) }
func IncRejected(reason string)     { filesRejected.WithLabelValues(reason).Inc() }

func SetQueue(files, pages int) {
	queueFiles.Set(float64(files))
	queuePages.Set(float64(pages))
}
