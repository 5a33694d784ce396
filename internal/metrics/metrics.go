package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansStarted tracks scans accepted by the controller, by resolved scanner mode
	ScansStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docscan_scans_started_total",
			Help: "Total number of scans started by scanner mode",
		},
		[]string{"mode"},
	)

	// ScansRejected tracks scan requests refused before a session was created
	ScansRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docscan_scans_rejected_total",
			Help: "Total number of scan requests rejected by reason",
		},
		[]string{"reason"},
	)

	// ScansFinished tracks terminal scan results
	ScansFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docscan_scans_finished_total",
			Help: "Total number of scans finished by status",
		},
		[]string{"status"},
	)

	// PagesProcessed tracks pages run through post-processing
	PagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docscan_pages_processed_total",
			Help: "Total number of scanned pages post-processed by outcome",
		},
		[]string{"format", "status"},
	)

	// PageProcessingDuration tracks post-processing time per page in seconds
	PageProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docscan_page_processing_duration_seconds",
			Help:    "Duration of scanned page post-processing in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"format"},
	)
)

// RecordScanStarted records an accepted scan
func RecordScanStarted(mode string) {
	ScansStarted.WithLabelValues(mode).Inc()
}

// RecordScanRejected records a refused scan request
func RecordScanRejected(reason string) {
	ScansRejected.WithLabelValues(reason).Inc()
}

// RecordScanFinished records a terminal scan result
func RecordScanFinished(status string) {
	ScansFinished.WithLabelValues(status).Inc()
}

// RecordPageProcessed records one post-processed page and how long it took
func RecordPageProcessed(format, status string, seconds float64) {
	PagesProcessed.WithLabelValues(format, status).Inc()
	PageProcessingDuration.WithLabelValues(format).Observe(seconds)
}
