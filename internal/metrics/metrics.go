package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Downloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rangefetch",
			Name:      "downloads_total",
			Help:      "Finished downloads by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	BytesDownloaded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rangefetch",
			Name:      "bytes_downloaded_total",
			Help:      "Bytes written to destination files by transfer mode.",
		},
		[]string{"mode"},
	)

	SegmentRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rangefetch",
			Name:      "segment_retries_total",
			Help:      "Segment fetch attempts that were retried.",
		},
	)

	ProbeLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rangefetch",
			Name:      "probe_duration_seconds",
			Help:      "Time spent probing a resource, retries included.",
		},
	)

	ActiveDownloads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rangefetch",
			Name:      "active_downloads",
			Help:      "Downloads currently transferring.",
		},
	)
)

var registerOnce sync.Once

// Register registers the collectors into the default registry. Safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(Downloads, BytesDownloaded, SegmentRetries, ProbeLatency, ActiveDownloads)
	})
}
