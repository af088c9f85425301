package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the pipeline's Prometheus instruments.
type Metrics struct {
	Ingestions     *prometheus.CounterVec
	Renders        *prometheus.CounterVec
	Failures       *prometheus.CounterVec
	FacesDetected  prometheus.Counter
	FacesHidden    prometheus.Counter
	RequestsOpened prometheus.Counter
	RenderDuration prometheus.Histogram
	DetectDuration prometheus.Histogram
}

// NewMetrics registers the instruments with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ingestions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "photo_consent",
			Name:      "ingestions_total",
			Help:      "Photo ingestions by result.",
		}, []string{"result"}),
		Renders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "photo_consent",
			Name:      "renders_total",
			Help:      "Derived image renders by result.",
		}, []string{"result"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "photo_consent",
			Name:      "failures_total",
			Help:      "Pipeline failures by error code.",
		}, []string{"code"}),
		FacesDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "photo_consent",
			Name:      "faces_detected_total",
			Help:      "Faces persisted at ingestion.",
		}),
		FacesHidden: f.NewCounter(prometheus.CounterOpts{
			Namespace: "photo_consent",
			Name:      "faces_hidden_total",
			Help:      "Faces obscured across all renders.",
		}),
		RequestsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace: "photo_consent",
			Name:      "consent_requests_opened_total",
			Help:      "Consent requests created at ingestion or on preference change.",
		}),
		RenderDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "photo_consent",
			Name:      "render_duration_seconds",
			Help:      "Time to resolve, redact and store a derived image.",
			Buckets:   prometheus.DefBuckets,
		}),
		DetectDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "photo_consent",
			Name:      "detect_duration_seconds",
			Help:      "Time spent in the face detector.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
	}
}

func (m *Metrics) failure(err error) {
	if code := CodeOf(err); code != "" {
		m.Failures.WithLabelValues(string(code)).Inc()
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
