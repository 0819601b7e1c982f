package changefeed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks change feed delivery.
type Metrics struct {
	Published     *prometheus.CounterVec
	PublishErrors *prometheus.CounterVec
	Lag           *prometheus.GaugeVec
}

// NewMetrics creates and registers the change feed metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Published: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sangue_changefeed_published_total",
			Help: "Changes delivered to subscribers by collection",
		}, []string{"collection"}),
		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sangue_changefeed_publish_errors_total",
			Help: "Failed change deliveries by collection",
		}, []string{"collection"}),
		Lag: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sangue_changefeed_lag",
			Help: "Changes read but not yet delivered in the last poll",
		}, []string{"collection"}),
	}
}

func (m *Metrics) IncrementPublished(collection string) {
	m.Published.WithLabelValues(collection).Inc()
}

func (m *Metrics) IncrementPublishErrors(collection string) {
	m.PublishErrors.WithLabelValues(collection).Inc()
}

func (m *Metrics) SetLag(collection string, lag int) {
	m.Lag.WithLabelValues(collection).Set(float64(lag))
}
